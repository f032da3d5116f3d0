package dcb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics holds the Prometheus collectors a Store registers
// against a caller-supplied Registerer. Store.metrics is nil whenever
// StoreConfig.Registerer is nil, and every call site guards on that.
type storeMetrics struct {
	appendsTotal               *prometheus.CounterVec
	appendConditionFailedTotal *prometheus.CounterVec
	ledgerPosition             *prometheus.GaugeVec
	indexSkippedMissingTotal   *prometheus.CounterVec
	eventFileLoadsTotal        *prometheus.CounterVec
	projectionCheckpoint       *prometheus.GaugeVec
}

func newStoreMetrics(reg prometheus.Registerer) (*storeMetrics, error) {
	factory := promauto.With(reg)
	return &storeMetrics{
		appendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_appends_total",
			Help: "Events successfully appended, by context.",
		}, []string{"context"}),
		appendConditionFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_append_condition_failed_total",
			Help: "Append calls rejected by an append condition, by context.",
		}, []string{"context"}),
		ledgerPosition: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcb_ledger_position",
			Help: "Current ledger high-water position, by context.",
		}, []string{"context"}),
		indexSkippedMissingTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_index_skipped_missing_total",
			Help: "Index entries that pointed at a missing event file and were skipped, by context.",
		}, []string{"context"}),
		eventFileLoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_event_file_loads_total",
			Help: "Event files loaded from disk, by context.",
		}, []string{"context"}),
		projectionCheckpoint: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcb_projection_checkpoint",
			Help: "Current checkpoint position of a projection, by context and projection name.",
		}, []string{"context", "projection"}),
	}, nil
}

func (m *storeMetrics) appended(context string, n int) {
	if m == nil {
		return
	}
	m.appendsTotal.WithLabelValues(context).Add(float64(n))
}

func (m *storeMetrics) appendConditionFailed(context string) {
	if m == nil {
		return
	}
	m.appendConditionFailedTotal.WithLabelValues(context).Inc()
}

func (m *storeMetrics) setLedgerPosition(context string, position int64) {
	if m == nil {
		return
	}
	m.ledgerPosition.WithLabelValues(context).Set(float64(position))
}

func (m *storeMetrics) indexSkippedMissing(context string) {
	if m == nil {
		return
	}
	m.indexSkippedMissingTotal.WithLabelValues(context).Inc()
}

func (m *storeMetrics) eventFileLoaded(context string) {
	if m == nil {
		return
	}
	m.eventFileLoadsTotal.WithLabelValues(context).Inc()
}

func (m *storeMetrics) unregister(reg prometheus.Registerer) {
	reg.Unregister(m.appendsTotal)
	reg.Unregister(m.appendConditionFailedTotal)
	reg.Unregister(m.ledgerPosition)
	reg.Unregister(m.indexSkippedMissingTotal)
	reg.Unregister(m.eventFileLoadsTotal)
	reg.Unregister(m.projectionCheckpoint)
}

func (m *storeMetrics) setProjectionCheckpoint(context, projection string, position int64) {
	if m == nil {
		return
	}
	m.projectionCheckpoint.WithLabelValues(context, projection).Set(float64(position))
}
