package dcb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rdpk/filedcb/internal/fsutil"
	"github.com/rs/zerolog"
	"go.jetify.com/typeid"
)

const (
	eventsSubdir         = "Events"
	indicesSubdir        = "Indices"
	eventTypeIndexSubdir = "EventType"
	tagIndexSubdir       = "Tags"
	projectionsSubdir    = "Projections"
)

// contextHandle owns one context's ledger and writer lock, rather than
// threading that state through package-level globals. Open creates one
// for every configured context and the Store keeps it until Close.
type contextHandle struct {
	name string
	dir  string

	eventsDir      string
	projectionsDir string

	eventTypeIndex *index
	tagIndex       *index

	mu     sync.Mutex
	ledger *ledger

	cfg     StoreConfig
	log     zerolog.Logger
	metrics *storeMetrics
}

func openContext(cfg StoreConfig, name string, metrics *storeMetrics) (*contextHandle, error) {
	dir := filepath.Join(cfg.RootPath, name)
	h := &contextHandle{
		name:           name,
		dir:            dir,
		eventsDir:      filepath.Join(dir, eventsSubdir),
		projectionsDir: filepath.Join(dir, projectionsSubdir),
		eventTypeIndex: newIndex(filepath.Join(dir, indicesSubdir, eventTypeIndexSubdir)),
		tagIndex:       newIndex(filepath.Join(dir, indicesSubdir, tagIndexSubdir)),
		cfg:            cfg,
		log:            cfg.logger().With().Str("context", name).Logger(),
		metrics:        metrics,
	}
	if err := h.ensureSkeleton(); err != nil {
		return nil, err
	}
	l, err := openLedger(h.dir)
	if err != nil {
		return nil, err
	}
	if err := l.recover(h.eventsDir, cfg.FlushEventsImmediately, h.log); err != nil {
		return nil, err
	}
	h.ledger = l
	if h.metrics != nil {
		h.metrics.setLedgerPosition(name, l.last)
	}
	return h, nil
}

// ensureSkeleton lazily (re)creates the directory tree a context needs.
// Called at open time and again after DeleteStore, which removes it.
func (h *contextHandle) ensureSkeleton() error {
	for _, dir := range []string{
		h.dir,
		h.eventsDir,
		filepath.Join(h.dir, indicesSubdir, eventTypeIndexSubdir),
		filepath.Join(h.dir, indicesSubdir, tagIndexSubdir),
		h.projectionsDir,
	} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return newIOFailure("store.ensureSkeleton", dir, err)
		}
	}
	return nil
}

func (h *contextHandle) ledgerHead() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ledger.last
}

// Store is the top-level handle for a rooted group of contexts.
type Store struct {
	cfg      StoreConfig
	metrics  *storeMetrics
	log      zerolog.Logger
	mu       sync.Mutex
	contexts map[string]*contextHandle

	// projections is contextName -> projection name -> runtime. Nil
	// until the first RegisterProjection call.
	projections map[string]map[string]*projectionRuntime
}

// Open validates cfg and returns a Store with every configured context's
// directory skeleton created (or verified) and its ledger recovered.
// Configuration errors are reported here and only here, never during
// Append/Read.
func Open(cfg StoreConfig) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:      cfg,
		log:      cfg.logger(),
		contexts: make(map[string]*contextHandle, len(cfg.Contexts)),
	}
	if cfg.Registerer != nil {
		m, err := newStoreMetrics(cfg.Registerer)
		if err != nil {
			return nil, newValidation("Open", "Registerer", "", err)
		}
		s.metrics = m
	}
	for _, name := range cfg.Contexts {
		h, err := openContext(cfg, name, s.metrics)
		if err != nil {
			return nil, err
		}
		s.contexts[name] = h
	}
	return s, nil
}

// context looks up an already-configured context handle, recreating its
// on-disk skeleton lazily if a prior DeleteStore removed it.
func (s *Store) context(name string) (*contextHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.contexts[name]
	if !ok {
		return nil, newValidation("Store.context", "context", name, fmt.Errorf("not configured on this Store"))
	}
	if err := h.ensureSkeleton(); err != nil {
		return nil, err
	}
	return h, nil
}

// Close releases the Store's context handles and unregisters its
// metrics from the configured Registerer. The Store is unusable
// afterwards; on-disk state is untouched. Close flushes nothing: appends
// are fsynced at commit time only when FlushEventsImmediately is set.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = nil
	s.projections = nil
	if s.metrics != nil && s.cfg.Registerer != nil {
		s.metrics.unregister(s.cfg.Registerer)
	}
	s.metrics = nil
}

func newEventID() string {
	tid, err := typeid.WithPrefix("evt")
	if err != nil {
		return "evt_" + time.Now().UTC().Format(time.RFC3339Nano)
	}
	return tid.String()
}

// Append commits one or more events to contextName under the given
// condition (nil means unconditional). All-or-nothing: either every
// event lands at a contiguous block of new positions, or none do.
func (s *Store) Append(ctx context.Context, contextName string, events []InputEvent, condition *AppendCondition) (int64, error) {
	h, err := s.context(contextName)
	if err != nil {
		return 0, err
	}
	return h.append(ctx, events, condition)
}

func (h *contextHandle) append(ctx context.Context, events []InputEvent, condition *AppendCondition) (int64, error) {
	if len(events) == 0 {
		return 0, newValidation("append", "events", "", fmt.Errorf("must not be empty"))
	}
	for i, e := range events {
		if e.EventType == "" && e.PayloadType == "" {
			return 0, newValidation("append", fmt.Sprintf("events[%d].EventType", i), "", fmt.Errorf("EventType or PayloadType required"))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, newCancelled("append.guard", err)
	}

	if condition != nil {
		matched, pos, err := h.evaluateGuard(condition.FailIfEventsMatch, condition.AfterSequencePosition)
		if err != nil {
			return 0, err
		}
		if matched {
			if h.metrics != nil {
				h.metrics.appendConditionFailed(h.name)
			}
			h.log.Debug().Int64("matched_position", pos).Msg("append condition failed")
			return 0, newAppendConditionFailed("append", pos)
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, newCancelled("append.reserve", err)
	}
	start, end := h.ledger.reserve(len(events))

	now := time.Now().UTC()
	resolved := make([]Event, len(events))
	for i, e := range events {
		eventType := e.EventType
		if eventType == "" {
			eventType = e.PayloadType
		}
		meta := e.Metadata
		meta.OccurredAt = now
		if meta.CorrelationID == "" {
			meta.CorrelationID = newEventID()
		}
		if meta.CausationID == "" {
			meta.CausationID = meta.CorrelationID
		}
		resolved[i] = Event{
			ID:          newEventID(),
			Position:    start + int64(i),
			EventType:   eventType,
			Tags:        e.Tags,
			PayloadType: e.PayloadType,
			Payload:     e.Payload,
			Metadata:    meta,
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, newCancelled("append.write", err)
	}
	for _, e := range resolved {
		if err := writeEventFile(h.eventsDir, e.Position, e, h.cfg.FlushEventsImmediately, h.cfg.WriteProtectEventFiles); err != nil {
			return 0, err
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, newCancelled("append.index", err)
	}
	for _, e := range resolved {
		if err := h.eventTypeIndex.append(fsutil.EncodeEventTypeFilename(e.EventType), e.Position, h.cfg.FlushEventsImmediately); err != nil {
			return 0, err
		}
		for _, t := range e.Tags {
			if err := h.tagIndex.append(fsutil.EncodeTagFilename(t.Key, t.Value), e.Position, h.cfg.FlushEventsImmediately); err != nil {
				return 0, err
			}
		}
	}

	// Cancellation after this point is ignored: the write has
	// succeeded in every durable sense except the ledger bump, and
	// recovery would reconcile it as committed anyway, so failing the
	// caller here would be a lie.
	if err := h.ledger.commit(end, h.cfg.FlushEventsImmediately); err != nil {
		return 0, err
	}
	if h.metrics != nil {
		h.metrics.appended(h.name, len(events))
		h.metrics.setLedgerPosition(h.name, end)
	}
	h.log.Debug().Int64("start", start).Int64("end", end).Msg("appended events")
	return end, nil
}

// evaluateGuard reports whether any event at a position > floor (or any
// position at all, when floor is nil) matches q. Called with h.mu held,
// so the ledger head is read directly rather than through ledgerHead.
func (h *contextHandle) evaluateGuard(q Query, floor *int64) (matched bool, matchedPosition int64, err error) {
	positions, err := h.candidatePositionsWithHead(q, h.ledger.last)
	if err != nil {
		return false, 0, err
	}
	var lowerBound int64
	if floor != nil {
		lowerBound = *floor
	}
	for _, p := range positions {
		if p <= lowerBound {
			continue
		}
		e, ok, err := h.loadEvent(p)
		if err != nil {
			return false, 0, err
		}
		if !ok {
			h.log.Warn().Int64("position", p).Msg("index references a missing event file; skipping")
			if h.metrics != nil {
				h.metrics.indexSkippedMissing(h.name)
			}
			continue
		}
		if q.matches(e) {
			return true, p, nil
		}
	}
	return false, 0, nil
}
