package dcb_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rdpk/filedcb/pkg/dcb"
)

var _ = Describe("Read and query evaluation", func() {
	var (
		ctx   context.Context
		store *dcb.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = openTestStore("inv")
	})

	It("returns a committed event's position from both a type read and a tag read", func() {
		pos, err := store.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "InvoiceCreated", Tags: dcb.NewTags("invoice_id", "INV-1")},
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		byType, err := store.Read(ctx, "inv", dcb.NewQuery(nil, "InvoiceCreated"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(positionsOf(byType)).To(ContainElement(pos))

		byTag, err := store.Read(ctx, "inv", dcb.NewQuery(dcb.NewTags("invoice_id", "INV-1")), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(positionsOf(byTag)).To(ContainElement(pos))
	})

	It("unions items and ORs them together", func() {
		_, err := store.Append(ctx, "inv", []dcb.InputEvent{{EventType: "A", Tags: dcb.NewTags("k", "1")}}, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Append(ctx, "inv", []dcb.InputEvent{{EventType: "B", Tags: dcb.NewTags("k", "2")}}, nil)
		Expect(err).NotTo(HaveOccurred())

		q := dcb.NewQueryFromItems(
			dcb.NewQueryItem([]string{"A"}, nil),
			dcb.NewQueryItem([]string{"B"}, nil),
		)
		events, err := store.Read(ctx, "inv", q, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
	})

	It("reads descending when requested", func() {
		for i := 0; i < 3; i++ {
			_, err := store.Append(ctx, "inv", []dcb.InputEvent{{EventType: "A"}}, nil)
			Expect(err).NotTo(HaveOccurred())
		}
		events, err := store.Read(ctx, "inv", dcb.NewQuery(nil, "A"), &dcb.ReadOptions{Direction: dcb.Descending})
		Expect(err).NotTo(HaveOccurred())
		Expect(positionsOf(events)).To(Equal([]int64{3, 2, 1}))
	})

	// ReadLast on a type with many events returns the highest position
	// of that type.
	It("returns the last position of a type from ReadLast after a large batch", func() {
		const n = 500
		events := make([]dcb.InputEvent, n)
		for i := range events {
			events[i] = dcb.InputEvent{EventType: "Ping", Tags: dcb.NewTags("seq", fmt.Sprintf("%d", i))}
		}
		_, err := store.Append(ctx, "inv", events, nil)
		Expect(err).NotTo(HaveOccurred())

		last, ok, err := store.ReadLast(ctx, "inv", dcb.NewQuery(nil, "Ping"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(last.Position).To(Equal(int64(n)))
	})

	// The typed fast path touches the type index tail and loads exactly
	// one event file no matter how many events of the type exist.
	It("performs exactly one event-file load for a typed ReadLast", func() {
		registry := prometheus.NewRegistry()
		counted, err := dcb.Open(dcb.StoreConfig{
			RootPath:   GinkgoT().TempDir(),
			Contexts:   []string{"inv"},
			Registerer: registry,
		})
		Expect(err).NotTo(HaveOccurred())

		const n = 10000
		batch := make([]dcb.InputEvent, n)
		for i := range batch {
			batch[i] = dcb.InputEvent{EventType: "Ping", Tags: dcb.NewTags("seq", fmt.Sprintf("%d", i))}
		}
		_, err = counted.Append(ctx, "inv", batch, nil)
		Expect(err).NotTo(HaveOccurred())

		before := eventFileLoads(registry)
		last, ok, err := counted.ReadLast(ctx, "inv", dcb.NewQuery(nil, "Ping"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(last.Position).To(Equal(int64(n)))
		Expect(eventFileLoads(registry) - before).To(Equal(1.0))
	})

	It("reports no result from ReadLast on an empty context", func() {
		_, ok, err := store.ReadLast(ctx, "inv", dcb.NewQuery(nil, "Nothing"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("resolves ReadLast(Query.All()) via the ledger head", func() {
		_, err := store.Append(ctx, "inv", []dcb.InputEvent{{EventType: "A"}}, nil)
		Expect(err).NotTo(HaveOccurred())
		pos, err := store.Append(ctx, "inv", []dcb.InputEvent{{EventType: "B"}}, nil)
		Expect(err).NotTo(HaveOccurred())

		last, ok, err := store.ReadLast(ctx, "inv", dcb.QueryAll())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(last.Position).To(Equal(pos))
	})

	It("preserves ascending order with ParallelRead enabled", func() {
		parallel, err := dcb.Open(dcb.StoreConfig{
			RootPath:     GinkgoT().TempDir(),
			Contexts:     []string{"inv"},
			ParallelRead: true,
		})
		Expect(err).NotTo(HaveOccurred())

		const n = 100
		batch := make([]dcb.InputEvent, n)
		for i := range batch {
			batch[i] = dcb.InputEvent{EventType: "Ping", Tags: dcb.NewTags("seq", fmt.Sprintf("%d", i))}
		}
		_, err = parallel.Append(ctx, "inv", batch, nil)
		Expect(err).NotTo(HaveOccurred())

		events, err := parallel.Read(ctx, "inv", dcb.NewQuery(nil, "Ping"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(n))
		for i, se := range events {
			Expect(se.Position).To(Equal(int64(i + 1)))
		}
	})

	// Two goroutines race read-decide-append loops guarded by the
	// invoice-numbering query; after enough successful commits the
	// observed numbers form a gapless, duplicate-free run.
	It("assigns gapless consecutive invoice numbers under concurrent contention", func() {
		const target = 200
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			committed int
		)

		worker := func() {
			defer wg.Done()
			for {
				mu.Lock()
				if committed >= target {
					mu.Unlock()
					return
				}
				mu.Unlock()

				last, ok, err := store.ReadLast(ctx, "inv", dcb.NewQuery(nil, "InvoiceCreated"))
				Expect(err).NotTo(HaveOccurred())

				next := 1
				var floor *int64
				if ok {
					var n int
					fmt.Sscanf(string(last.Event.Payload), "%d", &n)
					next = n + 1
					floor = &last.Position
				}

				condition := dcb.AppendCondition{FailIfEventsMatch: dcb.NewQuery(nil, "InvoiceCreated")}
				if floor != nil {
					c := condition.After(*floor)
					condition = c
				}
				_, err = store.Append(ctx, "inv", []dcb.InputEvent{
					{EventType: "InvoiceCreated", Payload: []byte(fmt.Sprintf("%d", next))},
				}, &condition)
				if err != nil {
					if dcb.IsAppendConditionFailed(err) {
						continue
					}
					Expect(err).NotTo(HaveOccurred())
				}

				mu.Lock()
				committed++
				mu.Unlock()
			}
		}

		wg.Add(2)
		go worker()
		go worker()
		wg.Wait()

		events, err := store.Read(ctx, "inv", dcb.NewQuery(nil, "InvoiceCreated"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(target))

		seen := make([]int, 0, target)
		for _, se := range events {
			var n int
			fmt.Sscanf(string(se.Event.Payload), "%d", &n)
			seen = append(seen, n)
		}
		sort.Ints(seen)
		for i, n := range seen {
			Expect(n).To(Equal(i + 1))
		}
	})
})

func eventFileLoads(registry *prometheus.Registry) float64 {
	families, err := registry.Gather()
	Expect(err).NotTo(HaveOccurred())
	for _, mf := range families {
		if mf.GetName() != "dcb_event_file_loads_total" {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func positionsOf(events []dcb.SequencedEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Position
	}
	return out
}
