package dcb_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rdpk/filedcb/pkg/dcb"
)

var _ = Describe("Crash recovery", func() {
	var (
		ctx  context.Context
		root string
	)

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
	})

	open := func() *dcb.Store {
		store, err := dcb.Open(dcb.StoreConfig{
			RootPath:               root,
			Contexts:               []string{"inv"},
			FlushEventsImmediately: true,
		})
		Expect(err).NotTo(HaveOccurred())
		return store
	}

	// An append that wrote its event file but crashed before the ledger
	// commit: on reopen the ledger advances to cover the file, the next
	// append continues past it, and the event is readable by position.
	It("adopts an event file committed past the recorded ledger position", func() {
		store := open()
		pos, err := store.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "InvoiceCreated", Tags: dcb.NewTags("invoice_id", "INV-1")},
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(pos).To(Equal(int64(1)))

		// Simulate the crash window: the event file for position 2 is on
		// disk but neither the ledger nor the indices ever heard of it.
		orphan := []byte(`{"id":"evt_orphan","event_type":"InvoiceCreated","tags":[{"Key":"invoice_id","Value":"INV-2"}],"payload_type":"","payload":null,"occurred_at":"2026-01-02T03:04:05Z"}`)
		Expect(os.WriteFile(filepath.Join(root, "inv", "Events", "2.evt"), orphan, 0o644)).To(Succeed())
		store.Close()

		reopened := open()

		pos, err = reopened.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "InvoiceCreated", Tags: dcb.NewTags("invoice_id", "INV-3")},
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(pos).To(Equal(int64(3)))

		adopted, err := reopened.GetEvent(ctx, "inv", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(adopted.EventType).To(Equal("InvoiceCreated"))

		all, err := reopened.Read(ctx, "inv", dcb.QueryAll(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(positionsOf(all)).To(Equal([]int64{1, 2, 3}))
	})

	// Positions reserved but never written stay as gaps: readers skip
	// them, the ledger keeps its high-water mark, and new appends land
	// past the gap.
	It("skips a reserved-but-never-written position on read", func() {
		store := open()
		_, err := store.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "InvoiceCreated", Tags: dcb.NewTags("invoice_id", "INV-1")},
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		// A crash between reserve and write leaves the ledger ahead of
		// the files.
		Expect(os.WriteFile(filepath.Join(root, "inv", ".ledger"), []byte("3"), 0o644)).To(Succeed())
		store.Close()

		reopened := open()

		all, err := reopened.Read(ctx, "inv", dcb.QueryAll(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(positionsOf(all)).To(Equal([]int64{1}))

		pos, err := reopened.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "InvoiceCreated", Tags: dcb.NewTags("invoice_id", "INV-4")},
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(pos).To(Equal(int64(4)))
	})
})

var _ = Describe("Unrestricted append guards", func() {
	var (
		ctx   context.Context
		store *dcb.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = openTestStore("inv")
	})

	It("lets a Query.All() guard pass on an empty context and fail once anything exists", func() {
		condition := dcb.NewAppendCondition(dcb.QueryAll())

		pos, err := store.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "StoreInitialized"},
		}, &condition)
		Expect(err).NotTo(HaveOccurred())
		Expect(pos).To(Equal(int64(1)))

		_, err = store.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "StoreInitialized"},
		}, &condition)
		Expect(err).To(HaveOccurred())
		Expect(dcb.IsAppendConditionFailed(err)).To(BeTrue())
	})

	It("only sees events past the floor with a Query.All() guard", func() {
		pos, err := store.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "InvoiceCreated"},
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		condition := dcb.NewAppendCondition(dcb.QueryAll()).After(pos)
		_, err = store.Append(ctx, "inv", []dcb.InputEvent{
			{EventType: "InvoiceCreated"},
		}, &condition)
		Expect(err).NotTo(HaveOccurred())
	})
})
