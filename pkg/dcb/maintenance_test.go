package dcb_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rdpk/filedcb/pkg/dcb"
)

var _ = Describe("Maintenance", func() {
	var (
		ctx   context.Context
		store *dcb.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = openTestStore("catalog")
	})

	Describe("AddTags", func() {
		It("backfills a tag onto every event of a type and indexes it", func() {
			_, err := store.Append(ctx, "catalog", []dcb.InputEvent{
				{EventType: "ItemListed", Tags: dcb.NewTags("item_id", "I1")},
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Append(ctx, "catalog", []dcb.InputEvent{
				{EventType: "ItemListed", Tags: dcb.NewTags("item_id", "I2")},
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			added, processed, err := store.AddTags(ctx, "catalog", "ItemListed", dcb.NewTags("catalog_version", "v2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(Equal(2))
			Expect(processed).To(Equal(2))

			events, err := store.Read(ctx, "catalog", dcb.NewQuery(dcb.NewTags("catalog_version", "v2")), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
		})

		It("is idempotent: running twice adds nothing the second time", func() {
			_, err := store.Append(ctx, "catalog", []dcb.InputEvent{
				{EventType: "ItemListed", Tags: dcb.NewTags("item_id", "I1")},
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			_, _, err = store.AddTags(ctx, "catalog", "ItemListed", dcb.NewTags("catalog_version", "v2"))
			Expect(err).NotTo(HaveOccurred())

			added, processed, err := store.AddTags(ctx, "catalog", "ItemListed", dcb.NewTags("catalog_version", "v2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(Equal(0))
			Expect(processed).To(Equal(1))

			events, err := store.Read(ctx, "catalog", dcb.NewQuery(dcb.NewTags("catalog_version", "v2")), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
		})

		It("leaves events of other types untouched", func() {
			_, err := store.Append(ctx, "catalog", []dcb.InputEvent{
				{EventType: "ItemRemoved", Tags: dcb.NewTags("item_id", "I9")},
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			_, _, err = store.AddTags(ctx, "catalog", "ItemListed", dcb.NewTags("catalog_version", "v2"))
			Expect(err).NotTo(HaveOccurred())

			events, err := store.Read(ctx, "catalog", dcb.NewQuery(dcb.NewTags("catalog_version", "v2")), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(BeEmpty())
		})
	})

	Describe("DeleteStore", func() {
		It("wipes all events and lazily recreates a usable skeleton", func() {
			_, err := store.Append(ctx, "catalog", []dcb.InputEvent{
				{EventType: "ItemListed", Tags: dcb.NewTags("item_id", "I1")},
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.DeleteStore("catalog")).To(Succeed())

			events, err := store.Read(ctx, "catalog", dcb.QueryAll(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(BeEmpty())

			pos, err := store.Append(ctx, "catalog", []dcb.InputEvent{
				{EventType: "ItemListed", Tags: dcb.NewTags("item_id", "I2")},
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(pos).To(Equal(int64(1)))
		})
	})
})
