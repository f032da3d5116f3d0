package dcb_test

import (
	. "github.com/onsi/ginkgo/v2"

	"github.com/rdpk/filedcb/pkg/dcb"
)

func openTestStore(contexts ...string) *dcb.Store {
	if len(contexts) == 0 {
		contexts = []string{"default"}
	}
	store, err := dcb.Open(dcb.StoreConfig{
		RootPath:               GinkgoT().TempDir(),
		Contexts:               contexts,
		FlushEventsImmediately: true,
	})
	if err != nil {
		panic(err)
	}
	return store
}
