package dcb_test

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rdpk/filedcb/pkg/dcb"
)

func noRetry() func() backoff.BackOff {
	return func() backoff.BackOff { return &backoff.StopBackOff{} }
}

var _ = Describe("ExecuteDecision", func() {
	var (
		ctx   context.Context
		store *dcb.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = openTestStore("counters")
	})

	q := dcb.NewQuery(nil, "CounterIncremented")

	It("succeeds on the first attempt when nothing contends", func() {
		result := store.ExecuteDecision(ctx, "counters", q,
			func(ctx context.Context, events []dcb.SequencedEvent) ([]dcb.InputEvent, error) {
				return []dcb.InputEvent{{EventType: "CounterIncremented"}}, nil
			}, noRetry())

		Expect(result.Outcome).To(Equal(dcb.DecisionSucceeded))
		Expect(result.Attempts).To(Equal(1))
		Expect(result.Position).To(Equal(int64(1)))
	})

	It("returns DecisionFatal when decide returns an error", func() {
		result := store.ExecuteDecision(ctx, "counters", q,
			func(ctx context.Context, events []dcb.SequencedEvent) ([]dcb.InputEvent, error) {
				return nil, fmt.Errorf("boom")
			}, noRetry())

		Expect(result.Outcome).To(Equal(dcb.DecisionFatal))
		Expect(result.Err).To(HaveOccurred())
	})

	It("returns DecisionSucceeded with no append when decide proposes nothing", func() {
		result := store.ExecuteDecision(ctx, "counters", q,
			func(ctx context.Context, events []dcb.SequencedEvent) ([]dcb.InputEvent, error) {
				return nil, nil
			}, noRetry())

		Expect(result.Outcome).To(Equal(dcb.DecisionSucceeded))
		Expect(result.Position).To(Equal(int64(0)))
	})

	It("retries past a concurrent append-condition failure and succeeds with fresh state", func() {
		attempt := 0
		result := store.ExecuteDecision(ctx, "counters", q,
			func(ctx context.Context, events []dcb.SequencedEvent) ([]dcb.InputEvent, error) {
				attempt++
				if attempt == 1 {
					// Simulate a concurrent writer landing between this
					// read and the guarded append below.
					_, err := store.Append(ctx, "counters", []dcb.InputEvent{
						{EventType: "CounterIncremented"},
					}, nil)
					Expect(err).NotTo(HaveOccurred())
				}
				return []dcb.InputEvent{{EventType: "CounterIncremented"}}, nil
			},
			func() backoff.BackOff {
				b := backoff.NewConstantBackOff(time.Millisecond)
				return b
			},
		)

		Expect(result.Outcome).To(Equal(dcb.DecisionSucceeded))
		Expect(result.Attempts).To(BeNumerically(">=", 2))
	})

	It("reports DecisionConditionFailed once retries are exhausted", func() {
		_, err := store.Append(ctx, "counters", []dcb.InputEvent{{EventType: "CounterIncremented"}}, nil)
		Expect(err).NotTo(HaveOccurred())

		result := store.ExecuteDecision(ctx, "counters", q,
			func(ctx context.Context, events []dcb.SequencedEvent) ([]dcb.InputEvent, error) {
				// Always race against a position the guard has already
				// moved past, forcing AppendConditionFailed every time.
				_, err := store.Append(ctx, "counters", []dcb.InputEvent{
					{EventType: "CounterIncremented"},
				}, nil)
				Expect(err).NotTo(HaveOccurred())
				return []dcb.InputEvent{{EventType: "CounterIncremented"}}, nil
			}, noRetry())

		Expect(result.Outcome).To(Equal(dcb.DecisionConditionFailed))
		Expect(dcb.IsAppendConditionFailed(result.Err)).To(BeTrue())
	})

	It("reports DecisionTimedOut when the context is already cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		result := store.ExecuteDecision(cancelled, "counters", q,
			func(ctx context.Context, events []dcb.SequencedEvent) ([]dcb.InputEvent, error) {
				return []dcb.InputEvent{{EventType: "CounterIncremented"}}, nil
			}, noRetry())

		Expect(result.Outcome).To(Equal(dcb.DecisionTimedOut))
	})
})
