package dcb

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DecisionOutcome classifies how ExecuteDecision ended.
type DecisionOutcome int

const (
	// DecisionSucceeded means the decision's events were appended.
	DecisionSucceeded DecisionOutcome = iota
	// DecisionConditionFailed means the retry policy stopped (returned
	// backoff.Stop) while the last attempt still hit
	// AppendConditionFailed.
	DecisionConditionFailed
	// DecisionFatal means decide or append returned a non-retryable
	// error.
	DecisionFatal
	// DecisionTimedOut means the caller's context was cancelled or its
	// deadline expired, during an attempt or while waiting to retry.
	DecisionTimedOut
)

func (o DecisionOutcome) String() string {
	switch o {
	case DecisionSucceeded:
		return "succeeded"
	case DecisionConditionFailed:
		return "condition_failed"
	case DecisionFatal:
		return "fatal"
	case DecisionTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// DecisionResult is what ExecuteDecision returns: the classified
// outcome, the new head position on success, the number of attempts
// made, and the terminal error (nil on success).
type DecisionResult struct {
	Outcome  DecisionOutcome
	Position int64
	Attempts int
	Err      error
}

// Decide computes the events to append from the current state matching
// the decision query. ExecuteDecision pins the resulting append's guard
// to that query and the read's observed position, so the decision only
// commits against the slice of history it was made from.
type Decide func(ctx context.Context, events []SequencedEvent) ([]InputEvent, error)

// ExecuteDecision wraps read/decide/append in a bounded retry: on each
// attempt it reads q, calls decide, and appends the result guarded by
// q itself (so a concurrent writer matching q forces a retry with
// fresh state). Retries happen only on AppendConditionFailedError;
// anything else is fatal. If policy is nil, StoreConfig.DecisionBackOff
// supplies the retry schedule, defaulting to an exponential backoff
// capped by ctx's deadline.
func (s *Store) ExecuteDecision(ctx context.Context, contextName string, q Query, decide Decide, policy func() backoff.BackOff) DecisionResult {
	if policy == nil {
		policy = s.cfg.decisionBackOff()
	}
	bo := backoff.WithContext(policy(), ctx)

	var result DecisionResult
	operation := func() error {
		result.Attempts++

		events, err := s.Read(ctx, contextName, q, nil)
		if err != nil {
			if IsCancelled(err) {
				result.Outcome = DecisionTimedOut
				result.Err = err
				return backoff.Permanent(err)
			}
			result.Outcome = DecisionFatal
			result.Err = err
			return backoff.Permanent(err)
		}

		var observed int64
		for _, e := range events {
			if e.Position > observed {
				observed = e.Position
			}
		}

		newEvents, err := decide(ctx, events)
		if err != nil {
			result.Outcome = DecisionFatal
			result.Err = err
			return backoff.Permanent(err)
		}
		if len(newEvents) == 0 {
			result.Outcome = DecisionSucceeded
			result.Position = observed
			result.Err = nil
			return nil
		}

		condition := NewAppendCondition(q).After(observed)
		pos, err := s.Append(ctx, contextName, newEvents, &condition)
		if err == nil {
			result.Outcome = DecisionSucceeded
			result.Position = pos
			result.Err = nil
			return nil
		}

		if IsAppendConditionFailed(err) {
			result.Outcome = DecisionConditionFailed
			result.Err = err
			return err // retryable
		}
		if IsCancelled(err) {
			result.Outcome = DecisionTimedOut
			result.Err = err
			return backoff.Permanent(err)
		}
		result.Outcome = DecisionFatal
		result.Err = err
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, bo); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			result.Outcome = DecisionTimedOut
		}
		result.Err = err
	}
	return result
}

// decisionBackOff returns StoreConfig.DecisionBackOff, or a default
// exponential backoff with no fixed max elapsed time (the caller's
// context deadline, not a hardcoded one, is what bounds ExecuteDecision).
func (c StoreConfig) decisionBackOff() func() backoff.BackOff {
	if c.DecisionBackOff != nil {
		return c.DecisionBackOff
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 10 * time.Millisecond
		b.MaxInterval = 500 * time.Millisecond
		b.MaxElapsedTime = 0
		return b
	}
}
