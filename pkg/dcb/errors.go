package dcb

import (
	"errors"
	"fmt"
)

// EventStoreError is the common envelope every engine error wraps: the
// operation that failed plus the underlying cause.
type EventStoreError struct {
	Op  string
	Err error
}

func (e *EventStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *EventStoreError) Unwrap() error { return e.Err }

// InvalidConfigurationError is surfaced only at Store construction,
// never during Append/Read.
type InvalidConfigurationError struct {
	EventStoreError
	Field string
	Value string
}

// AppendConditionFailedError means the DCB guard matched an existing
// event; the caller's decision-model loop should retry.
type AppendConditionFailedError struct {
	EventStoreError
	MatchedPosition int64
}

// NotFoundError is returned for explicit point lookups (a projection
// key, a specific position) that found nothing.
type NotFoundError struct {
	EventStoreError
	Kind string // "event", "projection-key", ...
	Key  string
}

// IOFailureError wraps disk-full, permission-denied, and corrupted-file
// conditions. The engine performs no silent recovery beyond the
// startup ledger reconciliation.
type IOFailureError struct {
	EventStoreError
	Path string
}

// CancelledError is returned when cooperative cancellation was observed
// before a commit became visible. No partial commit is ever visible
// after this error.
type CancelledError struct {
	EventStoreError
}

// ProjectionApplyFailureError wraps an error returned by a caller's
// transition function. The projection's checkpoint is not advanced.
type ProjectionApplyFailureError struct {
	EventStoreError
	Projection string
	Position   int64
}

func newValidation(op, field, value string, err error) error {
	return &InvalidConfigurationError{
		EventStoreError: EventStoreError{Op: op, Err: err},
		Field:           field,
		Value:           value,
	}
}

func newIOFailure(op, path string, err error) error {
	return &IOFailureError{
		EventStoreError: EventStoreError{Op: op, Err: err},
		Path:            path,
	}
}

func newNotFound(op, kind, key string) error {
	return &NotFoundError{
		EventStoreError: EventStoreError{Op: op, Err: fmt.Errorf("%s %q not found", kind, key)},
		Kind:            kind,
		Key:             key,
	}
}

func newCancelled(op string, cause error) error {
	return &CancelledError{EventStoreError{Op: op, Err: cause}}
}

func newAppendConditionFailed(op string, matched int64) error {
	return &AppendConditionFailedError{
		EventStoreError: EventStoreError{Op: op, Err: fmt.Errorf("event at position %d matches the guard query", matched)},
		MatchedPosition: matched,
	}
}

func newProjectionApplyFailure(projection string, position int64, err error) error {
	return &ProjectionApplyFailureError{
		EventStoreError: EventStoreError{Op: "projection.apply", Err: err},
		Projection:      projection,
		Position:        position,
	}
}

// IsAppendConditionFailed reports whether err is (or wraps) an
// AppendConditionFailedError.
func IsAppendConditionFailed(err error) bool {
	var e *AppendConditionFailedError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsIOFailure reports whether err is (or wraps) an IOFailureError.
func IsIOFailure(err error) bool {
	var e *IOFailureError
	return errors.As(err, &e)
}

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var e *CancelledError
	return errors.As(err, &e)
}

// IsInvalidConfiguration reports whether err is (or wraps) an
// InvalidConfigurationError.
func IsInvalidConfiguration(err error) bool {
	var e *InvalidConfigurationError
	return errors.As(err, &e)
}

// IsProjectionApplyFailure reports whether err is (or wraps) a
// ProjectionApplyFailureError.
func IsProjectionApplyFailure(err error) bool {
	var e *ProjectionApplyFailureError
	return errors.As(err, &e)
}

// AsAppendConditionFailed extracts an AppendConditionFailedError from
// the error chain.
func AsAppendConditionFailed(err error) (*AppendConditionFailedError, bool) {
	var e *AppendConditionFailedError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
