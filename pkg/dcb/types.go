// Package dcb implements an embedded, file-backed event store with
// Dynamic Consistency Boundaries (DCB): query-scoped optimistic
// concurrency control on top of a per-context, position-ordered event
// log.
package dcb

import "time"

// Tag is a key/value pair attached to an event for indexing and
// querying. Both Key and Value are opaque strings to the engine.
type Tag struct {
	Key   string
	Value string
}

// Metadata carries the envelope fields that ride alongside every event
// but are never interpreted by the engine beyond persistence.
type Metadata struct {
	OccurredAt    time.Time
	CorrelationID string
	CausationID   string
	OperationID   string
	UserID        string
}

// QueryItem is a single atomic condition: it matches an event when the
// event's type is in EventTypes (empty means "any type") AND every tag
// in Tags is present on the event with an equal value (empty means "any
// tags").
type QueryItem struct {
	EventTypes []string
	Tags       []Tag
}

// Query is the OR-combination of its Items. A Query with zero Items, or
// a single item with no EventTypes and no Tags, matches every event
// (see QueryAll).
type Query struct {
	Items []QueryItem
}

// AppendCondition guards an append: if FailIfEventsMatch has any match
// among positions strictly greater than AfterSequencePosition (or among
// all positions, when AfterSequencePosition is nil), the append aborts
// with an AppendConditionFailedError.
type AppendCondition struct {
	FailIfEventsMatch     Query
	AfterSequencePosition *int64
}

// InputEvent is an event as submitted by a caller of Append. EventType
// defaults to PayloadType when left blank.
type InputEvent struct {
	EventType   string
	Tags        []Tag
	PayloadType string
	Payload     []byte
	Metadata    Metadata
}

// Event is an event as persisted and returned by reads: an InputEvent
// plus the Position assigned at append time and the ID generated for
// it.
type Event struct {
	ID          string
	Position    int64
	EventType   string
	Tags        []Tag
	PayloadType string
	Payload     []byte
	Metadata    Metadata
}

// ReadDirection controls the order events are streamed in.
type ReadDirection int

const (
	Ascending ReadDirection = iota
	Descending
)

// ReadOptions configures a Read/ReadStream call.
type ReadOptions struct {
	Direction ReadDirection
	Limit     int // 0 = no limit
}

// SequencedEvent pairs an Event with the Position it was read at; kept
// distinct from Event.Position so callers that only hold a projection
// result can still report "last position seen" without unpacking an
// Event.
type SequencedEvent struct {
	Event    Event
	Position int64
}

// QueryAll returns a Query matching every event in a context.
func QueryAll() Query {
	return Query{Items: []QueryItem{{}}}
}

// NewTag constructs a single Tag.
func NewTag(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NewTags builds a slice of Tags from alternating key/value strings.
// An odd number of arguments yields an empty slice rather than
// panicking; neither Append nor the query constructors validate tags.
func NewTags(kv ...string) []Tag {
	if len(kv)%2 != 0 {
		return []Tag{}
	}
	tags := make([]Tag, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		tags[i/2] = Tag{Key: kv[i], Value: kv[i+1]}
	}
	return tags
}

// NewQueryItem constructs a QueryItem from explicit types and tags.
func NewQueryItem(eventTypes []string, tags []Tag) QueryItem {
	return QueryItem{EventTypes: eventTypes, Tags: tags}
}

// NewQuery builds a single-item Query: the given event types OR'd
// together, AND'd with the given tags.
func NewQuery(tags []Tag, eventTypes ...string) Query {
	return Query{Items: []QueryItem{{EventTypes: eventTypes, Tags: tags}}}
}

// NewQueryFromItems combines several QueryItems with OR semantics.
func NewQueryFromItems(items ...QueryItem) Query {
	return Query{Items: items}
}

// NewAppendCondition constructs an AppendCondition with no position
// floor (evaluated over all positions).
func NewAppendCondition(failIfEventsMatch Query) AppendCondition {
	return AppendCondition{FailIfEventsMatch: failIfEventsMatch}
}

// After sets the position floor on an AppendCondition and returns it,
// for fluent construction: NewAppendCondition(q).After(pos).
func (c AppendCondition) After(position int64) AppendCondition {
	c.AfterSequencePosition = &position
	return c
}
