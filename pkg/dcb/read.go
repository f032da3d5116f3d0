package dcb

import (
	"context"
	"strconv"

	"github.com/rdpk/filedcb/internal/fsutil"
	"golang.org/x/sync/errgroup"
)

// loadEvent reads the event file at position, counting successful loads
// so the "reads touch exactly N files" guarantees stay observable
// through the store's instrumentation.
func (h *contextHandle) loadEvent(position int64) (Event, bool, error) {
	e, ok, err := readEventFile(h.eventsDir, position)
	if err == nil && ok && h.metrics != nil {
		h.metrics.eventFileLoaded(h.name)
	}
	return e, ok, err
}

func reversePositions(positions []int64) {
	for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
		positions[i], positions[j] = positions[j], positions[i]
	}
}

// Read resolves q to its candidate positions, loads the matching
// events, and returns them ordered per options (ascending by default).
// Positions whose event file is missing (the reserved-but-never-written
// recovery gap) are skipped silently and logged.
func (s *Store) Read(ctx context.Context, contextName string, q Query, options *ReadOptions) ([]SequencedEvent, error) {
	h, err := s.context(contextName)
	if err != nil {
		return nil, err
	}
	return h.read(ctx, q, options)
}

func (h *contextHandle) read(ctx context.Context, q Query, options *ReadOptions) ([]SequencedEvent, error) {
	positions, err := h.candidatePositions(q)
	if err != nil {
		return nil, err
	}

	opts := ReadOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Direction == Descending {
		reversePositions(positions)
	}

	events, err := h.loadEvents(ctx, positions, q, opts.Limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// loadEvents loads each candidate position's event file (in parallel
// when ParallelRead is set), filters by q (the index narrows but the
// match predicate is the ground truth), and stops at limit if set.
func (h *contextHandle) loadEvents(ctx context.Context, positions []int64, q Query, limit int) ([]SequencedEvent, error) {
	if !h.cfg.ParallelRead || len(positions) < 2 {
		return h.loadEventsSequential(ctx, positions, q, limit)
	}

	loaded := make([]*Event, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range positions {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return newCancelled("read", err)
			}
			e, ok, err := h.loadEvent(p)
			if err != nil {
				return err
			}
			if ok {
				loaded[i] = &e
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]SequencedEvent, 0, len(positions))
	for i, e := range loaded {
		if e == nil {
			h.log.Warn().Int64("position", positions[i]).Msg("index references a missing event file; skipping")
			if h.metrics != nil {
				h.metrics.indexSkippedMissing(h.name)
			}
			continue
		}
		if !q.matches(*e) {
			continue
		}
		out = append(out, SequencedEvent{Event: *e, Position: e.Position})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (h *contextHandle) loadEventsSequential(ctx context.Context, positions []int64, q Query, limit int) ([]SequencedEvent, error) {
	out := make([]SequencedEvent, 0, len(positions))
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return nil, newCancelled("read", err)
		}
		e, ok, err := h.loadEvent(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			h.log.Warn().Int64("position", p).Msg("index references a missing event file; skipping")
			if h.metrics != nil {
				h.metrics.indexSkippedMissing(h.name)
			}
			continue
		}
		if !q.matches(e) {
			continue
		}
		out = append(out, SequencedEvent{Event: e, Position: p})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ReadStream is the channel-based streaming counterpart to Read, for
// consumers processing large result sets without materializing a
// slice.
func (s *Store) ReadStream(ctx context.Context, contextName string, q Query, options *ReadOptions) (<-chan SequencedEvent, <-chan error) {
	out := make(chan SequencedEvent)
	errc := make(chan error, 1)

	h, err := s.context(contextName)
	if err != nil {
		errc <- err
		close(out)
		close(errc)
		return out, errc
	}

	go func() {
		defer close(out)
		defer close(errc)

		positions, err := h.candidatePositions(q)
		if err != nil {
			errc <- err
			return
		}
		opts := ReadOptions{}
		if options != nil {
			opts = *options
		}
		if opts.Direction == Descending {
			reversePositions(positions)
		}

		sent := 0
		for _, p := range positions {
			if err := ctx.Err(); err != nil {
				errc <- newCancelled("read.stream", err)
				return
			}
			e, ok, err := h.loadEvent(p)
			if err != nil {
				errc <- err
				return
			}
			if !ok {
				h.log.Warn().Int64("position", p).Msg("index references a missing event file; skipping")
				continue
			}
			if !q.matches(e) {
				continue
			}
			select {
			case out <- SequencedEvent{Event: e, Position: p}:
				sent++
				if opts.Limit > 0 && sent == opts.Limit {
					return
				}
			case <-ctx.Done():
				errc <- newCancelled("read.stream", ctx.Err())
				return
			}
		}
	}()

	return out, errc
}

// ReadLast returns the most recent event matching q. Query.All() is
// resolved from the ledger head; a single-item query naming exactly one
// event type (optionally with tags) goes through readLastTyped; anything
// else falls back to a descending read of the full candidate set.
func (s *Store) ReadLast(ctx context.Context, contextName string, q Query) (SequencedEvent, bool, error) {
	h, err := s.context(contextName)
	if err != nil {
		return SequencedEvent{}, false, err
	}
	return h.readLast(ctx, q)
}

func (h *contextHandle) readLast(ctx context.Context, q Query) (SequencedEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return SequencedEvent{}, false, newCancelled("read_last", err)
	}

	if q.isAll() {
		head := h.ledgerHead()
		if head == 0 {
			return SequencedEvent{}, false, nil
		}
		return h.lastExistingAtOrBelow(head)
	}

	if item, ok := q.singleTypedItem(); ok {
		return h.readLastTyped(item)
	}

	// General case: no O(1) shortcut available, resolve the full
	// candidate set and take the maximum.
	events, err := h.read(ctx, q, &ReadOptions{Direction: Descending, Limit: 1})
	if err != nil {
		return SequencedEvent{}, false, err
	}
	if len(events) == 0 {
		return SequencedEvent{}, false, nil
	}
	return events[0], true, nil
}

// readLastTyped reads the tail of the event type's index list only and
// loads the event at that position (or the nearest existing one below
// it). When that event also satisfies the item's tags, exactly one event
// file is loaded. Tag index tails are not read: when the tail event does
// not carry the item's tags, it resolves the full candidate set and
// loads events backwards from the highest position until one matches.
func (h *contextHandle) readLastTyped(item QueryItem) (SequencedEvent, bool, error) {
	var candidate int64 = -1
	var ok bool

	for _, t := range item.EventTypes {
		pos, found, err := h.eventTypeIndex.readLast(fsutil.EncodeEventTypeFilename(t))
		if err != nil {
			return SequencedEvent{}, false, err
		}
		if !found {
			continue
		}
		if pos > candidate {
			candidate, ok = pos, true
		}
	}
	if !ok {
		return SequencedEvent{}, false, nil
	}

	// Load the event at the type-index tail and check it against the
	// whole item, tags included.
	e, found, err := h.lastExistingAtOrBelow(candidate)
	if err != nil || !found {
		return e, found, err
	}
	fullItem := QueryItem{EventTypes: item.EventTypes, Tags: item.Tags}
	if fullItem.matches(e.Event) {
		return e, true, nil
	}
	// Fall back to a full scan: the event at the type-index tail does
	// not carry the item's tags (or is not of the item's type).
	positions, err := h.candidatePositions(Query{Items: []QueryItem{fullItem}})
	if err != nil {
		return SequencedEvent{}, false, err
	}
	for i := len(positions) - 1; i >= 0; i-- {
		ev, ok, err := h.loadEvent(positions[i])
		if err != nil {
			return SequencedEvent{}, false, err
		}
		if ok && fullItem.matches(ev) {
			return SequencedEvent{Event: ev, Position: ev.Position}, true, nil
		}
	}
	return SequencedEvent{}, false, nil
}

func (h *contextHandle) lastExistingAtOrBelow(ceiling int64) (SequencedEvent, bool, error) {
	for p := ceiling; p >= 1; p-- {
		e, ok, err := h.loadEvent(p)
		if err != nil {
			return SequencedEvent{}, false, err
		}
		if ok {
			return SequencedEvent{Event: e, Position: p}, true, nil
		}
	}
	return SequencedEvent{}, false, nil
}

// GetEvent loads the event at an explicit position directly, bypassing
// the indices entirely. This is the access path crash recovery relies
// on: a position can be durable and readable before its index entries
// land, so callers who already know the position shouldn't need the
// indices to see it.
func (s *Store) GetEvent(ctx context.Context, contextName string, position int64) (Event, error) {
	h, err := s.context(contextName)
	if err != nil {
		return Event{}, err
	}
	if err := ctx.Err(); err != nil {
		return Event{}, newCancelled("get_event", err)
	}
	e, ok, err := h.loadEvent(position)
	if err != nil {
		return Event{}, err
	}
	if !ok {
		return Event{}, newNotFound("get_event", "event", strconv.FormatInt(position, 10))
	}
	return e, nil
}
