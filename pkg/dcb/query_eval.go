package dcb

import (
	"sort"

	"github.com/rdpk/filedcb/internal/fsutil"
)

// matches reports whether e satisfies q: e matches q iff e matches at
// least one of q's items, and e matches an item iff the item's
// EventTypes is empty or contains e.EventType, AND every tag in the
// item's Tags is present on e with an equal value.
func (q Query) matches(e Event) bool {
	if len(q.Items) == 0 {
		return true
	}
	for _, item := range q.Items {
		if item.matches(e) {
			return true
		}
	}
	return false
}

func (qi QueryItem) matches(e Event) bool {
	if len(qi.EventTypes) > 0 {
		found := false
		for _, t := range qi.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, want := range qi.Tags {
		found := false
		for _, have := range e.Tags {
			if have.Key == want.Key && have.Value == want.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// isAll reports whether q is the degenerate "match everything" query:
// no items, or only items with no types and no tags.
func (q Query) isAll() bool {
	if len(q.Items) == 0 {
		return true
	}
	for _, item := range q.Items {
		if len(item.EventTypes) != 0 || len(item.Tags) != 0 {
			return false
		}
	}
	return true
}

// singleTypedItem reports whether q names exactly one event type and is
// otherwise a single QueryItem, the shape ReadLast's fast path
// requires.
func (q Query) singleTypedItem() (QueryItem, bool) {
	if len(q.Items) != 1 {
		return QueryItem{}, false
	}
	item := q.Items[0]
	if len(item.EventTypes) != 1 {
		return QueryItem{}, false
	}
	return item, true
}

// candidatePositions resolves q to the ascending, deduplicated set of
// positions that might satisfy it, using only the EventType and Tag
// indices (never a full scan). Per item: intersect (union of its
// EventTypes' lists) with (intersection of its Tags' lists); an empty
// EventTypes or Tags list means "no restriction" on that axis. Items are
// then unioned together.
func (eng *contextHandle) candidatePositions(q Query) ([]int64, error) {
	return eng.candidatePositionsWithHead(q, eng.ledgerHead())
}

// candidatePositionsWithHead is the lock-free variant: the caller
// supplies the ledger head instead of this function reading it, so the
// append guard can resolve an unrestricted query while already holding
// the context writer lock.
func (eng *contextHandle) candidatePositionsWithHead(q Query, head int64) ([]int64, error) {
	if q.isAll() {
		return positionRange(head), nil
	}

	union := make(map[int64]struct{})
	for _, item := range q.Items {
		itemSet, unrestricted, err := eng.itemCandidates(item)
		if err != nil {
			return nil, err
		}
		if unrestricted {
			for _, p := range positionRange(head) {
				union[p] = struct{}{}
			}
			continue
		}
		for p := range itemSet {
			union[p] = struct{}{}
		}
	}

	positions := make([]int64, 0, len(union))
	for p := range union {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	return positions, nil
}

// itemCandidates returns the position set for a single QueryItem, or
// unrestricted=true when the item has neither types nor tags (matches
// everything, which the caller resolves via the ledger head rather than
// materializing every list).
func (eng *contextHandle) itemCandidates(item QueryItem) (set map[int64]struct{}, unrestricted bool, err error) {
	if len(item.EventTypes) == 0 && len(item.Tags) == 0 {
		return nil, true, nil
	}

	var typeSet map[int64]struct{}
	if len(item.EventTypes) > 0 {
		typeSet = make(map[int64]struct{})
		for _, t := range item.EventTypes {
			positions, err := eng.eventTypeIndex.read(fsutil.EncodeEventTypeFilename(t))
			if err != nil {
				return nil, false, err
			}
			for _, p := range positions {
				typeSet[p] = struct{}{}
			}
		}
	}

	var tagSet map[int64]struct{}
	for i, tag := range item.Tags {
		positions, err := eng.tagIndex.read(fsutil.EncodeTagFilename(tag.Key, tag.Value))
		if err != nil {
			return nil, false, err
		}
		if i == 0 {
			tagSet = make(map[int64]struct{}, len(positions))
			for _, p := range positions {
				tagSet[p] = struct{}{}
			}
			continue
		}
		next := make(map[int64]struct{})
		for _, p := range positions {
			if _, ok := tagSet[p]; ok {
				next[p] = struct{}{}
			}
		}
		tagSet = next
	}

	switch {
	case typeSet != nil && tagSet != nil:
		result := make(map[int64]struct{})
		for p := range typeSet {
			if _, ok := tagSet[p]; ok {
				result[p] = struct{}{}
			}
		}
		return result, false, nil
	case typeSet != nil:
		return typeSet, false, nil
	default:
		return tagSet, false, nil
	}
}

func positionRange(head int64) []int64 {
	positions := make([]int64, 0, head)
	for p := int64(1); p <= head; p++ {
		positions = append(positions, p)
	}
	return positions
}
