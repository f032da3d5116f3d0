package dcb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rdpk/filedcb/internal/fsutil"
)

// readFileOrNil reads path, returning (nil, nil) if it doesn't exist.
func readFileOrNil(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

const projectionCheckpointFile = ".checkpoint"

// KeySelector extracts a partition key from an event (typically one of
// its tag values) that a Projection's state is sharded by.
type KeySelector func(e Event) string

// ApplyFunc folds one event into the current state for its partition
// key. related holds the results of RelatedQuery, if set, resolved as
// of the same read. Implementations must be idempotent: a transition
// reprocessed after a crash between state-write and checkpoint-advance
// must converge to the same state it would have reached the first time.
type ApplyFunc func(current json.RawMessage, e Event, related []SequencedEvent) (json.RawMessage, error)

// Projection defines a named, file-backed read model: the event types
// it consumes, how it partitions state, and how it folds events into
// that state.
type Projection struct {
	Name string

	// EventTypes restricts which events this projection consumes.
	// Empty means every event type.
	EventTypes []string

	// KeySelector computes the partition key an event's state lives
	// under. Required.
	KeySelector KeySelector

	// RelatedQuery, if set, is resolved fresh on every Update call and
	// passed to Apply alongside each event, for projections whose
	// transition needs to see more than the single triggering event.
	RelatedQuery *Query

	// Apply folds one event (plus RelatedQuery's results, if any) into
	// the partition's current state.
	Apply ApplyFunc
}

// ProjectionStatus reports a registered projection's run state.
type ProjectionStatus struct {
	Name       string
	Checkpoint int64
	Running    bool
	LastRunAt  time.Time
	LastErr    error
}

type projectionRuntime struct {
	def Projection
	dir string

	mu        sync.Mutex
	running   bool
	lastRunAt time.Time
	lastErr   error
}

// RegisterProjection registers p against contextName. Registration is
// in-memory only (per Store instance); callers re-register on every
// process start, same as they configure Contexts.
func (s *Store) RegisterProjection(contextName string, p Projection) error {
	if p.Name == "" {
		return newValidation("RegisterProjection", "Name", "", fmt.Errorf("must not be empty"))
	}
	if p.KeySelector == nil {
		return newValidation("RegisterProjection", "KeySelector", p.Name, fmt.Errorf("must not be nil"))
	}
	if p.Apply == nil {
		return newValidation("RegisterProjection", "Apply", p.Name, fmt.Errorf("must not be nil"))
	}
	h, err := s.context(contextName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projections == nil {
		s.projections = make(map[string]map[string]*projectionRuntime)
	}
	if s.projections[contextName] == nil {
		s.projections[contextName] = make(map[string]*projectionRuntime)
	}
	s.projections[contextName][p.Name] = &projectionRuntime{
		def: p,
		dir: filepath.Join(h.projectionsDir, p.Name),
	}
	return nil
}

func (s *Store) projectionRuntime(contextName, name string) (*projectionRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.projections[contextName]
	if byName == nil {
		return nil, newNotFound("projection", "projection", name)
	}
	pr, ok := byName[name]
	if !ok {
		return nil, newNotFound("projection", "projection", name)
	}
	return pr, nil
}

// Update runs one incremental pass of the named projection: read events
// of its type list past the checkpoint, ascending, fold each into
// partition state, and advance the checkpoint. Safe to call
// concurrently with itself; a call already in flight is a no-op return.
func (s *Store) Update(ctx context.Context, contextName, name string) error {
	pr, err := s.projectionRuntime(contextName, name)
	if err != nil {
		return err
	}

	pr.mu.Lock()
	if pr.running {
		pr.mu.Unlock()
		return nil
	}
	pr.running = true
	pr.mu.Unlock()

	defer func() {
		pr.mu.Lock()
		pr.running = false
		pr.lastRunAt = time.Now().UTC()
		pr.mu.Unlock()
	}()

	err = s.runProjection(ctx, contextName, pr)
	pr.mu.Lock()
	pr.lastErr = err
	pr.mu.Unlock()
	return err
}

func (s *Store) runProjection(ctx context.Context, contextName string, pr *projectionRuntime) error {
	h, err := s.context(contextName)
	if err != nil {
		return err
	}

	checkpoint, err := readCheckpoint(pr.dir)
	if err != nil {
		return err
	}

	q := NewQuery(nil, pr.def.EventTypes...)
	events, err := h.read(ctx, q, &ReadOptions{Direction: Ascending})
	if err != nil {
		return err
	}

	for _, se := range events {
		if se.Position <= checkpoint {
			continue
		}
		if err := ctx.Err(); err != nil {
			return newCancelled("projection.update", err)
		}

		var related []SequencedEvent
		if pr.def.RelatedQuery != nil {
			related, err = h.read(ctx, *pr.def.RelatedQuery, &ReadOptions{Direction: Ascending})
			if err != nil {
				return err
			}
		}

		key := pr.def.KeySelector(se.Event)
		current, err := readProjectionState(pr.dir, key)
		if err != nil {
			return err
		}

		next, err := pr.def.Apply(current, se.Event, related)
		if err != nil {
			return newProjectionApplyFailure(pr.def.Name, se.Position, err)
		}

		if err := writeProjectionState(pr.dir, key, next, h.cfg.WriteProtectProjectionFiles); err != nil {
			return err
		}
		if err := writeCheckpoint(pr.dir, se.Position, h.cfg.FlushEventsImmediately); err != nil {
			return err
		}
		checkpoint = se.Position
		if h.metrics != nil {
			h.metrics.setProjectionCheckpoint(contextName, pr.def.Name, checkpoint)
		}
	}
	return nil
}

// Rebuild wipes the named projection's state and checkpoint and runs it
// from scratch over the full event history.
func (s *Store) Rebuild(ctx context.Context, contextName, name string) error {
	pr, err := s.projectionRuntime(contextName, name)
	if err != nil {
		return err
	}
	if err := fsutil.RemoveAllWritable(pr.dir); err != nil {
		return newIOFailure("projection.rebuild", pr.dir, err)
	}
	if err := fsutil.EnsureDir(pr.dir); err != nil {
		return newIOFailure("projection.rebuild", pr.dir, err)
	}
	return s.Update(ctx, contextName, name)
}

// RebuildAll rebuilds every projection registered against contextName.
// When forceAll is false, only projections whose checkpoint is missing
// or zero are rebuilt; a projection that has already made progress is
// left alone regardless of whether its last run errored.
func (s *Store) RebuildAll(ctx context.Context, contextName string, forceAll bool) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.projections[contextName]))
	for name, pr := range s.projections[contextName] {
		if !forceAll {
			checkpoint, err := readCheckpoint(pr.dir)
			if err == nil && checkpoint > 0 {
				continue
			}
		}
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		if err := s.Rebuild(ctx, contextName, name); err != nil {
			return err
		}
	}
	return nil
}

// GetCheckpoint returns the named projection's current checkpoint
// position (0 if it has never run).
func (s *Store) GetCheckpoint(contextName, name string) (int64, error) {
	pr, err := s.projectionRuntime(contextName, name)
	if err != nil {
		return 0, err
	}
	return readCheckpoint(pr.dir)
}

// GetProjectionState loads the current state for key under the named
// projection, or (nil, false, nil) if no state has been written yet.
func (s *Store) GetProjectionState(contextName, name, key string) (json.RawMessage, bool, error) {
	pr, err := s.projectionRuntime(contextName, name)
	if err != nil {
		return nil, false, err
	}
	state, err := readProjectionState(pr.dir, key)
	if err != nil {
		return nil, false, err
	}
	return state, state != nil, nil
}

// GetRebuildStatus reports the run state of every projection registered
// against contextName.
func (s *Store) GetRebuildStatus(contextName string) ([]ProjectionStatus, error) {
	s.mu.Lock()
	byName := s.projections[contextName]
	runtimes := make([]*projectionRuntime, 0, len(byName))
	for _, pr := range byName {
		runtimes = append(runtimes, pr)
	}
	s.mu.Unlock()

	out := make([]ProjectionStatus, 0, len(runtimes))
	for _, pr := range runtimes {
		checkpoint, err := readCheckpoint(pr.dir)
		if err != nil {
			return nil, err
		}
		pr.mu.Lock()
		out = append(out, ProjectionStatus{
			Name:       pr.def.Name,
			Checkpoint: checkpoint,
			Running:    pr.running,
			LastRunAt:  pr.lastRunAt,
			LastErr:    pr.lastErr,
		})
		pr.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readCheckpoint(dir string) (int64, error) {
	path := filepath.Join(dir, projectionCheckpointFile)
	data, err := readFileOrNil(path)
	if err != nil {
		return 0, newIOFailure("projection.checkpoint", path, err)
	}
	if data == nil {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, newIOFailure("projection.checkpoint", path, fmt.Errorf("corrupt checkpoint: %w", err))
	}
	return v, nil
}

func writeCheckpoint(dir string, position int64, durable bool) error {
	path := filepath.Join(dir, projectionCheckpointFile)
	if err := fsutil.EnsureDir(dir); err != nil {
		return newIOFailure("projection.checkpoint", dir, err)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(strconv.FormatInt(position, 10)), durable); err != nil {
		return newIOFailure("projection.checkpoint", path, err)
	}
	return nil
}

func projectionStatePath(dir, key string) string {
	return filepath.Join(dir, "state", fsutil.EncodeTagFilename("key", key))
}

func readProjectionState(dir, key string) (json.RawMessage, error) {
	path := projectionStatePath(dir, key)
	data, err := readFileOrNil(path)
	if err != nil {
		return nil, newIOFailure("projection.state", path, err)
	}
	return data, nil
}

func writeProjectionState(dir, key string, state json.RawMessage, writeProtect bool) error {
	path := projectionStatePath(dir, key)
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return newIOFailure("projection.state", path, err)
	}
	if err := fsutil.WriteFileAtomic(path, state, false); err != nil {
		return newIOFailure("projection.state", path, err)
	}
	if writeProtect {
		if err := fsutil.SetWriteProtect(path, true); err != nil {
			return newIOFailure("projection.state", path, err)
		}
	}
	return nil
}
