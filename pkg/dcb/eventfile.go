package dcb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rdpk/filedcb/internal/fsutil"
)

const eventFileExt = ".evt"

// eventEnvelope is the on-disk shape of an event file: everything in
// Event except Position, which is carried entirely by the filename so
// that recovery (ledger.go) can discover positions by directory listing
// alone.
type eventEnvelope struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	Tags        []Tag     `json:"tags"`
	PayloadType string    `json:"payload_type"`
	Payload     []byte    `json:"payload"`
	OccurredAt  time.Time `json:"occurred_at"`
	Correlation string    `json:"correlation_id,omitempty"`
	Causation   string    `json:"causation_id,omitempty"`
	Operation   string    `json:"operation_id,omitempty"`
	User        string    `json:"user_id,omitempty"`
}

func eventFilePath(eventsDir string, position int64) string {
	return filepath.Join(eventsDir, strconv.FormatInt(position, 10)+eventFileExt)
}

// positionFromEventFilename parses "<position>.evt" back into a
// position; returns ok=false for anything else found in the Events
// directory (temp files from an interrupted write, stray files).
func positionFromEventFilename(name string) (int64, bool) {
	if !strings.HasSuffix(name, eventFileExt) {
		return 0, false
	}
	base := strings.TrimSuffix(name, eventFileExt)
	pos, err := strconv.ParseInt(base, 10, 64)
	if err != nil || pos < 1 {
		return 0, false
	}
	return pos, true
}

func writeEventFile(eventsDir string, position int64, e Event, durable, writeProtect bool) error {
	env := eventEnvelope{
		ID:          e.ID,
		EventType:   e.EventType,
		Tags:        e.Tags,
		PayloadType: e.PayloadType,
		Payload:     e.Payload,
		OccurredAt:  e.Metadata.OccurredAt,
		Correlation: e.Metadata.CorrelationID,
		Causation:   e.Metadata.CausationID,
		Operation:   e.Metadata.OperationID,
		User:        e.Metadata.UserID,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	path := eventFilePath(eventsDir, position)
	if err := fsutil.WriteFileAtomic(path, data, durable); err != nil {
		return newIOFailure("eventfile.write", path, err)
	}
	if writeProtect {
		if err := fsutil.SetWriteProtect(path, true); err != nil {
			return newIOFailure("eventfile.write", path, fmt.Errorf("set write-protect: %w", err))
		}
	}
	return nil
}

// readEventFile loads the event at position, or returns (Event{}, false,
// nil) when the file is absent: the "reserved but never written"
// recovery gap, which readers must tolerate silently.
func readEventFile(eventsDir string, position int64) (Event, bool, error) {
	path := eventFilePath(eventsDir, position)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, newIOFailure("eventfile.read", path, err)
	}
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, false, newIOFailure("eventfile.read", path, fmt.Errorf("corrupt event envelope: %w", err))
	}
	return Event{
		ID:          env.ID,
		Position:    position,
		EventType:   env.EventType,
		Tags:        env.Tags,
		PayloadType: env.PayloadType,
		Payload:     env.Payload,
		Metadata: Metadata{
			OccurredAt:    env.OccurredAt,
			CorrelationID: env.Correlation,
			CausationID:   env.Causation,
			OperationID:   env.Operation,
			UserID:        env.User,
		},
	}, true, nil
}
