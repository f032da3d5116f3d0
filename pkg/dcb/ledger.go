package dcb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rdpk/filedcb/internal/fsutil"
	"github.com/rs/zerolog"
)

const ledgerFileName = ".ledger"

// ledger hands out the next position for a context. It is not
// self-synchronizing: callers must hold the owning contextHandle's
// writer lock around reserve/commit. last is the high-water position;
// zero means empty.
type ledger struct {
	path string
	last int64
}

func openLedger(contextDir string) (*ledger, error) {
	l := &ledger{path: filepath.Join(contextDir, ledgerFileName)}
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		l.last = 0
		return l, nil
	}
	if err != nil {
		return nil, newIOFailure("ledger.open", l.path, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, newIOFailure("ledger.open", l.path, fmt.Errorf("corrupt ledger contents: %w", err))
	}
	l.last = v
	return l, nil
}

// recover reconciles the ledger against the highest position actually
// present in the Events directory. Files win: if files are ahead of the
// ledger, the ledger is advanced to match (a commit that wrote files but
// crashed before the ledger update). If the ledger is ahead of the
// files, the gap in (highestFile, ledger.last] is left as-is: those
// positions were reserved but never written, and are only reclaimed by
// DeleteStore.
func (l *ledger) recover(eventsDir string, durable bool, log zerolog.Logger) error {
	highest, err := highestEventPosition(eventsDir)
	if err != nil {
		return err
	}
	if highest > l.last {
		log.Warn().
			Int64("ledger_position", l.last).
			Int64("highest_event_file", highest).
			Msg("recovering ledger: event files committed past last recorded ledger position")
		if err := l.commit(highest, durable); err != nil {
			return err
		}
	} else if l.last > highest {
		log.Warn().
			Int64("ledger_position", l.last).
			Int64("highest_event_file", highest).
			Msg("ledger ahead of event files: positions in this range were reserved but never written")
	}
	return nil
}

// reserve assigns n consecutive positions and returns [start, end]. The
// assignment is tentative until commit persists it; the caller holds
// the context writer lock throughout.
func (l *ledger) reserve(n int) (start, end int64) {
	start = l.last + 1
	end = l.last + int64(n)
	return start, end
}

// commit durably advances the ledger to end.
func (l *ledger) commit(end int64, durable bool) error {
	data := []byte(strconv.FormatInt(end, 10))
	if err := fsutil.WriteFileAtomic(l.path, data, durable); err != nil {
		return newIOFailure("ledger.commit", l.path, err)
	}
	l.last = end
	return nil
}

func highestEventPosition(eventsDir string) (int64, error) {
	entries, err := os.ReadDir(eventsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, newIOFailure("ledger.recover", eventsDir, err)
	}
	var highest int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pos, ok := positionFromEventFilename(e.Name())
		if !ok {
			continue
		}
		if pos > highest {
			highest = pos
		}
	}
	return highest, nil
}
