package dcb

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"github.com/rdpk/filedcb/internal/fsutil"
)

const positionEntrySize = 8 // int64, big-endian

// index is an append-only, position-list-per-discriminator secondary
// structure. Both the EventType index and the Tag index are instances
// of this: they differ only in the directory they live under and how
// their discriminator strings are derived.
type index struct {
	dir string
}

func newIndex(dir string) *index {
	return &index{dir: dir}
}

func (ix *index) filePath(discriminatorFilename string) string {
	return filepath.Join(ix.dir, discriminatorFilename)
}

// append adds position to the list for discriminatorFilename. Safe to
// call twice with the same (discriminator, position) pair; duplicate
// entries are tolerated and deduplicated on read.
func (ix *index) append(discriminatorFilename string, position int64, durable bool) error {
	if err := fsutil.EnsureDir(ix.dir); err != nil {
		return newIOFailure("index.append", ix.dir, err)
	}
	var buf [positionEntrySize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(position))
	path := ix.filePath(discriminatorFilename)
	if err := fsutil.AppendFile(path, buf[:], durable); err != nil {
		return newIOFailure("index.append", path, err)
	}
	return nil
}

// read returns the ascending, deduplicated position list for
// discriminatorFilename. A missing index file is an empty list, not an
// error (no event of that type/tag has ever been appended).
func (ix *index) read(discriminatorFilename string) ([]int64, error) {
	path := ix.filePath(discriminatorFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newIOFailure("index.read", path, err)
	}
	positions := decodePositions(data)
	// A tag backfill (AddTags) appends older positions after newer ones,
	// so file order is not always ascending.
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	return dedupSorted(positions), nil
}

// readLast returns the highest position recorded for discriminatorFilename,
// in O(1) I/O: a single stat-sized read of the file's tail. Tolerates a
// duplicated tail entry (still the correct maximum).
func (ix *index) readLast(discriminatorFilename string) (int64, bool, error) {
	path := ix.filePath(discriminatorFilename)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, newIOFailure("index.readLast", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, false, newIOFailure("index.readLast", path, err)
	}
	size := info.Size()
	if size < positionEntrySize {
		return 0, false, nil
	}
	// The tail may contain a torn trailing entry if a crash landed
	// mid-write; walk backwards from the last whole entry.
	tailEntries := size / positionEntrySize
	var buf [positionEntrySize]byte
	if _, err := f.ReadAt(buf[:], (tailEntries-1)*positionEntrySize); err != nil {
		return 0, false, newIOFailure("index.readLast", path, err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), true, nil
}

func decodePositions(data []byte) []int64 {
	n := len(data) / positionEntrySize
	positions := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		off := i * positionEntrySize
		positions = append(positions, int64(binary.BigEndian.Uint64(data[off:off+positionEntrySize])))
	}
	return positions
}

func dedupSorted(positions []int64) []int64 {
	if len(positions) == 0 {
		return positions
	}
	out := positions[:1]
	for _, p := range positions[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
