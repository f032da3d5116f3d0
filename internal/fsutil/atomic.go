// Package fsutil provides the low-level, crash-aware file primitives the
// event store builds its durability guarantees on: write-temp-then-rename,
// directory fsync, write-protect bit toggling, and a write-protect-aware
// recursive remove.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteFileAtomic writes data to a temp file in the same directory as
// path, optionally fsyncs it, then renames it into place. The temp name
// includes a random suffix so concurrent writers targeting different
// final paths never collide on the temp name.
func WriteFileAtomic(path string, data []byte, fsync bool) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("fsync temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	if fsync {
		if err := SyncDir(dir); err != nil {
			return fmt.Errorf("fsync directory after rename: %w", err)
		}
	}
	return nil
}

// AppendFile appends data to path, creating it if necessary, and
// optionally fsyncs it. Used by the append-only index lists, where
// the rename dance of WriteFileAtomic would be wasted work: a partial
// append is detected and deduplicated on read (see index.go), so a
// torn write is tolerable the way a torn ledger commit is not.
func AppendFile(path string, data []byte, fsync bool) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if fsync {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("fsync append: %w", err)
		}
	}
	return nil
}

// SyncDir fsyncs a directory entry so a rename/create within it is
// durable across a crash, not just the file itself.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// SetWriteProtect sets or clears the read-only bit on path.
func SetWriteProtect(path string, protect bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode()
	if protect {
		mode &^= 0o222
	} else {
		mode |= 0o200
	}
	return os.Chmod(path, mode)
}

// RemoveAllWritable recursively clears write-protect bits under root
// before removing it, so a prior WriteProtectEventFiles run doesn't
// block DeleteStore.
func RemoveAllWritable(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		mode := info.Mode()
		if mode&0o200 == 0 {
			if chmodErr := os.Chmod(path, mode|0o200); chmodErr != nil {
				return chmodErr
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear write-protect bits under %s: %w", root, err)
	}
	return os.RemoveAll(root)
}

// EnsureDir creates dir (and parents) if absent.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
