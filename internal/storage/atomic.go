// Package storage provides a sharded, file-backed document store with
// atomic write semantics and per-file locking.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Sentinel errors for file store operations.
var (
	// ErrNotExist is returned when reading a file that does not exist.
	// Callers that treat a missing file as an empty value should check
	// for this error with errors.Is.
	ErrNotExist = errors.New("file does not exist")

	// ErrCorruptFile indicates a file exists but could not be decoded.
	// This is surfaced, never silently treated as empty.
	ErrCorruptFile = errors.New("corrupt file")
)

// lockTable maps file paths to their mutual-exclusion locks.
//
// Locks are created lazily and shared by all callers referencing the same
// path. The table's own mutex is held only while looking up or inserting
// an entry, never during file I/O.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// get returns the lock for path, creating it if absent.
func (t *lockTable) get(path string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[path] = lock
	}
	return lock
}

// FileStore persists values to individual files using write-to-temp plus
// atomic rename, with one mutual-exclusion lock per distinct path.
//
// Writers to the same path serialize; writers to different paths never
// block each other. A reader never observes a partially written file: the
// target is only ever replaced by a single rename, and on rename failure
// the previous content is restored from a .bak sibling.
type FileStore struct {
	locks  *lockTable
	logger *zap.Logger
}

// NewFileStore creates a FileStore.
func NewFileStore(logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		locks:  newLockTable(),
		logger: logger,
	}
}

// WriteJSON serializes v and atomically replaces path with the result.
//
// Serialization happens before the target is touched, so a marshal error
// leaves the file exactly as it was. The temporary file is created in the
// target's directory so the final rename stays on one filesystem.
func (fs *FileStore) WriteJSON(path string, v any) error {
	lock := fs.locks.get(path)
	lock.Lock()
	defer lock.Unlock()

	return fs.writeJSONLocked(path, v)
}

// writeJSONLocked is WriteJSON without acquiring the path lock. Used by
// Store for read-modify-write cycles that hold the lock across both steps.
func (fs *FileStore) writeJSONLocked(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	return fs.replaceLocked(path, func(tmpPath string) error {
		f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// ReadJSON decodes the file at path into v.
//
// A missing file returns ErrNotExist so callers can substitute their empty
// value. A file that exists but cannot be decoded returns ErrCorruptFile.
func (fs *FileStore) ReadJSON(path string, v any) error {
	lock := fs.locks.get(path)
	lock.Lock()
	defer lock.Unlock()

	return fs.readJSONLocked(path, v)
}

// readJSONLocked is ReadJSON without acquiring the path lock.
func (fs *FileStore) readJSONLocked(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptFile, path, err)
	}
	return nil
}

// Replace atomically replaces path with content produced by write.
//
// The write callback receives a temporary sibling path and must fully
// produce the new content there. Replace then performs the atomic rename
// (with .bak fallback). This is used for non-JSON artifacts such as
// serialized vector indexes, so they share the same crash-safety
// discipline as the JSON shards.
func (fs *FileStore) Replace(path string, write func(tmpPath string) error) error {
	lock := fs.locks.get(path)
	lock.Lock()
	defer lock.Unlock()

	return fs.replaceLocked(path, write)
}

// replaceLocked runs the temp-write-then-rename cycle. Caller holds the
// path lock.
func (fs *FileStore) replaceLocked(path string, write func(tmpPath string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp_"+filepath.Base(path)+"_*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	// The write callback opens the file itself; close the handle CreateTemp gave us.
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}

	if err := write(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}

	if err := fs.rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	fs.logger.Debug("atomically replaced file", zap.String("path", path))
	return nil
}

// rename moves tmpPath onto path. On platforms where rename-over-existing
// fails, it falls back to backing up the target, retrying the replace, and
// restoring the backup if that also fails.
func (fs *FileStore) rename(tmpPath, path string) error {
	err := os.Rename(tmpPath, path)
	if err == nil {
		return nil
	}

	if _, statErr := os.Stat(path); statErr != nil {
		// Target absent: the failure was not rename-over-existing.
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}

	bakPath := path + ".bak"
	if err := copyFile(path, bakPath); err != nil {
		return fmt.Errorf("backing up %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		os.Remove(bakPath)
		return fmt.Errorf("removing %s for replace: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// Restore the previous content so the target stays intact.
		if restoreErr := copyFile(bakPath, path); restoreErr != nil {
			fs.logger.Error("failed to restore backup after rename failure",
				zap.String("path", path),
				zap.Error(restoreErr),
			)
		}
		os.Remove(bakPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}

	os.Remove(bakPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
