package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	fileMode = 0o644
	dirMode  = 0o755
)

// WriteAtomic writes data to path so that a concurrent reader observes either
// the fully-old or the fully-new content, never a mix. The bytes go to a
// uniquely named temp file in the target's directory (same volume, so the
// final rename is atomic), are synced to disk, and are then renamed onto the
// target. Concurrent writers race only on the rename; last one wins.
//
// A failed attempt removes its temp file and leaves the target untouched.
// Transient failures are retried once; missing parents and permission errors
// are surfaced immediately.
func WriteAtomic(path string, data []byte) error {
	err := writeAtomicOnce(path, data)
	if err == nil || !retryable(err) {
		return err
	}
	return writeAtomicOnce(path, data)
}

func writeAtomicOnce(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// retryable reports whether a write failure is worth one more attempt.
// Missing directories and permission problems do not heal on their own.
func retryable(err error) bool {
	return !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission)
}

// ensureDir creates dir (and parents) if absent. Callers resolve dir through
// the path safety layer first; this is the only mkdir in the package.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
