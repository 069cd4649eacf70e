package kb

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// dataDirLock keeps a second process from writing the same data directory.
type dataDirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newDataDirLock(path string) *dataDirLock {
	return &dataDirLock{path: path, flock: flock.New(path)}
}

// acquire takes the lock without blocking. A lock held elsewhere is a
// StorageError with ErrCodeDataDirLocked.
func (l *dataDirLock) acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return kberrors.StorageError("failed to create data directory", err).WithDetail("path", filepath.Dir(l.path))
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return kberrors.StorageError("failed to lock data directory", err).WithDetail("path", l.path)
	}
	if !ok {
		return kberrors.New(kberrors.ErrCodeDataDirLocked, "data directory is in use by another process", nil).
			WithDetail("path", l.path).
			WithSuggestion("Stop the other assistkb process (for example a running `assistkb watch`) and retry")
	}
	l.locked = true
	return nil
}

// release is safe to call more than once.
func (l *dataDirLock) release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return kberrors.StorageError("failed to unlock data directory", err)
	}
	return nil
}
