// Package runlock guards batch operations with a file lock so two
// invocations never process the same store concurrently.
package runlock

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/openlibhub/recordman/internal/domain"
)

// Lock is an acquired run lock. The zero value is a released no-op lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the run lock at path without waiting; a held lock is an
// immediate domain.ErrLocked. An empty path disables locking and returns a
// no-op lock. The caller must Release on every exit path.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	if path == "" {
		return &Lock{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: %w", path, domain.ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Releasing a no-op or already-released lock is
// harmless.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	fl := l.fl
	l.fl = nil
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", fl.Path(), err)
	}
	return nil
}

// Path returns the lock file path, or "" for a no-op lock.
func (l *Lock) Path() string {
	if l == nil || l.fl == nil {
		return ""
	}
	return l.fl.Path()
}
