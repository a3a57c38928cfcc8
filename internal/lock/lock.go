// Package lock provides a directory-scoped advisory lock that serializes
// check-then-act sequences across processes sharing one data directory.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/adadisk"
)

// DefaultPollInterval is how often Acquire retries a held lock.
const DefaultPollInterval = 50 * time.Millisecond

// FileLock is an exclusive advisory lock on a lock file.
// Locks taken through different FileLock values conflict even within one process.
type FileLock struct {
	path string
	file *os.File
	poll time.Duration
}

// New returns an unlocked FileLock for path. The parent directory is created on Acquire.
func New(path string) *FileLock {
	return &FileLock{path: path, poll: DefaultPollInterval}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Acquire blocks until the lock is held, ctx is done or timeout elapses.
// A timeout of zero waits for ctx only. Timeouts wrap adadisk.ErrLocked.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ok, err := l.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", adadisk.ErrLocked, l.path, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// TryAcquire takes the lock without blocking. It returns false if another holder has it.
func (l *FileLock) TryAcquire() (bool, error) {
	if l.file != nil {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, adadisk.NewIOError("mkdir", filepath.Dir(l.path), err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, adadisk.NewIOError("open", l.path, err)
	}

	held, err := tryLock(file)
	if err != nil || !held {
		file.Close()
		if err != nil {
			return false, adadisk.NewIOError("flock", l.path, err)
		}
		return false, nil
	}

	l.file = file
	return true, nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}

	err := unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return err
	}
	return closeErr
}

// IsHeld reports whether this FileLock currently holds the lock.
func (l *FileLock) IsHeld() bool {
	return l.file != nil
}
