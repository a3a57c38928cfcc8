package adadisk

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrIO is returned when a directory cannot be created or a file cannot be written or read.
	ErrIO = errors.New("io error")

	// ErrBuildFailure is returned when the index engine reports a non-success status.
	ErrBuildFailure = errors.New("index build failed")

	// ErrLoadFailure is returned when index artifacts are absent or corrupt.
	ErrLoadFailure = errors.New("index load failed")

	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEngineUnavailable is returned when the index engine binary or library cannot be used.
	ErrEngineUnavailable = errors.New("index engine unavailable")

	// ErrInvalidArgument is returned for malformed configuration or request values.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidK is returned when k is not positive or exceeds the indexed points.
	ErrInvalidK = errors.New("k must be positive and not exceed the number of indexed points")

	// ErrClosed is returned when an operation is attempted on a closed handle.
	ErrClosed = errors.New("index handle is closed")

	// ErrLocked is returned when a namespace entry lock could not be acquired in time.
	ErrLocked = errors.New("namespace entry is locked")

	// ErrBudgetExceeded is returned when a build does not fit into its memory budget.
	ErrBudgetExceeded = errors.New("memory budget exceeded")
)

// IOError describes a failed filesystem operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// NewIOError wraps err as an IOError. It returns nil if err is nil.
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// BuildError is returned when the engine finished with a non-success status.
type BuildError struct {
	// Code is the engine exit status. -1 means the engine was terminated by a signal.
	Code int
	// Stderr holds the tail of the engine's diagnostic output, if any.
	Stderr string
	Err    error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("index build failed with status %d", e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) Is(target error) bool { return target == ErrBuildFailure }

// LoadError is returned when an index cannot be loaded.
type LoadError struct {
	Prefix string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load index %q: %v", e.Prefix, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoadFailure }

// DimensionMismatchError is returned when vector dimensions don't match.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// EngineUnavailableError is returned when an engine cannot be invoked at all.
type EngineUnavailableError struct {
	Engine string
	Err    error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("engine %q unavailable: %v", e.Engine, e.Err)
}

func (e *EngineUnavailableError) Unwrap() error { return e.Err }

func (e *EngineUnavailableError) Is(target error) bool { return target == ErrEngineUnavailable }

// IsRetryable reports whether err is worth retrying.
//
// Transient IO failures, resource exhaustion, lock timeouts and engines killed by a
// signal are retryable. Everything else, such as invalid configuration, a missing
// engine, corrupt artifacts or a dimension mismatch, is fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrLocked),
		errors.Is(err, ErrBudgetExceeded):
		return true
	case errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidK),
		errors.Is(err, ErrEngineUnavailable),
		errors.Is(err, ErrClosed):
		return false
	}

	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == -1
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EINTR, syscall.EBUSY,
			syscall.ENOSPC, syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE:
			return true
		}
	}

	return false
}
