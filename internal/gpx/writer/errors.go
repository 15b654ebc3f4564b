package writer

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition matches any *PreconditionError.
	ErrPrecondition = errors.New("track file does not end as expected")
	// ErrIO matches any *IOError.
	ErrIO = errors.New("track file I/O failed")
	// ErrQueueFull is returned for mutations rejected by a full queue.
	ErrQueueFull = errors.New("write queue is full")
	// ErrClosed is returned for mutations submitted after the worker has
	// stopped.
	ErrClosed = errors.New("track writer is stopped")
)

// PreconditionError means the file on disk does not match the tracked
// segment state, typically because it was truncated or edited by someone
// else. Nothing is written when this is returned.
type PreconditionError struct {
	Path   string
	Length int64
	Want   string
	Got    string
}

func (e *PreconditionError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("%s: length %d, expected tail %q", e.Path, e.Length, e.Want)
	}
	return fmt.Sprintf("%s: tail %q, expected %q", e.Path, e.Got, e.Want)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// IOError wraps a failure to create, open, read or write the track file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// withPath fills in the file path on errors raised below the mutator.
func withPath(err error, path string) error {
	var pe *PreconditionError
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
	}
	var ie *IOError
	if errors.As(err, &ie) && ie.Path == "" {
		ie.Path = path
	}
	return err
}
