package backend

import (
	"context"
	"errors"
	"fmt"
)

// errPageOutOfRange is wrapped in a RenderError when a page index falls
// outside the loaded document.
var errPageOutOfRange = errors.New("page index out of range")

// LoadError means the document failed to parse or initialize. It is fatal
// for that document and is returned to the Load caller.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("document load failed: %s: %v", e.Reason, e.Err)
	}
	return "document load failed: " + e.Reason
}

func (e *LoadError) Unwrap() error { return e.Err }

// RenderError means a single page failed to render. The queue logs it and
// carries on; the page stays eligible for re-enqueue.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed for page %d: %v", e.Page, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ForeignMemoryError means an allocation or native call failed inside a
// foreign-memory backend. Surfaced distinctly because recovery may require
// disposing and recreating the backend rather than a simple retry.
type ForeignMemoryError struct {
	Op  string
	Err error
}

func (e *ForeignMemoryError) Error() string {
	return fmt.Sprintf("foreign memory failure in %s: %v", e.Op, e.Err)
}

func (e *ForeignMemoryError) Unwrap() error { return e.Err }

// IsCancellation reports whether err is a cancellation rather than a true
// failure. Cancellations are filtered from error reporting.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
