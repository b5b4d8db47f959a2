package harvest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is attached to results of sessions stopped by their context
	ErrCancelled = errors.New("harvest cancelled")
	// ErrContainerLost means the list container could no longer be found
	ErrContainerLost = errors.New("list container no longer present")
)

// ResolutionFailure reports that every strategy for a target kind came up empty
type ResolutionFailure struct {
	Kind      TargetKind
	Attempted []string
	// Last is the last transport error seen while trying strategies, if any.
	Last error

	misses int
}

func (e *ResolutionFailure) Error() string {
	msg := fmt.Sprintf("could not resolve %s (tried %s)", e.Kind, strings.Join(e.Attempted, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *ResolutionFailure) Unwrap() error { return e.Last }

// TransportOnly reports whether every strategy failed on the driver and none
// cleanly matched nothing
func (e *ResolutionFailure) TransportOnly() bool {
	return e.Last != nil && e.misses == 0
}

// ExtractionFailure is a failed extraction within one iteration
type ExtractionFailure struct {
	Iteration int
	Err       error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed in iteration %d: %v", e.Iteration, e.Err)
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }

// TransportFailure is a driver operation that kept failing after retries
type TransportFailure struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }
