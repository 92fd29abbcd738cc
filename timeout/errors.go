package timeout

import (
	"errors"
	"fmt"
	"time"
)

// ErrDeadline is the cancellation cause of a task whose deadline elapsed.
var ErrDeadline = errors.New("operation deadline exceeded")

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("task panicked")

// Error reports a timed-out operation with enough detail to act on.
type Error struct {
	Operation   string
	Timeout     time.Duration
	Elapsed     time.Duration
	ContextSize int
	Retried     bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s timed out after %s (limit %s, %d bytes of context)",
		e.Operation, e.Elapsed.Round(time.Millisecond), e.Timeout, e.ContextSize)
	if e.Retried {
		msg += " after one retry"
	}
	return msg
}

// Unwrap makes errors.Is(err, ErrDeadline) hold for timeout errors.
func (e *Error) Unwrap() error {
	return ErrDeadline
}
