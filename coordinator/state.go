package coordinator

import (
	"errors"
	"fmt"
	"time"
)

// State is the terminal state of a request. Every request ends in exactly one.
type State int

const (
	// Completed: a fresh backend result was cleaned, cached and returned.
	Completed State = iota
	// CacheHit: the result was served from the cache.
	CacheHit
	// Superseded: a newer request made this one stale. Silent.
	Superseded
	// Cancelled: the caller, the host or Dispose cancelled the request. Silent.
	Cancelled
	// Filtered: the backend answered with nothing usable. Silent.
	Filtered
	// TimedOut: the backend call exceeded its deadline. Err is a *timeout.Error.
	TimedOut
	// Failed: the backend reported an error. Err is the backend's error.
	Failed
)

func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case CacheHit:
		return "cache_hit"
	case Superseded:
		return "superseded"
	case Cancelled:
		return "cancelled"
	case Filtered:
		return "filtered"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Surfaced reports whether the state should be shown to the user.
func (s State) Surfaced() bool {
	return s == TimedOut || s == Failed
}

var (
	// ErrSuperseded is the cancellation cause of a request overtaken by a newer one.
	ErrSuperseded = errors.New("request superseded")
	// ErrCancelled is the cancellation cause used by Cancel.
	ErrCancelled = errors.New("request cancelled")
	// ErrDisposed is reported for requests of a disposed coordinator.
	ErrDisposed = errors.New("coordinator disposed")
)

// Result is the outcome of Request.
type Result struct {
	State   State
	Text    string
	Token   uint64
	Err     error
	Elapsed time.Duration
}

// Value returns the completion text. It reports false unless the request
// completed or hit the cache.
func (r Result) Value() (string, bool) {
	if r.State == Completed || r.State == CacheHit {
		return r.Text, true
	}
	return "", false
}
