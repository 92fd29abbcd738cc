// Package timeout bounds the latency of cancellable work. The deadline of an
// operation scales with the size of its input, and an operation kind may let
// the user retry once with a longer deadline after a timeout.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultProgressInterval is how often Progress is called while waiting.
const DefaultProgressInterval = time.Second

// Outcome classifies how an operation ended.
type Outcome int

const (
	Succeeded Outcome = iota
	TimedOut
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Task is the unit of work. It must return promptly once ctx is done.
type Task func(ctx context.Context) (string, error)

// TimeoutEvent is passed to a RetryPrompter.
type TimeoutEvent struct {
	Operation   string
	Timeout     time.Duration
	Elapsed     time.Duration
	ContextSize int
	// RetryTimeout is the deadline the retry would run with.
	RetryTimeout time.Duration
}

// RetryPrompter asks the user whether a timed-out operation should be run
// again with a longer deadline. It returns false when ctx is done.
type RetryPrompter func(ctx context.Context, ev TimeoutEvent) bool

// Operation describes one call to Execute.
type Operation struct {
	Name        string
	Task        Task
	Config      Config
	ContextSize int

	// Cancellable lets cancellation of the parent context abort the task.
	// When false the task only stops at its deadline.
	Cancellable bool

	// Progress, if set, is called every ProgressInterval while the task runs.
	Progress         func(elapsed, timeout time.Duration)
	ProgressInterval time.Duration

	// OnTimeout is consulted once when the task times out and Config.Interactive is set.
	OnTimeout RetryPrompter
}

// Result is the outcome of Execute. Err holds the task's error for Failed,
// a *Error for TimedOut and the parent's cancellation cause for Cancelled.
type Result struct {
	Outcome Outcome
	Value   string
	Err     error
	// Timeout is the deadline of the last attempt.
	Timeout time.Duration
	Elapsed time.Duration
	Retried bool
}

// Success reports whether the task returned a value.
func (r Result) Success() bool { return r.Outcome == Succeeded }

// TimedOut reports whether the deadline elapsed.
func (r Result) TimedOut() bool { return r.Outcome == TimedOut }

// Controller runs operations under adaptive deadlines.
type Controller struct {
	log *slog.Logger
}

// NewController returns a controller logging to log (slog.Default() if nil).
func NewController(log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{log: log}
}

// Execute runs op.Task under its effective deadline. A timed-out task is
// retried at most once, and only when the operation kind is interactive and
// op.OnTimeout agrees.
func (c *Controller) Execute(ctx context.Context, op Operation) Result {
	start := time.Now()
	limit := op.Config.Effective(op.ContextSize)

	res := c.attempt(ctx, op, limit)
	if res.Outcome == TimedOut && op.Config.Interactive && op.OnTimeout != nil && ctx.Err() == nil {
		retry := op.Config.RetryTimeout(limit)
		ev := TimeoutEvent{
			Operation:    op.Name,
			Timeout:      limit,
			Elapsed:      res.Elapsed,
			ContextSize:  op.ContextSize,
			RetryTimeout: retry,
		}
		if op.OnTimeout(ctx, ev) && ctx.Err() == nil {
			c.log.Info("retrying timed out operation", "operation", op.Name, "timeout", retry)
			res = c.attempt(ctx, op, retry)
			res.Retried = true
		} else if ctx.Err() != nil {
			res = Result{Outcome: Cancelled, Err: context.Cause(ctx), Timeout: limit}
		}
	}

	res.Elapsed = time.Since(start)
	if res.Outcome == TimedOut {
		res.Err = &Error{
			Operation:   op.Name,
			Timeout:     res.Timeout,
			Elapsed:     res.Elapsed,
			ContextSize: op.ContextSize,
			Retried:     res.Retried,
		}
		c.log.Warn("operation timed out", "operation", op.Name, "timeout", res.Timeout, "elapsed", res.Elapsed, "context_size", op.ContextSize)
	}
	return res
}

type taskResult struct {
	value string
	err   error
}

func (c *Controller) attempt(parent context.Context, op Operation, limit time.Duration) Result {
	base := parent
	if !op.Cancellable {
		base = context.WithoutCancel(parent)
	}

	var (
		tctx   context.Context
		cancel context.CancelFunc
	)
	if limit > 0 {
		tctx, cancel = context.WithTimeoutCause(base, limit, ErrDeadline)
	} else {
		tctx, cancel = context.WithCancel(base)
	}
	defer cancel()

	start := time.Now()
	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskResult{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := op.Task(tctx)
		done <- taskResult{value: v, err: err}
	}()

	var tick <-chan time.Time
	if op.Progress != nil {
		interval := op.ProgressInterval
		if interval <= 0 {
			interval = DefaultProgressInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case r := <-done:
			res := Result{Value: r.value, Err: r.err, Timeout: limit, Elapsed: time.Since(start)}
			switch {
			case r.err == nil:
				res.Outcome = Succeeded
			case tctx.Err() != nil:
				// The task noticed cancellation before we did.
				res.Outcome, res.Err = c.classifyDone(parent, tctx, r.err)
			default:
				res.Outcome = Failed
			}
			return res
		case <-tctx.Done():
			// The late task result is dropped; done is buffered.
			outcome, err := c.classifyDone(parent, tctx, nil)
			return Result{Outcome: outcome, Err: err, Timeout: limit, Elapsed: time.Since(start)}
		case <-tick:
			op.Progress(time.Since(start), limit)
		}
	}
}

// classifyDone separates a deadline from cancellation of the parent.
func (c *Controller) classifyDone(parent, tctx context.Context, taskErr error) (Outcome, error) {
	if errors.Is(context.Cause(tctx), ErrDeadline) {
		return TimedOut, nil
	}
	if parent.Err() != nil {
		return Cancelled, context.Cause(parent)
	}
	if taskErr != nil {
		return Failed, taskErr
	}
	return Cancelled, context.Cause(tctx)
}
