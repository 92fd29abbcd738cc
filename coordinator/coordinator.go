// Package coordinator turns a rapid stream of completion requests from one
// editor session into at most one backend call whose result is still
// relevant when it arrives.
//
// Each request takes a token. A new request cancels the previous one,
// waits out the debounce interval, and then serves the completion from the
// cache or from the backend. A request whose token is no longer current at
// a checkpoint ends as Superseded and leaves no trace: nothing is cached
// and no value is returned.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/cache"
	"github.com/Paranoid-AF/ghostline/inference"
	"github.com/Paranoid-AF/ghostline/metrics"
	"github.com/Paranoid-AF/ghostline/timeout"
)

// DefaultDebounce is the quiet period a request waits before it proceeds.
const DefaultDebounce = 300 * time.Millisecond

// OperationName names completion calls in timeouts and metrics.
const OperationName = "completion"

// PromptBuilder renders the backend messages for a completion context.
type PromptBuilder interface {
	Build(cc ghostline.CompletionContext) (system, user string)
}

// Cleaner turns a raw backend reply into insertable text. It reports false
// for replies with nothing usable.
type Cleaner interface {
	Clean(cc ghostline.CompletionContext, raw string) (string, bool)
}

// Config holds the per-session request settings.
type Config struct {
	// Debounce is the quiet period before a request proceeds. Zero selects
	// DefaultDebounce, a negative value disables debouncing.
	Debounce    time.Duration
	MaxTokens   int
	Temperature float64
	Timeout     timeout.Config
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRetryPrompter lets the user retry a timed-out call once, when the
// timeout config is interactive.
func WithRetryPrompter(p timeout.RetryPrompter) Option {
	return func(c *Coordinator) { c.prompter = p }
}

// WithController runs backend calls through ctrl.
func WithController(ctrl *timeout.Controller) Option {
	return func(c *Coordinator) { c.timeouts = ctrl }
}

// Coordinator serializes the completion requests of one editor session.
// Its methods are safe for concurrent use.
type Coordinator struct {
	mu sync.Mutex
	// token is the last token handed out.
	token uint64
	// supersede cancels the current request, whether it is waiting out the
	// debounce or calling the backend.
	supersede context.CancelCauseFunc
	closed    bool

	cache    *cache.Store
	client   inference.Client
	prompts  PromptBuilder
	cleaner  Cleaner
	timeouts *timeout.Controller
	prompter timeout.RetryPrompter
	metrics  *metrics.Collectors
	log      *slog.Logger
	cfg      Config
}

// New creates a coordinator. store is owned by the coordinator and cleared
// on Dispose.
func New(client inference.Client, store *cache.Store, prompts PromptBuilder, cleaner Cleaner, cfg Config, opts ...Option) *Coordinator {
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	c := &Coordinator{
		cache:   store,
		client:  client,
		prompts: prompts,
		cleaner: cleaner,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.timeouts == nil {
		c.timeouts = timeout.NewController(c.log)
	}
	if c.cache == nil {
		c.cache = cache.New(0, 0)
	}
	return c
}

// Request asks for a completion of cc. It supersedes any earlier request of
// this coordinator and returns once the request reaches a terminal state.
// Cancelling ctx cancels the request.
func (c *Coordinator) Request(ctx context.Context, cc ghostline.CompletionContext) Result {
	start := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.finish(Result{State: Cancelled, Err: ErrDisposed}, start)
	}
	c.token++
	token := c.token
	if c.supersede != nil {
		c.supersede(ErrSuperseded)
	}
	rctx, cancel := context.WithCancelCause(ctx)
	c.supersede = cancel
	c.mu.Unlock()
	defer c.release(token, cancel)

	if d := c.cfg.Debounce; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-rctx.Done():
			timer.Stop()
		}
	}
	if res, stop := c.checkpoint(rctx, token); stop {
		return c.finish(res, start)
	}

	if text, ok := c.cache.Get(cc); ok {
		c.metrics.RecordCacheLookup(true)
		return c.finish(Result{State: CacheHit, Text: text, Token: token}, start)
	}
	c.metrics.RecordCacheLookup(false)

	system, user := c.prompts.Build(cc)
	opts := inference.Options{
		Model:       cc.Model,
		System:      system,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	c.metrics.Inflight(1)
	out := c.timeouts.Execute(rctx, timeout.Operation{
		Name:        OperationName,
		Config:      c.cfg.Timeout,
		ContextSize: len(system) + len(user),
		Cancellable: true,
		OnTimeout:   c.prompter,
		Task: func(tctx context.Context) (string, error) {
			return c.client.Complete(tctx, user, opts)
		},
	})
	c.metrics.Inflight(-1)

	if res, stop := c.checkpoint(rctx, token); stop {
		return c.finish(res, start)
	}

	switch out.Outcome {
	case timeout.TimedOut:
		c.metrics.RecordTimeout(OperationName, out.Retried)
		return c.finish(Result{State: TimedOut, Token: token, Err: out.Err}, start)
	case timeout.Cancelled:
		return c.finish(Result{State: Cancelled, Token: token, Err: out.Err}, start)
	case timeout.Failed:
		if errors.Is(out.Err, inference.ErrAborted) {
			return c.finish(Result{State: Cancelled, Token: token, Err: out.Err}, start)
		}
		var be *inference.BackendError
		kind := inference.Generic.String()
		if errors.As(out.Err, &be) {
			kind = be.Kind.String()
		}
		c.metrics.RecordBackendError(kind)
		c.log.Warn("completion failed", "token", token, "kind", kind, "error", out.Err)
		return c.finish(Result{State: Failed, Token: token, Err: out.Err}, start)
	}

	text, ok := c.cleaner.Clean(cc, out.Value)
	if !ok {
		return c.finish(Result{State: Filtered, Token: token}, start)
	}
	if res, stale := c.commit(rctx, token, cc, text); stale {
		return c.finish(res, start)
	}
	return c.finish(Result{State: Completed, Text: text, Token: token}, start)
}

// commit caches text if token is still current. The check and the write
// happen under c.mu so a newer request cannot slip in between.
func (c *Coordinator) commit(rctx context.Context, token uint64, cc ghostline.CompletionContext, text string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.token != token:
		return Result{State: Superseded, Token: token, Err: ErrSuperseded}, true
	case c.closed:
		return Result{State: Cancelled, Token: token, Err: ErrDisposed}, true
	case rctx.Err() != nil:
		return Result{State: Cancelled, Token: token, Err: context.Cause(rctx)}, true
	}
	c.cache.Set(cc, text)
	return Result{}, false
}

// checkpoint ends a request that is no longer current. Staleness is checked
// before cancellation so a superseded request is never reported as cancelled.
func (c *Coordinator) checkpoint(rctx context.Context, token uint64) (Result, bool) {
	c.mu.Lock()
	current, closed := c.token, c.closed
	c.mu.Unlock()

	switch {
	case current != token:
		return Result{State: Superseded, Token: token, Err: ErrSuperseded}, true
	case closed:
		return Result{State: Cancelled, Token: token, Err: ErrDisposed}, true
	case rctx.Err() != nil:
		return Result{State: Cancelled, Token: token, Err: context.Cause(rctx)}, true
	}
	return Result{}, false
}

func (c *Coordinator) release(token uint64, cancel context.CancelCauseFunc) {
	c.mu.Lock()
	if c.token == token {
		c.supersede = nil
	}
	c.mu.Unlock()
	cancel(nil)
}

func (c *Coordinator) finish(res Result, start time.Time) Result {
	res.Elapsed = time.Since(start)
	c.metrics.ObserveRequest(res.State.String(), res.Elapsed)
	c.log.Debug("request finished", "token", res.Token, "state", res.State, "elapsed", res.Elapsed)
	return res
}

// Cancel cancels the current request, if any. It reports whether a request
// was pending or in flight.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supersede == nil {
		return false
	}
	c.supersede(ErrCancelled)
	c.supersede = nil
	return true
}

// Dispose cancels the current request, rejects later ones and clears the cache.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	c.closed = true
	if c.supersede != nil {
		c.supersede(ErrDisposed)
		c.supersede = nil
	}
	c.mu.Unlock()
	c.cache.Clear()
}

// ClearCache drops all cached completions, e.g. after a provider switch.
func (c *Coordinator) ClearCache() {
	c.cache.Clear()
}

// CacheStats returns the statistics of the coordinator's cache.
func (c *Coordinator) CacheStats() cache.Stats {
	return c.cache.Stats()
}
