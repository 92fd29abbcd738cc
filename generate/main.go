// Package generate runs completion and edit requests for editor sessions.
package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/cache"
	"github.com/Paranoid-AF/ghostline/coordinator"
	"github.com/Paranoid-AF/ghostline/inference"
	"github.com/Paranoid-AF/ghostline/metrics"
	"github.com/Paranoid-AF/ghostline/prompt"
	"github.com/Paranoid-AF/ghostline/timeout"
)

const (
	// DefaultSession is used for requests without a session id.
	DefaultSession = "default"
	// DefaultMaxSessions bounds the number of live sessions.
	DefaultMaxSessions = 64
	// DefaultEditMaxTokens is the minimum token budget of an edit.
	DefaultEditMaxTokens = 1024
	// EditOperation names edit calls in timeouts and metrics.
	EditOperation = "edit"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig uses cfg instead of loading the config file.
func WithConfig(cfg *ghostline.Config) Option {
	return func(e *Engine) { e.fixed = cfg }
}

// WithClient sends all requests to client instead of the configured provider.
func WithClient(client inference.Client) Option {
	return func(e *Engine) { e.override = client }
}

// WithRetryPrompter asks the user for one retry after a timeout of an
// interactive operation kind.
func WithRetryPrompter(p timeout.RetryPrompter) Option {
	return func(e *Engine) { e.prompter = p }
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// editCall is the cancel handle of a running edit.
type editCall struct {
	cancel context.CancelCauseFunc
}

// Engine owns the backend client, the prompt builder and one coordinator
// per editor session.
type Engine struct {
	mu       sync.Mutex
	config   *ghostline.Config
	client   inference.Client // nil when generation is not configured
	prompts  *prompt.Builder
	sessions *lru.Cache[string, *coordinator.Coordinator]
	edits    map[string]*editCall

	fixed    *ghostline.Config
	override inference.Client
	registry *inference.Registry
	timeouts *timeout.Controller
	prompter timeout.RetryPrompter
	metrics  *metrics.Collectors
	log      *slog.Logger
}

// NewEngine creates an engine from the config file, or from WithConfig.
func NewEngine(ctx context.Context, opts ...Option) *Engine {
	e := &Engine{edits: make(map[string]*editCall)}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.registry = inference.NewRegistry(e.log)
	e.timeouts = timeout.NewController(e.log)
	e.load(ctx)
	return e
}

func (e *Engine) load(ctx context.Context) {
	cfg := e.fixed
	if cfg == nil {
		var err error
		cfg, err = ghostline.LoadConfig()
		if err != nil {
			e.log.Warn("failed to load config, using defaults", "error", err)
			cfg = ghostline.DefaultConfig()
		}
	}

	custom := prompt.LoadCustom(ghostline.PromptPath())
	if custom == "" {
		e.log.Debug("no custom prompt, using built-in default")
	}

	client, err := e.buildClient(ctx, cfg)
	if err != nil {
		e.log.Error("failed to create inference client", "error", err)
	}

	maxSessions := cfg.Completion.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	sessions, err := lru.NewWithEvict(maxSessions, func(id string, c *coordinator.Coordinator) {
		e.log.Debug("session closed", "session", id)
		c.Dispose()
	})
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}

	e.mu.Lock()
	old := e.sessions
	e.config = cfg
	e.client = client
	e.prompts = prompt.NewBuilder(custom, e.log)
	e.sessions = sessions
	e.mu.Unlock()

	if old != nil {
		old.Purge()
	}
	e.metrics.SetSessions(0)
}

func (e *Engine) buildClient(ctx context.Context, cfg *ghostline.Config) (inference.Client, error) {
	if e.override != nil {
		return e.override, nil
	}
	if !ghostline.GenerationEnabled(cfg) {
		e.log.Warn("generation API key not configured")
		return nil, nil
	}
	pc := inference.ProviderConfig{
		Provider: ghostline.ResolveProvider(cfg),
		BaseURL:  ghostline.ResolveBaseURL(cfg),
		APIKey:   ghostline.ResolveAPIKey(cfg),
		Logger:   e.log,
	}
	if ghostline.OpenRouterTelemetryEnabled(cfg) && strings.Contains(pc.BaseURL, "openrouter.ai") {
		pc.Headers = map[string]string{
			"X-Title":      "ghostline - inline code completion",
			"HTTP-Referer": "https://github.com/Paranoid-AF/ghostline",
		}
	}
	return e.registry.Client(ctx, pc)
}

// Reload re-reads the config and prompt. Live sessions are closed; their
// in-flight requests end as cancelled.
func (e *Engine) Reload(ctx context.Context) {
	e.load(ctx)
	e.log.Info("engine reloaded")
}

// Config returns the active configuration.
func (e *Engine) Config() *ghostline.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Len()
}

// CacheStats returns the cache statistics of a live session.
func (e *Engine) CacheStats(sessionID string) (cache.Stats, bool) {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	e.mu.Lock()
	c, ok := e.sessions.Peek(sessionID)
	e.mu.Unlock()
	if !ok {
		return cache.Stats{}, false
	}
	return c.CacheStats(), true
}

// Close disposes all sessions and cancels running edits.
func (e *Engine) Close() {
	e.mu.Lock()
	sessions := e.sessions
	for id, call := range e.edits {
		call.cancel(coordinator.ErrDisposed)
		delete(e.edits, id)
	}
	e.mu.Unlock()

	sessions.Purge()
	e.registry.Clear()
	e.metrics.SetSessions(0)
}

// session returns the coordinator of id, creating it on first use. It
// returns nil when generation is not configured.
func (e *Engine) session(id string) (*coordinator.Coordinator, *ghostline.Config) {
	if id == "" {
		id = DefaultSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil, e.config
	}
	if c, ok := e.sessions.Get(id); ok {
		return c, e.config
	}
	cfg := e.config
	store := cache.New(cfg.Completion.CacheCapacity, time.Duration(cfg.Completion.CacheTTLMs)*time.Millisecond)
	c := coordinator.New(e.client, store, e.prompts, e.prompts, coordinatorConfig(cfg),
		coordinator.WithLogger(e.log.With("session", id)),
		coordinator.WithMetrics(e.metrics),
		coordinator.WithRetryPrompter(e.prompter),
		coordinator.WithController(e.timeouts),
	)
	e.sessions.Add(id, c)
	e.metrics.SetSessions(e.sessions.Len())
	e.log.Debug("session opened", "session", id)
	return c, cfg
}

func notConfigured() *ghostline.Error {
	return &ghostline.Error{
		Code:    ghostline.CodeNotConfigured,
		Message: "generation API key not configured; set GHOSTLINE_API_KEY or edit " + ghostline.ConfigPath(),
	}
}

// Complete runs a completion request through its session's coordinator.
func (e *Engine) Complete(ctx context.Context, req *ghostline.Request) *ghostline.Response {
	coord, cfg := e.session(req.SessionID)
	if coord == nil {
		return &ghostline.Response{
			RequestID: req.RequestID,
			State:     coordinator.Failed.String(),
			Error:     notConfigured(),
		}
	}
	model := req.Model
	if model == "" {
		model = ghostline.ResolveModel(cfg)
	}
	cc := ghostline.NewCompletionContext(req.Language, model, req.Filename,
		req.Prefix, req.Suffix, req.Multiline, cfg.Completion.ContextLines)

	res := coord.Request(ctx, cc)
	resp := &ghostline.Response{RequestID: req.RequestID, State: res.State.String()}
	if text, ok := res.Value(); ok {
		resp.Completion = text
	}
	if res.State.Surfaced() {
		resp.Error = e.errorFor(res.Err)
	}
	return resp
}

// Edit rewrites the selection of req. Edits skip debouncing and caching.
// A newer edit of the same session cancels the previous one.
func (e *Engine) Edit(ctx context.Context, req *ghostline.EditRequest) *ghostline.EditResponse {
	resp := &ghostline.EditResponse{RequestID: req.RequestID}
	if strings.TrimSpace(req.Instruction) == "" {
		resp.Error = &ghostline.Error{Code: ghostline.CodeInvalidRequest, Message: "instruction is required"}
		return resp
	}

	e.mu.Lock()
	client, prompts, cfg := e.client, e.prompts, e.config
	if client == nil {
		e.mu.Unlock()
		resp.Error = notConfigured()
		return resp
	}
	sid := req.SessionID
	if sid == "" {
		sid = DefaultSession
	}
	if prev, ok := e.edits[sid]; ok {
		prev.cancel(coordinator.ErrSuperseded)
	}
	ectx, cancel := context.WithCancelCause(ctx)
	call := &editCall{cancel: cancel}
	e.edits[sid] = call
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		if e.edits[sid] == call {
			delete(e.edits, sid)
		}
		e.mu.Unlock()
		cancel(nil)
	}()

	model := req.Model
	if model == "" {
		model = ghostline.ResolveModel(cfg)
	}
	system, user := prompts.BuildEdit(prompt.Edit{
		Language:    req.Language,
		Filename:    req.Filename,
		Prefix:      req.Prefix,
		Selection:   req.Selection,
		Suffix:      req.Suffix,
		Instruction: req.Instruction,
	})
	opts := inference.Options{
		Model:       model,
		System:      system,
		MaxTokens:   max(cfg.Generation.MaxTokens, DefaultEditMaxTokens),
		Temperature: cfg.Generation.Temperature,
	}

	out := e.timeouts.Execute(ectx, timeout.Operation{
		Name:        EditOperation,
		Config:      TimeoutConfig(cfg.Timeouts.Edit),
		ContextSize: len(system) + len(user),
		Cancellable: true,
		OnTimeout:   e.prompter,
		Task: func(tctx context.Context) (string, error) {
			return client.Complete(tctx, user, opts)
		},
	})

	switch out.Outcome {
	case timeout.Succeeded:
		if text, ok := prompt.CleanEdit(out.Value); ok {
			resp.Text = text
		}
	case timeout.TimedOut:
		e.metrics.RecordTimeout(EditOperation, out.Retried)
		resp.Error = e.errorFor(out.Err)
	case timeout.Cancelled:
		e.log.Debug("edit cancelled", "session", sid, "cause", out.Err)
	case timeout.Failed:
		if errors.Is(out.Err, inference.ErrAborted) {
			break
		}
		resp.Error = e.errorFor(out.Err)
		e.metrics.RecordBackendError(resp.Error.Code)
		e.log.Warn("edit failed", "session", sid, "error", out.Err)
	}
	return resp
}

// Cancel cancels the in-flight completion and edit of a session. It reports
// whether anything was cancelled.
func (e *Engine) Cancel(sessionID string) bool {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	e.mu.Lock()
	coord, ok := e.sessions.Peek(sessionID)
	edit, editing := e.edits[sessionID]
	if editing {
		delete(e.edits, sessionID)
	}
	e.mu.Unlock()

	cancelled := false
	if ok {
		cancelled = coord.Cancel()
	}
	if editing {
		edit.cancel(coordinator.ErrCancelled)
		cancelled = true
	}
	return cancelled
}

// errorFor maps a surfaced request error to its IPC form. Surfaced outcomes
// always carry an error, so a nil err is a bug in the caller.
func (e *Engine) errorFor(err error) *ghostline.Error {
	if err == nil {
		e.log.Error("surfaced result without an error")
		return &ghostline.Error{Code: ghostline.CodeAPIError, Message: "internal error: missing cause"}
	}
	var te *timeout.Error
	if errors.As(err, &te) {
		return &ghostline.Error{
			Code:      ghostline.CodeTimeout,
			Message:   te.Error(),
			Operation: te.Operation,
			ElapsedMs: te.Elapsed.Milliseconds(),
			TimeoutMs: te.Timeout.Milliseconds(),
		}
	}
	var be *inference.BackendError
	if errors.As(err, &be) {
		return &ghostline.Error{Code: be.Kind.String(), Message: be.Error()}
	}
	return &ghostline.Error{Code: ghostline.CodeAPIError, Message: err.Error()}
}

// TimeoutConfig converts a configured timeout kind to a timeout.Config.
func TimeoutConfig(tc ghostline.TimeoutConfig) timeout.Config {
	return timeout.Config{
		Base:        ms(tc.BaseMs),
		PerByte:     time.Duration(tc.PerByteMs * float64(time.Millisecond)),
		Min:         ms(tc.MinMs),
		Max:         ms(tc.MaxMs),
		Interactive: tc.Interactive,
		RetryFactor: tc.RetryFactor,
		RetryMax:    ms(tc.RetryMaxMs),
	}
}

func coordinatorConfig(cfg *ghostline.Config) coordinator.Config {
	debounce := ms(cfg.Completion.DebounceMs)
	if cfg.Completion.DebounceMs < 0 {
		debounce = -1
	}
	return coordinator.Config{
		Debounce:    debounce,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     TimeoutConfig(cfg.Timeouts.Completion),
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
