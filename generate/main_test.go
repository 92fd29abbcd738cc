package generate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/inference"
	"github.com/Paranoid-AF/ghostline/timeout"
)

// isolate keeps the user's config, prompt and keys out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("GHOSTLINE_CONFIG_DIR", t.TempDir())
	for _, k := range []string{
		"GHOSTLINE_PROVIDER", "GHOSTLINE_API_BASE_URL", "GHOSTLINE_API_KEY", "GHOSTLINE_MODEL",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func testConfig() *ghostline.Config {
	cfg := ghostline.DefaultConfig()
	cfg.Completion.DebounceMs = -1
	return cfg
}

func testEngine(t *testing.T, cfg *ghostline.Config, client inference.Client, opts ...Option) *Engine {
	t.Helper()
	isolate(t)
	opts = append([]Option{
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	if client != nil {
		opts = append(opts, WithClient(client))
	}
	e := NewEngine(context.Background(), opts...)
	t.Cleanup(e.Close)
	return e
}

type countingClient struct {
	calls atomic.Int32
	fn    func(ctx context.Context, prompt string, opts inference.Options) (string, error)
}

func (c *countingClient) Complete(ctx context.Context, prompt string, opts inference.Options) (string, error) {
	c.calls.Add(1)
	return c.fn(ctx, prompt, opts)
}

func replyWith(text string) *countingClient {
	return &countingClient{fn: func(context.Context, string, inference.Options) (string, error) {
		return text, nil
	}}
}

func goRequest(session, prefix string) *ghostline.Request {
	return &ghostline.Request{RequestID: 7, SessionID: session, Language: "go", Prefix: prefix}
}

func TestCompleteNotConfigured(t *testing.T) {
	e := testEngine(t, testConfig(), nil)

	resp := e.Complete(context.Background(), goRequest("s", "fmt."))
	if resp.Error == nil || resp.Error.Code != ghostline.CodeNotConfigured {
		t.Fatalf("expected not_configured error, got %+v", resp.Error)
	}
	if resp.State != "failed" || resp.RequestID != 7 {
		t.Errorf("resp = %+v", resp)
	}
	if e.Sessions() != 0 {
		t.Error("unconfigured engine should not open sessions")
	}

	edit := e.Edit(context.Background(), &ghostline.EditRequest{Instruction: "rename"})
	if edit.Error == nil || edit.Error.Code != ghostline.CodeNotConfigured {
		t.Errorf("edit error = %+v", edit.Error)
	}
}

func TestCompleteAndCacheHit(t *testing.T) {
	var model atomic.Value
	client := &countingClient{fn: func(_ context.Context, _ string, opts inference.Options) (string, error) {
		model.Store(opts.Model)
		return "Println()", nil
	}}
	e := testEngine(t, testConfig(), client)

	resp := e.Complete(context.Background(), goRequest("s", "fmt."))
	if resp.State != "completed" || resp.Completion != "Println()" || resp.Error != nil {
		t.Fatalf("resp = %+v", resp)
	}
	if got := model.Load(); got != "gpt-4.1-mini" {
		t.Errorf("model = %v, want configured default", got)
	}

	again := e.Complete(context.Background(), goRequest("s", "fmt."))
	if again.State != "cache_hit" || again.Completion != "Println()" {
		t.Errorf("second resp = %+v", again)
	}
	if n := client.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

func TestRequestModelOverride(t *testing.T) {
	var model atomic.Value
	client := &countingClient{fn: func(_ context.Context, _ string, opts inference.Options) (string, error) {
		model.Store(opts.Model)
		return "x", nil
	}}
	e := testEngine(t, testConfig(), client)

	req := goRequest("s", "a")
	req.Model = "local-coder"
	e.Complete(context.Background(), req)
	if got := model.Load(); got != "local-coder" {
		t.Errorf("model = %v", got)
	}
}

func TestSessionsHaveSeparateCaches(t *testing.T) {
	client := replyWith("value")
	e := testEngine(t, testConfig(), client)

	e.Complete(context.Background(), goRequest("a", "x := "))
	resp := e.Complete(context.Background(), goRequest("b", "x := "))
	if resp.State != "completed" {
		t.Errorf("session b state = %q, want completed", resp.State)
	}
	if e.Sessions() != 2 {
		t.Errorf("sessions = %d, want 2", e.Sessions())
	}
	if n := client.calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestEmptySessionUsesDefault(t *testing.T) {
	e := testEngine(t, testConfig(), replyWith("v"))
	e.Complete(context.Background(), goRequest("", "a"))
	e.Complete(context.Background(), goRequest(DefaultSession, "b"))
	if e.Sessions() != 1 {
		t.Errorf("sessions = %d, want 1", e.Sessions())
	}
}

func TestMaxSessionsEvictsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.Completion.MaxSessions = 2
	e := testEngine(t, cfg, replyWith("v"))

	for _, id := range []string{"a", "b", "c"} {
		e.Complete(context.Background(), goRequest(id, "x"))
	}
	if e.Sessions() != 2 {
		t.Errorf("sessions = %d, want 2", e.Sessions())
	}
}

func TestCompleteTimeoutError(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.Completion = ghostline.TimeoutConfig{BaseMs: 20, MinMs: 10, MaxMs: 20}
	client := &countingClient{fn: func(ctx context.Context, _ string, _ inference.Options) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	e := testEngine(t, cfg, client)

	resp := e.Complete(context.Background(), goRequest("s", "slow"))
	if resp.State != "timed_out" {
		t.Fatalf("state = %q", resp.State)
	}
	if resp.Error == nil || resp.Error.Code != ghostline.CodeTimeout {
		t.Fatalf("error = %+v", resp.Error)
	}
	if resp.Error.Operation != "completion" || resp.Error.TimeoutMs != 20 {
		t.Errorf("error = %+v", resp.Error)
	}
	if resp.Error.ElapsedMs < 20 {
		t.Errorf("elapsed_ms = %d, want >= 20", resp.Error.ElapsedMs)
	}
}

func TestCompleteBackendError(t *testing.T) {
	client := &countingClient{fn: func(context.Context, string, inference.Options) (string, error) {
		return "", &inference.BackendError{Kind: inference.Unauthorized, Provider: "openai", StatusCode: 401, Message: "bad key"}
	}}
	e := testEngine(t, testConfig(), client)

	resp := e.Complete(context.Background(), goRequest("s", "x"))
	if resp.State != "failed" || resp.Error == nil || resp.Error.Code != ghostline.CodeUnauthorized {
		t.Errorf("resp = %+v, error = %+v", resp, resp.Error)
	}
}

func TestCompleteFilteredHasNoError(t *testing.T) {
	e := testEngine(t, testConfig(), replyWith(" \n\n"))
	resp := e.Complete(context.Background(), goRequest("s", "x"))
	if resp.State != "filtered" || resp.Error != nil || resp.Completion != "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCancelSession(t *testing.T) {
	started := make(chan struct{})
	client := &countingClient{fn: func(ctx context.Context, _ string, _ inference.Options) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	e := testEngine(t, testConfig(), client)

	if e.Cancel("nobody") {
		t.Error("Cancel of an unknown session should report false")
	}

	done := make(chan *ghostline.Response, 1)
	go func() { done <- e.Complete(context.Background(), goRequest("s", "x")) }()
	<-started
	if !e.Cancel("s") {
		t.Error("Cancel should report the in-flight request")
	}

	select {
	case resp := <-done:
		if resp.State != "cancelled" || resp.Error != nil {
			t.Errorf("resp = %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not end after Cancel")
	}
}

func TestEdit(t *testing.T) {
	var prompt, system atomic.Value
	client := &countingClient{fn: func(_ context.Context, p string, opts inference.Options) (string, error) {
		prompt.Store(p)
		system.Store(opts.System)
		if opts.MaxTokens < DefaultEditMaxTokens {
			t.Errorf("max tokens = %d", opts.MaxTokens)
		}
		return "total := sum(xs)", nil
	}}
	e := testEngine(t, testConfig(), client)

	resp := e.Edit(context.Background(), &ghostline.EditRequest{
		RequestID:   3,
		SessionID:   "s",
		Language:    "go",
		Prefix:      "func f() {\n",
		Selection:   "t := add(xs)",
		Suffix:      "\n}",
		Instruction: "rename to total and use sum",
	})
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	if resp.RequestID != 3 || resp.Text != "total := sum(xs)" {
		t.Errorf("resp = %+v", resp)
	}
	p := prompt.Load().(string)
	if !strings.Contains(p, "<SELECTION>t := add(xs)</SELECTION>") || !strings.Contains(p, "Instruction: rename to total and use sum") {
		t.Errorf("prompt = %q", p)
	}
	if system.Load().(string) == "" {
		t.Error("system prompt is empty")
	}
	if e.Sessions() != 0 {
		t.Error("edits should not open completion sessions")
	}
}

func TestEditRequiresInstruction(t *testing.T) {
	client := replyWith("x")
	e := testEngine(t, testConfig(), client)

	resp := e.Edit(context.Background(), &ghostline.EditRequest{Selection: "x", Instruction: "  "})
	if resp.Error == nil || resp.Error.Code != ghostline.CodeInvalidRequest {
		t.Errorf("error = %+v", resp.Error)
	}
	if client.calls.Load() != 0 {
		t.Error("backend was called")
	}
}

func TestEditTimeoutRetriesWithPrompter(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.Edit = ghostline.TimeoutConfig{BaseMs: 20, MaxMs: 20, Interactive: true, RetryFactor: 2}
	var attempts atomic.Int32
	client := &countingClient{fn: func(ctx context.Context, _ string, _ inference.Options) (string, error) {
		if attempts.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "done", nil
	}}
	var asked atomic.Value
	prompter := func(_ context.Context, ev timeout.TimeoutEvent) bool {
		asked.Store(ev)
		return true
	}
	e := testEngine(t, cfg, client, WithRetryPrompter(prompter))

	resp := e.Edit(context.Background(), &ghostline.EditRequest{Selection: "x", Instruction: "fix"})
	if resp.Error != nil || resp.Text != "done" {
		t.Fatalf("resp = %+v, error = %+v", resp, resp.Error)
	}
	ev, ok := asked.Load().(timeout.TimeoutEvent)
	if !ok {
		t.Fatal("prompter was not asked")
	}
	if ev.Operation != EditOperation || ev.Timeout != 20*time.Millisecond || ev.RetryTimeout != 40*time.Millisecond {
		t.Errorf("event = %+v", ev)
	}
}

func TestReloadClosesSessions(t *testing.T) {
	e := testEngine(t, testConfig(), replyWith("v"))
	e.Complete(context.Background(), goRequest("s", "x"))
	if e.Sessions() != 1 {
		t.Fatalf("sessions = %d", e.Sessions())
	}
	e.Reload(context.Background())
	if e.Sessions() != 0 {
		t.Errorf("sessions after reload = %d, want 0", e.Sessions())
	}
	if resp := e.Complete(context.Background(), goRequest("s", "x")); resp.State != "completed" {
		t.Errorf("after reload state = %q, want a fresh completion", resp.State)
	}
}

func TestErrorFor(t *testing.T) {
	var logs bytes.Buffer
	e := &Engine{log: slog.New(slog.NewTextHandler(&logs, nil))}

	te := &timeout.Error{Operation: "edit", Timeout: 1500 * time.Millisecond, Elapsed: 1502 * time.Millisecond}
	got := e.errorFor(te)
	if got.Code != ghostline.CodeTimeout || got.TimeoutMs != 1500 || got.ElapsedMs != 1502 || got.Operation != "edit" {
		t.Errorf("timeout = %+v", got)
	}

	rl := &inference.BackendError{Kind: inference.RateLimited, Provider: "anthropic", StatusCode: 429}
	if got := e.errorFor(errors.Join(errors.New("ctx"), rl)); got.Code != ghostline.CodeRateLimited {
		t.Errorf("rate limited = %+v", got)
	}
	if got := e.errorFor(errors.New("boom")); got.Code != ghostline.CodeAPIError || got.Message != "boom" {
		t.Errorf("generic = %+v", got)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected log output: %s", logs.String())
	}

	if got := e.errorFor(nil); got.Code != ghostline.CodeAPIError {
		t.Errorf("nil = %+v", got)
	}
	if !strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("missing error log for nil cause: %q", logs.String())
	}
}

func TestTimeoutConfig(t *testing.T) {
	got := TimeoutConfig(ghostline.TimeoutConfig{
		BaseMs: 5000, PerByteMs: 0.5, MinMs: 2000, MaxMs: 20000,
		Interactive: true, RetryFactor: 3, RetryMaxMs: 30000,
	})
	want := timeout.Config{
		Base: 5 * time.Second, PerByte: 500 * time.Microsecond,
		Min: 2 * time.Second, Max: 20 * time.Second,
		Interactive: true, RetryFactor: 3, RetryMax: 30 * time.Second,
	}
	if got != want {
		t.Errorf("TimeoutConfig = %+v, want %+v", got, want)
	}
	if d := got.Effective(10000); d != 10*time.Second {
		t.Errorf("Effective(10000) = %v", d)
	}
}

func TestCoordinatorConfigDebounce(t *testing.T) {
	cfg := testConfig()
	cfg.Completion.DebounceMs = 250
	if got := coordinatorConfig(cfg).Debounce; got != 250*time.Millisecond {
		t.Errorf("debounce = %v", got)
	}
	cfg.Completion.DebounceMs = -5
	if got := coordinatorConfig(cfg).Debounce; got >= 0 {
		t.Errorf("negative debounce_ms should disable debouncing, got %v", got)
	}
}

func TestCacheStats(t *testing.T) {
	e := testEngine(t, testConfig(), replyWith("v"))
	if _, ok := e.CacheStats("s"); ok {
		t.Error("stats of an unknown session")
	}
	e.Complete(context.Background(), goRequest("s", "x"))
	e.Complete(context.Background(), goRequest("s", "x"))
	st, ok := e.CacheStats("s")
	if !ok {
		t.Fatal("no stats for a live session")
	}
	if st.Entries != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("stats = %+v", st)
	}
}
