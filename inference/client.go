// Package inference sends prompts to a completion backend. OpenAI (and any
// OpenAI-compatible server), Anthropic and Gemini are supported.
package inference

import (
	"context"
	"time"
)

// Options control a single completion call.
type Options struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature float64
	// Timeout bounds the HTTP exchange on top of any deadline on ctx.
	Timeout time.Duration
}

// Client completes a prompt. Cancelling ctx aborts the call, in which case
// the returned error matches ErrAborted.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string, opts Options) (string, error)

func (f ClientFunc) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
