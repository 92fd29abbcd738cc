package inference

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"
)

// Gemini completes prompts through the Gemini API.
type Gemini struct {
	client *genai.Client
	log    *slog.Logger
}

// NewGemini builds a Gemini backend.
func NewGemini(ctx context.Context, cfg ProviderConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if len(cfg.Headers) > 0 {
		cc.HTTPOptions.Headers = make(http.Header, len(cfg.Headers))
		for k, v := range cfg.Headers {
			cc.HTTPOptions.Headers.Set(k, v)
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, log: loggerOrDefault(cfg.Logger)}, nil
}

func (g *Gemini) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	callCtx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{}
	if opts.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	resp, err := g.client.Models.GenerateContent(callCtx, opts.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classify(ctx, ProviderGemini, err)
	}
	g.log.Debug("gemini completion", "model", opts.Model, "candidates", len(resp.Candidates))
	return resp.Text(), nil
}
