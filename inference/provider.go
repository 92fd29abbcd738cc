package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Headers  map[string]string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// key identifies a configuration without exposing the API key.
func (c ProviderConfig) key() string {
	h := sha256.New()
	keyHash := sha256.Sum256([]byte(c.APIKey))
	fmt.Fprintf(h, "%s\x00%s\x00%x", c.Provider, c.BaseURL, keyHash[:8])

	names := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(h, "\x00%s=%s", k, c.Headers[k])
	}
	return c.Provider + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// NewClient builds the backend named by cfg.Provider.
func NewClient(ctx context.Context, cfg ProviderConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Registry reuses backend clients across config reloads. Clients are built
// once per distinct configuration, even under concurrent lookups.
type Registry struct {
	clients sync.Map
	group   singleflight.Group
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: loggerOrDefault(log)}
}

// Client returns the cached client for cfg, building it on first use.
func (r *Registry) Client(ctx context.Context, cfg ProviderConfig) (Client, error) {
	key := cfg.key()
	if c, ok := r.clients.Load(key); ok {
		return c.(Client), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if c, ok := r.clients.Load(key); ok {
			return c, nil
		}
		r.log.Debug("creating inference client", "provider", cfg.Provider, "key", key[:len(cfg.Provider)+9])
		c, err := NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.clients.Store(key, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

// Clear drops all cached clients.
func (r *Registry) Clear() {
	r.clients.Range(func(k, _ any) bool {
		r.clients.Delete(k)
		return true
	})
}

func loggerOrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
