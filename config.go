package ghostline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	defaults "github.com/Paranoid-AF/ghostline/default"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported generation providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config represents the user's ghostline configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Completion CompletionConfig `yaml:"completion" json:"completion"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts" json:"timeouts"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// GenerationConfig holds settings for the inference backend.
type GenerationConfig struct {
	Provider    string  `yaml:"provider" json:"provider"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature" json:"temperature,omitempty"`
}

// CompletionConfig holds request coordination settings.
type CompletionConfig struct {
	DebounceMs    int `yaml:"debounce_ms" json:"debounce_ms"`
	ContextLines  int `yaml:"context_lines" json:"context_lines"`
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity"`
	CacheTTLMs    int `yaml:"cache_ttl_ms" json:"cache_ttl_ms"`
	MaxSessions   int `yaml:"max_sessions" json:"max_sessions"`
}

// TimeoutsConfig holds one timeout policy per operation kind.
type TimeoutsConfig struct {
	Completion TimeoutConfig `yaml:"completion" json:"completion"`
	Edit       TimeoutConfig `yaml:"edit" json:"edit"`
}

// TimeoutConfig is the effective timeout policy of an operation kind:
// clamp(base + bytes*per_byte, min, max).
type TimeoutConfig struct {
	BaseMs      int     `yaml:"base_ms" json:"base_ms"`
	PerByteMs   float64 `yaml:"per_byte_ms" json:"per_byte_ms"`
	MinMs       int     `yaml:"min_ms" json:"min_ms"`
	MaxMs       int     `yaml:"max_ms" json:"max_ms"`
	Interactive bool    `yaml:"interactive" json:"interactive"`
	RetryFactor float64 `yaml:"retry_factor" json:"retry_factor,omitempty"`
	RetryMaxMs  int     `yaml:"retry_max_ms" json:"retry_max_ms,omitempty"`
}

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	OpenRouter  *bool  `yaml:"openrouter" json:"openrouter,omitempty"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr,omitempty"`
}

// ConfigDir returns the config directory path.
// Resolution order: $GHOSTLINE_CONFIG_DIR > $XDG_CONFIG_HOME/ghostline > ~/.config/ghostline
func ConfigDir() string {
	if dir := os.Getenv("GHOSTLINE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "ghostline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "ghostline-config")
	}
	return filepath.Join(home, ".config", "ghostline")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// PromptPath returns the custom completion prompt path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// EnvPath returns the path of the optional .env file next to the config.
func EnvPath() string {
	return filepath.Join(ConfigDir(), ".env")
}

// DefaultConfig returns the default configuration from the embedded default_config.yaml.
func DefaultConfig() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaults.DefaultConfigYAML, &cfg); err != nil {
		panic("ghostline: invalid embedded default_config.yaml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads a YAML config file over the defaults, substituting
// ${VAR} and ${VAR:-default} references from the environment.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Explicit zeros in the file fall back to defaults.
	d := DefaultConfig()
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = d.Generation.Provider
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = d.Generation.Model
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = d.Generation.MaxTokens
	}
	if cfg.Completion.ContextLines == 0 {
		cfg.Completion.ContextLines = d.Completion.ContextLines
	}
	if cfg.Completion.CacheCapacity == 0 {
		cfg.Completion.CacheCapacity = d.Completion.CacheCapacity
	}
	if cfg.Completion.CacheTTLMs == 0 {
		cfg.Completion.CacheTTLMs = d.Completion.CacheTTLMs
	}
	if cfg.Completion.MaxSessions == 0 {
		cfg.Completion.MaxSessions = d.Completion.MaxSessions
	}
	if cfg.Telemetry.OpenRouter == nil {
		cfg.Telemetry.OpenRouter = d.Telemetry.OpenRouter
	}

	return cfg, nil
}

// LoadEnvFiles loads each existing .env file into the process environment.
// Variables already set are not overridden.
func LoadEnvFiles(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("failed to load env file", "path", p, "error", err)
			continue
		}
		slog.Debug("loaded env file", "path", p)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[2]
	})
}

// Redacted returns a copy of cfg with the API key masked.
func (c *Config) Redacted() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if k := out.Generation.APIKey; k != "" {
		if len(k) > 8 {
			out.Generation.APIKey = k[:4] + strings.Repeat("*", 4)
		} else {
			out.Generation.APIKey = "****"
		}
	}
	return &out
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	switch p := ResolveProvider(cfg); p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown generation provider %q; expected openai, anthropic or gemini", p))
	}
	if !GenerationEnabled(cfg) {
		warnings = append(warnings, "no API key configured; completions are disabled")
	}
	if cfg.Completion.DebounceMs < 0 {
		warnings = append(warnings, "completion.debounce_ms is negative; no debounce will be applied")
	}
	if cfg.Completion.CacheCapacity < 0 {
		warnings = append(warnings, "completion.cache_capacity is negative; the default will be used")
	}
	for _, kind := range []struct {
		name string
		tc   TimeoutConfig
	}{{"completion", cfg.Timeouts.Completion}, {"edit", cfg.Timeouts.Edit}} {
		if kind.tc.MinMs > 0 && kind.tc.MaxMs > 0 && kind.tc.MinMs > kind.tc.MaxMs {
			warnings = append(warnings, fmt.Sprintf("timeouts.%s.min_ms exceeds max_ms; max_ms wins", kind.name))
		}
		if kind.tc.RetryFactor != 0 && kind.tc.RetryFactor < 1 {
			warnings = append(warnings, fmt.Sprintf("timeouts.%s.retry_factor below 1 shortens retries", kind.name))
		}
	}
	if cfg.Timeouts.Completion.Interactive {
		warnings = append(warnings, "timeouts.completion.interactive prompts on every timed-out keystroke; consider disabling it")
	}
	return warnings
}

// ResolveProvider returns the generation provider.
// Priority: $GHOSTLINE_PROVIDER env > config value > openai.
func ResolveProvider(cfg *Config) string {
	if p := os.Getenv("GHOSTLINE_PROVIDER"); p != "" {
		return strings.ToLower(p)
	}
	if cfg != nil && cfg.Generation.Provider != "" {
		return strings.ToLower(cfg.Generation.Provider)
	}
	return ProviderOpenAI
}

// ResolveBaseURL returns the generation API base URL.
// Priority: $GHOSTLINE_API_BASE_URL env > config value.
func ResolveBaseURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_API_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Generation.BaseURL
	}
	return ""
}

// ResolveAPIKey returns the generation API key.
// Priority: $GHOSTLINE_API_KEY env > config value > the provider's own env var
// ($OPENAI_API_KEY, $ANTHROPIC_API_KEY, $GEMINI_API_KEY).
func ResolveAPIKey(cfg *Config) string {
	if key := os.Getenv("GHOSTLINE_API_KEY"); key != "" {
		return key
	}
	if cfg != nil && cfg.Generation.APIKey != "" {
		return cfg.Generation.APIKey
	}
	switch ResolveProvider(cfg) {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// ResolveModel returns the generation model name.
// Priority: $GHOSTLINE_MODEL env > config value.
func ResolveModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLINE_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Generation.Model
	}
	return ""
}

// GenerationEnabled reports whether a backend can be called: an API key is
// set, or an OpenAI-compatible base URL points at a keyless local server.
func GenerationEnabled(cfg *Config) bool {
	if ResolveAPIKey(cfg) != "" {
		return true
	}
	return ResolveProvider(cfg) == ProviderOpenAI && ResolveBaseURL(cfg) != ""
}

// OpenRouterTelemetryEnabled returns whether OpenRouter attribution headers should be sent.
func OpenRouterTelemetryEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Telemetry.OpenRouter == nil {
		return true // default true
	}
	return *cfg.Telemetry.OpenRouter
}
