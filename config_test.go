package ghostline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearGenerationEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GHOSTLINE_PROVIDER", "GHOSTLINE_API_BASE_URL", "GHOSTLINE_API_KEY", "GHOSTLINE_MODEL",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Generation.Provider != ProviderOpenAI {
		t.Errorf("expected openai provider, got %q", cfg.Generation.Provider)
	}
	if cfg.Completion.DebounceMs != 300 {
		t.Errorf("expected 300ms debounce, got %d", cfg.Completion.DebounceMs)
	}
	if cfg.Completion.CacheCapacity != 100 || cfg.Completion.CacheTTLMs != 30000 {
		t.Errorf("unexpected cache defaults: %+v", cfg.Completion)
	}
	if cfg.Timeouts.Completion.Interactive {
		t.Error("completion timeouts should not be interactive by default")
	}
	if !cfg.Timeouts.Edit.Interactive {
		t.Error("edit timeouts should be interactive by default")
	}
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("GHOSTLINE_CONFIG_DIR", "/custom/dir")
	if got := ConfigDir(); got != "/custom/dir" {
		t.Errorf("expected /custom/dir, got %s", got)
	}

	t.Setenv("GHOSTLINE_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != "/xdg/ghostline" {
		t.Errorf("expected /xdg/ghostline, got %s", got)
	}
	if got := ConfigPath(); got != "/xdg/ghostline/config.yaml" {
		t.Errorf("unexpected config path %s", got)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GHOSTLINE_CONFIG_DIR", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Completion.DebounceMs != DefaultConfig().Completion.DebounceMs {
		t.Errorf("expected defaults, got %+v", cfg.Completion)
	}
}

func TestLoadConfigFileMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
generation:
  provider: anthropic
  model: claude-haiku
  max_tokens: 0
completion:
  debounce_ms: 150
timeouts:
  completion:
    base_ms: 4000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Generation.Provider != ProviderAnthropic || cfg.Generation.Model != "claude-haiku" {
		t.Errorf("unexpected generation config: %+v", cfg.Generation)
	}
	if cfg.Generation.MaxTokens != DefaultConfig().Generation.MaxTokens {
		t.Errorf("explicit zero max_tokens should fall back to default, got %d", cfg.Generation.MaxTokens)
	}
	if cfg.Completion.DebounceMs != 150 {
		t.Errorf("expected debounce 150, got %d", cfg.Completion.DebounceMs)
	}
	if cfg.Completion.CacheCapacity != 100 {
		t.Errorf("expected default capacity kept, got %d", cfg.Completion.CacheCapacity)
	}
	if cfg.Timeouts.Completion.BaseMs != 4000 || cfg.Timeouts.Completion.MaxMs != 20000 {
		t.Errorf("unexpected completion timeouts: %+v", cfg.Timeouts.Completion)
	}
}

func TestLoadConfigFileSubstitutesEnv(t *testing.T) {
	t.Setenv("TEST_GHOSTLINE_KEY", "sk-from-env")
	t.Setenv("TEST_GHOSTLINE_UNSET", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "generation:\n  api_key: ${TEST_GHOSTLINE_KEY}\n  model: ${TEST_GHOSTLINE_UNSET:-fallback-model}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Generation.APIKey != "sk-from-env" {
		t.Errorf("expected substituted key, got %q", cfg.Generation.APIKey)
	}
	if cfg.Generation.Model != "fallback-model" {
		t.Errorf("expected default model value, got %q", cfg.Generation.Model)
	}
}

func TestLoadConfigFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("generation: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TEST_GHOSTLINE_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_GHOSTLINE_DOTENV", "")
	os.Unsetenv("TEST_GHOSTLINE_DOTENV")

	LoadEnvFiles(filepath.Join(dir, "missing.env"), path)
	if got := os.Getenv("TEST_GHOSTLINE_DOTENV"); got != "loaded" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestResolveAPIKeyPrecedence(t *testing.T) {
	clearGenerationEnv(t)
	cfg := DefaultConfig()
	cfg.Generation.Provider = ProviderAnthropic

	t.Setenv("ANTHROPIC_API_KEY", "provider-key")
	if got := ResolveAPIKey(cfg); got != "provider-key" {
		t.Errorf("expected provider env key, got %q", got)
	}

	cfg.Generation.APIKey = "config-key"
	if got := ResolveAPIKey(cfg); got != "config-key" {
		t.Errorf("expected config key, got %q", got)
	}

	t.Setenv("GHOSTLINE_API_KEY", "env-key")
	if got := ResolveAPIKey(cfg); got != "env-key" {
		t.Errorf("expected env key, got %q", got)
	}
}

func TestGenerationEnabled(t *testing.T) {
	clearGenerationEnv(t)
	cfg := DefaultConfig()
	if GenerationEnabled(cfg) {
		t.Error("expected disabled without key or base URL")
	}
	cfg.Generation.BaseURL = "http://localhost:8080/v1"
	if !GenerationEnabled(cfg) {
		t.Error("expected enabled for a keyless local OpenAI-compatible server")
	}
	cfg.Generation.Provider = ProviderGemini
	if GenerationEnabled(cfg) {
		t.Error("expected gemini to require a key")
	}
}

func TestValidateConfigWarnings(t *testing.T) {
	clearGenerationEnv(t)
	cfg := DefaultConfig()
	cfg.Generation.Provider = "bogus"
	cfg.Timeouts.Edit.MinMs = 90000
	cfg.Timeouts.Completion.Interactive = true

	warnings := strings.Join(ValidateConfig(cfg), "\n")
	for _, want := range []string{"unknown generation provider", "no API key", "timeouts.edit.min_ms", "timeouts.completion.interactive"} {
		if !strings.Contains(warnings, want) {
			t.Errorf("expected warning containing %q, got:\n%s", want, warnings)
		}
	}
	if ValidateConfig(nil) != nil {
		t.Error("expected no warnings for nil config")
	}
}

func TestConfigRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Generation.APIKey = "sk-abcdefghijkl"
	red := cfg.Redacted()
	if strings.Contains(red.Generation.APIKey, "efgh") {
		t.Errorf("expected masked key, got %q", red.Generation.APIKey)
	}
	if cfg.Generation.APIKey != "sk-abcdefghijkl" {
		t.Error("redaction must not modify the original")
	}
}
