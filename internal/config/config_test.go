package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.OpenRouter.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("unexpected base URL %s", cfg.OpenRouter.BaseURL)
	}
	if cfg.OpenRouter.Timeout != 180*time.Second {
		t.Errorf("expected timeout 180s, got %v", cfg.OpenRouter.Timeout)
	}
	if len(cfg.Council.Members) != 4 {
		t.Errorf("expected 4 default council members, got %d", len(cfg.Council.Members))
	}
	if cfg.Council.Chairman == "" {
		t.Error("expected a default chairman")
	}
	if cfg.Council.Rankers != "all" {
		t.Errorf("expected rankers 'all', got %s", cfg.Council.Rankers)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/conclave.db" {
		t.Errorf("expected store path data/conclave.db, got %s", cfg.Store.Path)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("CONCLAVE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test-key")
	t.Setenv("CONCLAVE_WEB_PASSWORD", "secret")
	t.Setenv("CONCLAVE_WEB_PORT", "9090")
	t.Setenv("CONCLAVE_TELEGRAM_TOKEN", "test-token-123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenRouter.APIKey != "sk-or-test-key" {
		t.Errorf("expected api key sk-or-test-key, got %s", cfg.OpenRouter.APIKey)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
openrouter:
  api_key: "yaml-key"
council:
  members:
    - "openai/gpt-5.2"
    - "anthropic/claude-sonnet-4.5"
  chairman: "openai/gpt-5.2"
  rankers: succeeded
web:
  port: 3000
  enabled: false
telegram:
  token: "yaml-token"
  allow_from: [123, 456]
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONCLAVE_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CONCLAVE_TELEGRAM_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenRouter.APIKey != "yaml-key" {
		t.Errorf("expected yaml-key, got %s", cfg.OpenRouter.APIKey)
	}
	if len(cfg.Council.Members) != 2 {
		t.Errorf("expected 2 council members, got %d", len(cfg.Council.Members))
	}
	if cfg.Council.Rankers != "succeeded" {
		t.Errorf("expected rankers succeeded, got %s", cfg.Council.Rankers)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if len(cfg.Telegram.AllowFrom) != 2 {
		t.Errorf("expected 2 allow_from entries, got %d", len(cfg.Telegram.AllowFrom))
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.Council.Members = []string{"only-one"}
	if err := validate(&cfg); err == nil {
		t.Error("expected error for council with fewer than 2 members")
	}

	cfg = defaults()
	cfg.Council.Chairman = ""
	if err := validate(&cfg); err == nil {
		t.Error("expected error for missing chairman")
	}

	cfg = defaults()
	cfg.Council.Rankers = "bogus"
	if err := validate(&cfg); err == nil {
		t.Error("expected error for invalid rankers policy")
	}
}
