package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 8080
  log_level: debug
jobs:
  workers: 6
broadcast:
  webhook_url: " http://hooks.local/signal "
  webhook_timeout_ms: 500
  websocket: false
backtest:
  plan: plans/default.yaml
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 8080 || cfg.LogLevel != "debug" || cfg.Workers != 6 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.MaxQueued != DefaultConfig.MaxQueued || cfg.MaxJobs != DefaultConfig.MaxJobs {
		t.Fatalf("unset limits should keep defaults: %+v", cfg)
	}
	if cfg.WebhookURL != "http://hooks.local/signal" || cfg.WebhookTimeout != 500*time.Millisecond || cfg.WebSocket {
		t.Fatalf("unexpected broadcast config: %+v", cfg)
	}
	if cfg.PlanPath != "plans/default.yaml" {
		t.Fatalf("unexpected plan path: %q", cfg.PlanPath)
	}
}

func TestGetConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("QUANTBT_PORT", "9100")
	t.Setenv("QUANTBT_WORKERS", "3")
	t.Setenv("QUANTBT_LOG_LEVEL", "warn")
	t.Setenv("QUANTBT_WEBHOOK_URL", "http://example.invalid/hook")

	cfg, err := GetConfig(path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.Port != 9100 || cfg.Workers != 3 || cfg.LogLevel != "warn" || cfg.WebhookURL != "http://example.invalid/hook" {
		t.Fatalf("env should win: %+v", cfg)
	}
}

func TestGetConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("QUANTBT_PORT", "http")
	if _, err := GetConfig(""); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}

func TestGetConfigMissingFile(t *testing.T) {
	if _, err := GetConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
