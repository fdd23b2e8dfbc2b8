package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Server.RefreshStore != "gorm" {
		t.Fatalf("unexpected defaults: %+v", cfg.Server)
	}
	if cfg.Client.ClientID != "assistant-cli" {
		t.Fatalf("unexpected client id %q", cfg.Client.ClientID)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assistant.yaml")
	data := []byte(`
server:
  port: "9090"
  refresh_store: redis
  chat_rate_limit_per_minute: 5
upstream:
  model: local-model
client:
  base_url: http://example.test
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ASSISTANT_PORT", "7070")
	t.Setenv("ASSISTANT_CHAT_RATE_LIMIT_PER_MINUTE", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("env should override port, got %q", cfg.Server.Port)
	}
	if cfg.Server.RefreshStore != "redis" {
		t.Fatalf("expected redis refresh store, got %q", cfg.Server.RefreshStore)
	}
	if cfg.Server.ChatRateLimitPerMinute != 12 {
		t.Fatalf("expected env rate limit 12, got %d", cfg.Server.ChatRateLimitPerMinute)
	}
	if cfg.Upstream.Model != "local-model" || cfg.Client.BaseURL != "http://example.test" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Upstream, cfg.Client)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("unset keys should keep defaults, got host %q", cfg.Server.Host)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Minute},
		{"bogus", time.Minute},
		{"-5s", time.Minute},
		{"90s", 90 * time.Second},
	}
	for _, tt := range tests {
		if got := Duration(tt.in, time.Minute); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
