package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnvEndpoint(t *testing.T) {
	t.Setenv("CHATRELAY_UPSTREAM_ENDPOINT", "https://api.example.com/chat")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8810" {
		t.Fatalf("expected default addr :8810, got %q", cfg.Addr)
	}
	if cfg.ConversationsDir != "conversations" {
		t.Fatalf("expected default conversations dir, got %q", cfg.ConversationsDir)
	}
	if cfg.UploadsDir != "temp_uploads" {
		t.Fatalf("expected default uploads dir, got %q", cfg.UploadsDir)
	}
	if cfg.Upstream.Mode != ModeStream {
		t.Fatalf("expected default mode %q, got %q", ModeStream, cfg.Upstream.Mode)
	}
	if cfg.Upstream.RequestTimeout != 120*time.Second {
		t.Fatalf("expected default timeout 120s, got %v", cfg.Upstream.RequestTimeout)
	}
}

func TestLoadMissingEndpointFails(t *testing.T) {
	t.Setenv("CHATRELAY_UPSTREAM_ENDPOINT", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when no endpoint configured")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
addr: ":9000"
conversations_dir: "/data/convs"
upstream:
  endpoint: "https://upstream.example.com/v1"
  api_key: "secret"
  app_id: "app-1"
  mode: "sync"
  request_timeout: 30s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected addr from file, got %q", cfg.Addr)
	}
	if cfg.ConversationsDir != "/data/convs" {
		t.Fatalf("expected conversations dir from file, got %q", cfg.ConversationsDir)
	}
	if cfg.Upstream.Mode != ModeSync {
		t.Fatalf("expected sync mode, got %q", cfg.Upstream.Mode)
	}
	if cfg.Upstream.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", cfg.Upstream.RequestTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
upstream:
  endpoint: "https://from-file.example.com"
  mode: "stream"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATRELAY_UPSTREAM_ENDPOINT", "https://from-env.example.com")
	t.Setenv("CHATRELAY_UPSTREAM_MODE", "sync")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Endpoint != "https://from-env.example.com" {
		t.Fatalf("expected env endpoint to win, got %q", cfg.Upstream.Endpoint)
	}
	if cfg.Upstream.Mode != ModeSync {
		t.Fatalf("expected env mode to win, got %q", cfg.Upstream.Mode)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("expected PORT override, got %q", cfg.Addr)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	t.Setenv("CHATRELAY_UPSTREAM_ENDPOINT", "https://api.example.com")
	t.Setenv("CHATRELAY_UPSTREAM_MODE", "batch")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
