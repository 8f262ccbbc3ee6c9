package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPermissionDelay(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		source string
		want   time.Duration
	}{
		{"claude", 2500 * time.Millisecond},
		{"codex", 5 * time.Second},
		{"unknown_source", 5 * time.Second}, // falls through to "default" key
	}

	for _, tt := range tests {
		got := cfg.PermissionDelay(tt.source)
		if got != tt.want {
			t.Errorf("PermissionDelay(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestPermissionDelayEmptyMap(t *testing.T) {
	cfg := &Config{}

	// Should fall back to the hardcoded 5s.
	if got := cfg.PermissionDelay("claude"); got != 5*time.Second {
		t.Errorf("PermissionDelay with nil map = %v, want 5s", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 8765 {
		t.Errorf("Server.Port = %d, want 8765", cfg.Server.Port)
	}
	if cfg.Heuristics.IdleDelay != 3*time.Second {
		t.Errorf("IdleDelay = %v, want 3s", cfg.Heuristics.IdleDelay)
	}
	if cfg.Tools.RecentCapacity != 10 {
		t.Errorf("RecentCapacity = %d, want 10", cfg.Tools.RecentCapacity)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	// yaml.v3 decodes time.Duration as integer nanoseconds.
	content := `server:
  port: 9000
heuristics:
  idle_delay: 1000000000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Heuristics.IdleDelay != time.Second {
		t.Errorf("IdleDelay = %v, want 1s", cfg.Heuristics.IdleDelay)
	}
	// Untouched fields keep defaults.
	if cfg.Ingest.Port != 4318 {
		t.Errorf("Ingest.Port = %d, want 4318", cfg.Ingest.Port)
	}
	if cfg.Notify.SocketPath != "/tmp/agentnotch.sock" {
		t.Errorf("SocketPath = %q, want default", cfg.Notify.SocketPath)
	}
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}
