package config_test

import (
	"strings"
	"testing"

	"github.com/relaybroker/relaybroker/internal/config"
)

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  totally_unknown_field: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: [this is not valid"))
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Session.HistoryCap != 200 {
		t.Errorf("default history_cap: got %d, want 200", cfg.Session.HistoryCap)
	}
	if cfg.TTS.CacheDir != "./tts-cache" {
		t.Errorf("default cache_dir: got %q, want %q", cfg.TTS.CacheDir, "./tts-cache")
	}
	if cfg.TTS.Recovery.DegradeAfter != 3 {
		t.Errorf("default recovery.degrade_after: got %d, want 3", cfg.TTS.Recovery.DegradeAfter)
	}
	if cfg.Gateway.SSEHeartbeat.Seconds() != 15 {
		t.Errorf("default sse_heartbeat: got %v, want 15s", cfg.Gateway.SSEHeartbeat)
	}
}

func TestLoadFromReader_PartialOverridesKeepOtherDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  history_cap: 50
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.HistoryCap != 50 {
		t.Errorf("session.history_cap: got %d, want 50", cfg.Session.HistoryCap)
	}
	// Everything else should still carry its default.
	if cfg.TTS.CacheDir != "./tts-cache" {
		t.Errorf("expected tts.cache_dir default to survive partial override, got %q", cfg.TTS.CacheDir)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidGeneratorNames) == 0 {
		t.Fatal("ValidGeneratorNames should not be empty")
	}
	found := false
	for _, n := range config.ValidGeneratorNames {
		if n == "remotehttp" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidGeneratorNames should contain \"remotehttp\"")
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: screaming
session:
  history_cap: -5
event_bus:
  buffer_size: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log_level", "history_cap", "buffer_size"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}
