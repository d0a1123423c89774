package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/relaybroker/relaybroker/internal/config"
	"github.com/relaybroker/relaybroker/pkg/tts"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

session:
  history_cap: 200
  idle_ttl: 30m

inbox:
  max_queued_per_session: 64

tts:
  cache_dir: ./tts-cache
  primary:
    name: remotehttp
    api_key: el-test
    base_url: https://tts.example.com
  fallback:
    name: localcli
    command: /usr/local/bin/say-offline
  playback_command: aplay
  recovery:
    degrade_after: 3
    base_backoff: 1s
    max_backoff: 60s
    healthy_streak: 5

event_bus:
  buffer_size: 256

gateway:
  cors_origins:
    - https://operator.example.com
  sse_heartbeat: 15s
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogLevelInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogLevelInfo)
	}
	if cfg.Session.HistoryCap != 200 {
		t.Errorf("session.history_cap: got %d, want 200", cfg.Session.HistoryCap)
	}
	if cfg.Inbox.MaxQueuedPerSession != 64 {
		t.Errorf("inbox.max_queued_per_session: got %d, want 64", cfg.Inbox.MaxQueuedPerSession)
	}
	if cfg.TTS.Primary.Name != "remotehttp" {
		t.Errorf("tts.primary.name: got %q, want %q", cfg.TTS.Primary.Name, "remotehttp")
	}
	if cfg.TTS.Fallback.Name != "localcli" {
		t.Errorf("tts.fallback.name: got %q, want %q", cfg.TTS.Fallback.Name, "localcli")
	}
	if cfg.EventBus.BufferSize != 256 {
		t.Errorf("event_bus.buffer_size: got %d, want 256", cfg.EventBus.BufferSize)
	}
	if len(cfg.Gateway.CORSOrigins) != 1 {
		t.Fatalf("gateway.cors_origins: got %d, want 1", len(cfg.Gateway.CORSOrigins))
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	// An empty config should succeed: defaults() backfills everything, and
	// Validate only rejects incoherent (not merely absent) values.
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Inbox.MaxQueuedPerSession <= 0 {
		t.Errorf("expected default max_queued_per_session to be applied, got %d", cfg.Inbox.MaxQueuedPerSession)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_NegativeHistoryCap(t *testing.T) {
	yaml := `
session:
  history_cap: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative history_cap, got nil")
	}
	if !strings.Contains(err.Error(), "history_cap") {
		t.Errorf("error should mention history_cap, got: %v", err)
	}
}

func TestValidate_ZeroMaxQueuedPerSession(t *testing.T) {
	yaml := `
inbox:
  max_queued_per_session: 0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for max_queued_per_session <= 0, got nil")
	}
	if !strings.Contains(err.Error(), "max_queued_per_session") {
		t.Errorf("error should mention max_queued_per_session, got: %v", err)
	}
}

func TestValidate_MissingCacheDir(t *testing.T) {
	yaml := `
tts:
  cache_dir: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty tts.cache_dir, got nil")
	}
	if !strings.Contains(err.Error(), "cache_dir") {
		t.Errorf("error should mention cache_dir, got: %v", err)
	}
}

func TestValidate_ZeroEventBusBuffer(t *testing.T) {
	yaml := `
event_bus:
  buffer_size: 0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for event_bus.buffer_size <= 0, got nil")
	}
}

func TestValidate_UnknownGeneratorNameWarnsOnly(t *testing.T) {
	// An unrecognised generator name is a warning, not a hard validation
	// failure — it may be a third-party generator registered at runtime.
	yaml := `
tts:
  primary:
    name: some-third-party-generator
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error for unknown (but well-formed) generator name: %v", err)
	}
}

// ── Generator registry ────────────────────────────────────────────────────────

func TestRegistry_UnknownGenerator(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.Create(config.GeneratorEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrGeneratorNotRegistered) {
		t.Errorf("expected ErrGeneratorNotRegistered, got: %v", err)
	}
}

func TestRegistry_EmptyName(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.Create(config.GeneratorEntry{})
	if !errors.Is(err, config.ErrGeneratorNotRegistered) {
		t.Errorf("expected ErrGeneratorNotRegistered for empty name, got: %v", err)
	}
}

func TestRegistry_RegisteredFactory(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubGenerator{name: "stub"}
	reg.Register("stub", func(e config.GeneratorEntry) (tts.Generator, error) {
		return want, nil
	})
	got, err := reg.Create(config.GeneratorEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned generator is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.Register("broken", func(e config.GeneratorEntry) (tts.Generator, error) {
		return nil, wantErr
	})
	_, err := reg.Create(config.GeneratorEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	reg := config.NewRegistry()
	first := &stubGenerator{name: "first"}
	second := &stubGenerator{name: "second"}
	reg.Register("stub", func(e config.GeneratorEntry) (tts.Generator, error) { return first, nil })
	reg.Register("stub", func(e config.GeneratorEntry) (tts.Generator, error) { return second, nil })

	got, err := reg.Create(config.GeneratorEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Error("expected the later registration to win")
	}
}

// ── Stub implementation (satisfies tts.Generator for the compiler) ───────────

type stubGenerator struct{ name string }

func (s *stubGenerator) Generate(_ context.Context, _ tts.GenerateRequest) (*tts.Audio, error) {
	return &tts.Audio{}, nil
}
func (s *stubGenerator) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) { return nil, nil }
func (s *stubGenerator) Name() string                                            { return s.name }
