package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidGeneratorNames lists known generator implementation names.
// Used by [Validate] to warn about unrecognised names.
var ValidGeneratorNames = []string{"remotehttp", "localcli"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults returns a [Config] pre-populated with sane defaults, overwritten
// by whatever the YAML document sets explicitly.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogLevelInfo,
		},
		Session: SessionConfig{
			HistoryCap: 200,
			IdleTTL:    30 * time.Minute,
		},
		Inbox: InboxConfig{
			MaxQueuedPerSession: 64,
		},
		TTS: TTSConfig{
			CacheDir: "./tts-cache",
			Recovery: RecoveryConfig{
				DegradeAfter:  3,
				BaseBackoff:   time.Second,
				MaxBackoff:    60 * time.Second,
				HealthyStreak: 5,
			},
		},
		EventBus: EventBusConfig{
			BufferSize: 256,
		},
		Gateway: GatewayConfig{
			SSEHeartbeat: 15 * time.Second,
		},
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Session.HistoryCap < 0 {
		errs = append(errs, fmt.Errorf("session.history_cap must be >= 0"))
	}
	if cfg.Inbox.MaxQueuedPerSession <= 0 {
		errs = append(errs, fmt.Errorf("inbox.max_queued_per_session must be > 0"))
	}

	validateGeneratorName("tts.primary", cfg.TTS.Primary.Name)
	validateGeneratorName("tts.fallback", cfg.TTS.Fallback.Name)

	if cfg.TTS.Primary.Name == "" {
		slog.Warn("no tts.primary generator configured; the TTS generator chain cannot be built without one")
	}
	if cfg.TTS.CacheDir == "" {
		errs = append(errs, fmt.Errorf("tts.cache_dir is required"))
	}

	if cfg.EventBus.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event_bus.buffer_size must be > 0"))
	}

	return errors.Join(errs...)
}

// validateGeneratorName logs a warning if name is non-empty and not found in
// [ValidGeneratorNames].
func validateGeneratorName(field, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidGeneratorNames, name) {
		return
	}
	slog.Warn("unknown tts generator name — may be a typo or third-party generator",
		"field", field,
		"name", name,
		"known", ValidGeneratorNames,
	)
}
