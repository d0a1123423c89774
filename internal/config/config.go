// Package config provides the configuration schema, loader, and TTS
// generator registry for the relaybroker interaction broker.
package config

import "time"

// Config is the root configuration structure for relaybroker.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	TTS      TTSConfig      `yaml:"tts"`
	Inbox    InboxConfig    `yaml:"inbox"`
	EventBus EventBusConfig `yaml:"event_bus"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

// ServerConfig holds network and logging settings for the broker process.
type ServerConfig struct {
	// ListenAddr is the TCP address the frontend gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated slog verbosity name.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// SessionConfig tunes the in-memory Session Registry.
type SessionConfig struct {
	// HistoryCap bounds the number of resolved inbox items retained per
	// session. Older entries are evicted once the cap is reached.
	HistoryCap int `yaml:"history_cap"`

	// IdleTTL is how long a session may sit with no agent activity and no
	// pending inbox items before it is eligible for reclamation.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// InboxConfig tunes the Inbox Engine.
type InboxConfig struct {
	// MaxQueuedPerSession caps how many items (queued plus the active one)
	// a single session's inbox may hold before new choices or speech
	// requests are rejected with a backpressure error.
	MaxQueuedPerSession int `yaml:"max_queued_per_session"`
}

// TTSConfig configures the TTS Engine: its artifact cache, its generator
// chain (primary plus optional offline fallback), and the audio device
// recovery policy.
type TTSConfig struct {
	// CacheDir is the directory where generated speech artifacts are stored,
	// keyed by a fingerprint of (text, voice, style, speed, model).
	CacheDir string `yaml:"cache_dir"`

	// Primary selects the preferred speech generator.
	Primary GeneratorEntry `yaml:"primary"`

	// Fallback optionally selects an offline/local generator used when the
	// primary generator's circuit is open or a request fails outright.
	Fallback GeneratorEntry `yaml:"fallback"`

	// PlaybackCommand is the external player invoked to render a cached
	// artifact to the operator's audio device (e.g. "aplay", "afplay").
	PlaybackCommand string `yaml:"playback_command"`

	Recovery RecoveryConfig `yaml:"recovery"`
}

// GeneratorEntry is the configuration block for one TTS generator backend.
type GeneratorEntry struct {
	// Name selects the registered generator implementation (e.g.,
	// "remotehttp", "localcli").
	Name string `yaml:"name"`

	// APIKey is the authentication key for a remote generator's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the generator's default API endpoint. For
	// remotehttp it replaces the voice-listing URL only; the synthesis
	// websocket endpoint is fixed.
	BaseURL string `yaml:"base_url"`

	// Command is the executable invoked for a local CLI generator.
	Command string `yaml:"command"`

	// Model selects a specific voice model within the generator.
	Model string `yaml:"model"`

	// Options holds generator-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// RecoveryConfig tunes the audio device recovery state machine.
type RecoveryConfig struct {
	// DegradeAfter is the number of consecutive playback failures that move
	// the device from healthy to degraded.
	DegradeAfter int `yaml:"degrade_after"`

	// BaseBackoff is the initial recovery-retry delay; each failed recovery
	// attempt doubles it up to MaxBackoff.
	BaseBackoff time.Duration `yaml:"base_backoff"`

	// MaxBackoff caps the exponential backoff between recovery attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// HealthyStreak is how many consecutive successful playbacks are
	// required (default 5) before a degraded device resets fully back to
	// healthy.
	HealthyStreak int `yaml:"healthy_streak"`
}

// EventBusConfig tunes the Event Bus.
type EventBusConfig struct {
	// BufferSize is the number of envelopes retained in the bus's shared
	// ring; a subscriber cursor that falls further behind than this loses
	// the oldest envelopes and is sent a lag marker instead.
	BufferSize int `yaml:"buffer_size"`
}

// GatewayConfig configures the Frontend Gateway's HTTP surface.
type GatewayConfig struct {
	// CORSOrigins lists allowed origins for the operator frontend. Empty
	// means same-origin only.
	CORSOrigins []string `yaml:"cors_origins"`

	// SSEHeartbeat is the interval between heartbeat comments sent on the
	// /api/events stream to keep intermediaries from closing idle connections.
	SSEHeartbeat time.Duration `yaml:"sse_heartbeat"`
}
