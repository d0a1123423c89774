package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TTSPrimaryChanged  bool
	TTSFallbackChanged bool

	CORSOriginsChanged bool
	NewCORSOrigins     []string
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; everything
// else (listen address, cache directory, buffer sizes) requires a process
// restart and is intentionally left untracked here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if generatorChanged(old.TTS.Primary, new.TTS.Primary) {
		d.TTSPrimaryChanged = true
	}
	if generatorChanged(old.TTS.Fallback, new.TTS.Fallback) {
		d.TTSFallbackChanged = true
	}

	if !slices.Equal(old.Gateway.CORSOrigins, new.Gateway.CORSOrigins) {
		d.CORSOriginsChanged = true
		d.NewCORSOrigins = new.Gateway.CORSOrigins
	}

	return d
}

// generatorChanged reports whether the name, endpoint, or model of a
// [GeneratorEntry] changed. Options is deliberately excluded: arbitrary map
// values are not meaningful to hot-reload diffing here.
func generatorChanged(old, new GeneratorEntry) bool {
	return old.Name != new.Name ||
		old.BaseURL != new.BaseURL ||
		old.Command != new.Command ||
		old.Model != new.Model
}
