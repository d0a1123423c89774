// Package tts defines the [Generator] interface implemented by every speech
// synthesis backend the TTS Engine can call.
//
// Unlike a live-conversation synthesiser that streams audio as text arrives,
// the broker only ever needs a complete audio artifact for a whole,
// already-known utterance — the result is cached to disk keyed by its
// synthesis parameters, so Generate takes the full text and returns the full
// artifact in one call.
package tts

import "context"

// VoiceProfile selects a voice and delivery style for a generation request,
// and doubles as one entry of a [Generator.ListVoices] catalog.
type VoiceProfile struct {
	// ID is the generator-specific voice identifier. Empty selects the
	// generator's default voice.
	ID string

	// Name is a human-readable label, populated by ListVoices.
	Name string

	// Style is a free-form delivery style hint (e.g. "calm", "urgent").
	// Generators that do not support styling ignore it.
	Style string

	// Speed adjusts speaking rate; 1.0 is the generator's default rate.
	Speed float64
}

// GenerateRequest describes one whole-utterance synthesis call.
type GenerateRequest struct {
	Text  string
	Voice VoiceProfile

	// Model selects a specific synthesis model/version within the
	// generator, when the generator supports more than one.
	Model string
}

// Audio is a complete synthesized artifact.
type Audio struct {
	// Bytes holds the encoded audio (WAV container).
	Bytes []byte

	// SampleRate and Channels describe the PCM data inside Bytes.
	SampleRate int
	Channels   int
}

// Generator synthesizes one complete utterance per call and lists the
// voices it offers. Implementations must be safe for concurrent use.
type Generator interface {
	// Generate synthesizes req.Text in its entirety and returns the
	// resulting audio. It does not stream partial output: the TTS Engine
	// only calls Generate for artifacts not already present in its cache.
	Generate(ctx context.Context, req GenerateRequest) (*Audio, error)

	// ListVoices returns the voices this generator currently offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Name identifies the generator for logging and circuit-breaker naming.
	Name() string
}
