package tts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaybroker/relaybroker/internal/resilience"
	internaltts "github.com/relaybroker/relaybroker/internal/tts"
	"github.com/relaybroker/relaybroker/pkg/tts"
)

type stubGenerator struct {
	name string
	err  error
	out  *tts.Audio
}

func (s *stubGenerator) Name() string { return s.name }
func (s *stubGenerator) Generate(_ context.Context, _ tts.GenerateRequest) (*tts.Audio, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}
func (s *stubGenerator) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) { return nil, nil }

func TestFallbackUsesSecondaryWhenPrimaryFails(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: errors.New("boom")}
	secondary := &stubGenerator{name: "secondary", out: &tts.Audio{Bytes: []byte("ok")}}

	fb := internaltts.NewFallback(primary, resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Minute})
	fb.AddFallback(secondary)

	audio, err := fb.Generate(t.Context(), tts.GenerateRequest{Text: "go"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(audio.Bytes) != "ok" {
		t.Fatalf("expected the secondary's output, got %q", audio.Bytes)
	}
}

func TestFallbackReturnsErrorWhenAllFail(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: errors.New("boom")}
	secondary := &stubGenerator{name: "secondary", err: errors.New("also boom")}

	fb := internaltts.NewFallback(primary, resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Minute})
	fb.AddFallback(secondary)

	if _, err := fb.Generate(t.Context(), tts.GenerateRequest{Text: "go"}); err == nil {
		t.Fatal("expected an error when every generator fails")
	}
}
