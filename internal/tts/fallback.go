package tts

import (
	"context"

	"github.com/relaybroker/relaybroker/internal/resilience"
	"github.com/relaybroker/relaybroker/pkg/tts"
)

// Fallback wraps a primary [tts.Generator] and zero or more fallbacks behind
// a shared [resilience.FallbackGroup], so a failing (or circuit-open)
// generator is bypassed automatically in favour of the next healthy one —
// the spec's "generator failure → fall back to a local offline synthesiser
// if configured, else log and drop" rule.
type Fallback struct {
	group *resilience.FallbackGroup[tts.Generator]
}

// NewFallback creates a [Fallback] with primary tried first.
func NewFallback(primary tts.Generator, cbCfg resilience.CircuitBreakerConfig) *Fallback {
	return &Fallback{
		group: resilience.NewFallbackGroup(primary, primary.Name(), resilience.FallbackConfig{CircuitBreaker: cbCfg}),
	}
}

// AddFallback appends an additional generator, tried after every
// previously-registered entry.
func (f *Fallback) AddFallback(gen tts.Generator) {
	f.group.AddFallback(gen.Name(), gen)
}

// Generate tries each registered generator in order until one succeeds.
func (f *Fallback) Generate(ctx context.Context, req tts.GenerateRequest) (*tts.Audio, error) {
	return resilience.ExecuteWithResult(f.group, func(gen tts.Generator) (*tts.Audio, error) {
		return gen.Generate(ctx, req)
	})
}
