package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/relaybroker/relaybroker/pkg/tts"
)

// EventPublisher is the minimal surface the Engine needs from the Event Bus
// to surface device-health transitions. Defined here, not imported from
// eventbus, to avoid a package cycle; eventbus.Bus satisfies it.
type EventPublisher interface {
	PublishDeviceHealth(state string)
}

// generator is satisfied by both a bare [tts.Generator] and a [Fallback].
type generator interface {
	Generate(ctx context.Context, req tts.GenerateRequest) (*tts.Audio, error)
}

// Engine owns the audible channel: it is the only thing in the process
// allowed to turn text into sound, guaranteeing at most one audible artifact
// plays at a time, with urgent speech preempting non-urgent speech and
// option-scroll readouts preempting only prior scroll readouts.
type Engine struct {
	gen    generator
	cache  *Cache
	model  string
	player *Player

	events EventPublisher
	log    *slog.Logger

	scrollCounter uint64
}

// Config bundles the dependencies an Engine is built from.
type Config struct {
	Generator       generator
	Cache           *Cache
	Model           string
	PlaybackCommand string
	PlaybackArgs    []string // "{file}" substituted with a temp WAV path; defaults to []string{"{file}"}
	Recovery        *Recovery
	Events          EventPublisher
	Log             *slog.Logger
}

// NewEngine wires a generator, cache, recovery state machine, and playback
// scheduler into a ready-to-use [Engine].
func NewEngine(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		gen:    cfg.Generator,
		cache:  cfg.Cache,
		model:  cfg.Model,
		events: cfg.Events,
		log:    log,
	}
	e.player = NewPlayer(cfg.PlaybackCommand, cfg.PlaybackArgs, cfg.Recovery, e.fireRecoveryEvent, log)
	return e
}

func (e *Engine) fireRecoveryEvent(event RecoveryEvent) {
	if e.events == nil {
		return
	}
	switch event {
	case PulseDownEvent:
		e.events.PublishDeviceHealth("down")
	case PulseRecoveredEvent:
		e.events.PublishDeviceHealth("healthy")
	}
}

// SessionVoice mirrors the fields of registry.VoiceProfile the Engine needs
// to build a generation request, expressed independently so this package
// does not import registry. Callers convert a session's voice override (or
// the zero value, for the generator's default voice) to this type.
type SessionVoice struct {
	Voice string
	Style string
	Speed float64
}

func (v SessionVoice) toProfile() tts.VoiceProfile {
	speed := v.Speed
	if speed == 0 {
		speed = 1.0
	}
	return tts.VoiceProfile{ID: v.Voice, Style: v.Style, Speed: speed}
}

// resolve returns the cached artifact for (text, voice), generating and
// caching it first if necessary.
func (e *Engine) resolve(ctx context.Context, text string, voice SessionVoice) (*tts.Audio, error) {
	req := tts.GenerateRequest{Text: text, Voice: voice.toProfile(), Model: e.model}

	if e.cache != nil {
		if audio, ok := e.cache.Lookup(req); ok {
			return audio, nil
		}
	}

	audio, err := e.gen.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tts: generate: %w", err)
	}
	if e.cache != nil {
		if err := e.cache.Store(req, audio); err != nil {
			e.log.Warn("tts: cache store failed", "error", err)
		}
	}
	return audio, nil
}

// Speak synthesizes text (via cache or the generator chain) and enqueues it
// for playback. priority is [PriorityNormal] or [PriorityUrgent]. If
// blocking, Speak does not return until the artifact has finished playing,
// been preempted, or been dropped; otherwise it returns once the artifact is
// queued.
func (e *Engine) Speak(ctx context.Context, voice SessionVoice, text string, blocking bool, priority int) error {
	audio, err := e.resolve(ctx, text, voice)
	if err != nil {
		e.log.Warn("tts: speak generation failed", "error", err)
		return err
	}

	done := make(chan error, 1)
	req := &PlaybackRequest{
		Audio:    audio,
		Priority: priority,
		Class:    ClassSpeech,
		OnComplete: func(err error) {
			done <- err
		},
	}
	e.player.Enqueue(req)

	if !blocking {
		return nil
	}
	return <-done
}

// Stop interrupts whatever is currently playing and clears the queue,
// without ever holding the player's lock across the kill syscall.
func (e *Engine) Stop() {
	e.player.Stop()
}

// NextScrollToken allocates and returns the latest scroll generation token.
// The UI Presenter calls this once per scroll event, before kicking off
// generation, and passes the returned token through to ScrollReadout.
func (e *Engine) NextScrollToken() uint64 {
	return atomic.AddUint64(&e.scrollCounter, 1)
}

// ScrollReadout speaks optionText asynchronously as a non-urgent, interruptible
// scroll readout. genToken must be the value returned by the NextScrollToken
// call that preceded generation; if the operator has since scrolled past this
// option, genToken no longer matches the latest counter and playback is
// skipped silently once it reaches the front of the queue, exactly as spec'd
// for a stale scroll readout. A fresh scroll readout always preempts a prior
// one still playing, but never preempts agent speech unless that speech has
// finished.
func (e *Engine) ScrollReadout(ctx context.Context, voice SessionVoice, optionText string, genToken uint64) {
	audio, err := e.resolve(ctx, optionText, voice)
	if err != nil {
		e.log.Warn("tts: scroll readout generation failed", "error", err)
		return
	}

	req := &PlaybackRequest{
		Audio:    audio,
		Priority: PriorityNormal,
		Class:    ClassScroll,
		Precheck: func() bool {
			return atomic.LoadUint64(&e.scrollCounter) == genToken
		},
	}
	e.player.Enqueue(req)
}

// Close stops the playback scheduler's dispatch goroutine.
func (e *Engine) Close() {
	e.player.Close()
}

// DeviceState reports the audio device's current recovery state as a short
// label ("healthy", "degraded", "recovering", "down"), for the health
// checker and the optional Discord dashboard mirror.
func (e *Engine) DeviceState() string {
	return e.player.State().String()
}
