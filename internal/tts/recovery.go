package tts

import (
	"log/slog"
	"sync"
	"time"

	"github.com/relaybroker/relaybroker/internal/config"
)

// RecoveryState is the audio device's health, advancing from healthy through
// an escalating sequence of recovery attempts down to a terminal down state
// if every attempt is exhausted.
type RecoveryState int

const (
	RecoveryHealthy RecoveryState = iota
	RecoveryDegraded
	RecoveryRecovering
	RecoveryDown
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryHealthy:
		return "healthy"
	case RecoveryDegraded:
		return "degraded"
	case RecoveryRecovering:
		return "recovering"
	case RecoveryDown:
		return "down"
	default:
		return "unknown"
	}
}

// maxRecoveryAttempts bounds how many escalating recovery attempts are made
// before the device is declared down. While down, the Player drops
// non-urgent playback requests without trying the device; only urgent
// requests still reach it.
const maxRecoveryAttempts = 3

// RecoveryEvent names a device-health transition the TTS Engine surfaces to
// the Event Bus.
type RecoveryEvent int

const (
	// NoRecoveryEvent means the call produced no user-visible transition.
	NoRecoveryEvent RecoveryEvent = iota
	// PulseDownEvent fires exactly once per degradation episode, the first
	// time the device leaves the healthy state.
	PulseDownEvent
	// PulseRecoveredEvent fires exactly once when the device returns to
	// healthy after a degradation episode.
	PulseRecoveredEvent
)

// Recovery tracks the audio device's health and decides when to escalate
// recovery attempts versus when to give up and report the device down. It
// does not itself perform recovery actions (suspend/resume sinks, kill
// stray players, restart a daemon) — it only hands the caller (the Player)
// an escalating backoff duration via RecordFailure, which the caller must
// honor before its next playback attempt.
//
// Safe for concurrent use.
type Recovery struct {
	mu sync.Mutex
	cfg config.RecoveryConfig
	log *slog.Logger

	state            RecoveryState
	consecutiveFail  int
	attempt          int
	nextBackoff      time.Duration
	healthySuccesses int
	pulseDownEmitted bool
}

// NewRecovery creates a [Recovery] governed by cfg. Zero-value fields in cfg
// fall back to sensible defaults.
func NewRecovery(cfg config.RecoveryConfig, log *slog.Logger) *Recovery {
	if cfg.DegradeAfter <= 0 {
		cfg.DegradeAfter = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.HealthyStreak <= 0 {
		cfg.HealthyStreak = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recovery{cfg: cfg, log: log, state: RecoveryHealthy, nextBackoff: cfg.BaseBackoff}
}

// State returns the current device state.
func (r *Recovery) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RecordFailure registers one player failure (a non-zero exit). It returns
// the backoff to wait before the next recovery attempt (zero if no recovery
// is yet warranted) and the event to surface, if any.
func (r *Recovery) RecordFailure() (backoff time.Duration, event RecoveryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFail++
	r.healthySuccesses = 0

	switch r.state {
	case RecoveryHealthy:
		if r.consecutiveFail < r.cfg.DegradeAfter {
			return 0, NoRecoveryEvent
		}
		r.state = RecoveryDegraded
		fallthrough
	case RecoveryDegraded, RecoveryRecovering:
		r.attempt++
		r.state = RecoveryRecovering
		if r.attempt > maxRecoveryAttempts {
			r.state = RecoveryDown
			r.log.Warn("audio device recovery exhausted, marking down", "attempts", r.attempt)
		}
		wait := r.nextBackoff
		r.nextBackoff = min(r.nextBackoff*2, r.cfg.MaxBackoff)

		event = NoRecoveryEvent
		if !r.pulseDownEmitted {
			r.pulseDownEmitted = true
			event = PulseDownEvent
		}
		return wait, event
	default: // already down
		return r.cfg.MaxBackoff, NoRecoveryEvent
	}
}

// RecordSuccess registers a successful playback. The device only returns to
// healthy, and pulse_recovered fires, once cfg.HealthyStreak consecutive
// successes have been observed — a lone success between flaky failures does
// not erase the episode.
func (r *Recovery) RecordSuccess() (event RecoveryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == RecoveryHealthy {
		return NoRecoveryEvent
	}

	r.healthySuccesses++
	if r.healthySuccesses < r.cfg.HealthyStreak {
		return NoRecoveryEvent
	}

	r.state = RecoveryHealthy
	r.attempt = 0
	r.nextBackoff = r.cfg.BaseBackoff
	r.consecutiveFail = 0
	r.pulseDownEmitted = false
	r.healthySuccesses = 0
	return PulseRecoveredEvent
}
