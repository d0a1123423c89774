package tts_test

import (
	"testing"
	"time"

	"github.com/relaybroker/relaybroker/internal/config"
	internaltts "github.com/relaybroker/relaybroker/internal/tts"
)

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		DegradeAfter:  3,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    10 * time.Millisecond,
		HealthyStreak: 2,
	}
}

func TestRecoveryDegradesAfterThreeFailures(t *testing.T) {
	r := internaltts.NewRecovery(testRecoveryConfig(), nil)

	if _, ev := r.RecordFailure(); ev != internaltts.NoRecoveryEvent {
		t.Fatalf("first failure should not emit an event, got %v", ev)
	}
	if _, ev := r.RecordFailure(); ev != internaltts.NoRecoveryEvent {
		t.Fatalf("second failure should not emit an event, got %v", ev)
	}
	_, ev := r.RecordFailure()
	if ev != internaltts.PulseDownEvent {
		t.Fatalf("third failure should emit pulse_down, got %v", ev)
	}
	if r.State() != internaltts.RecoveryRecovering {
		t.Fatalf("state = %v, want recovering", r.State())
	}
}

func TestRecoveryPulseDownFiresOnce(t *testing.T) {
	r := internaltts.NewRecovery(testRecoveryConfig(), nil)
	r.RecordFailure()
	r.RecordFailure()
	_, first := r.RecordFailure()
	_, second := r.RecordFailure()

	if first != internaltts.PulseDownEvent {
		t.Fatalf("expected pulse_down on the degrading failure, got %v", first)
	}
	if second != internaltts.NoRecoveryEvent {
		t.Fatalf("pulse_down must not repeat for subsequent failures, got %v", second)
	}
}

func TestRecoveryGoesDownAfterExhaustingAttempts(t *testing.T) {
	r := internaltts.NewRecovery(testRecoveryConfig(), nil)
	for i := 0; i < 6; i++ {
		r.RecordFailure()
	}
	if r.State() != internaltts.RecoveryDown {
		t.Fatalf("state = %v, want down after repeated failed recovery attempts", r.State())
	}
}

func TestRecoveryRequiresHealthyStreakToFullyReset(t *testing.T) {
	r := internaltts.NewRecovery(testRecoveryConfig(), nil)
	r.RecordFailure()
	r.RecordFailure()
	r.RecordFailure()

	if ev := r.RecordSuccess(); ev != internaltts.NoRecoveryEvent {
		t.Fatalf("a single success must not yet emit pulse_recovered, got %v", ev)
	}
	if r.State() == internaltts.RecoveryHealthy {
		t.Fatal("state must not return to healthy before the configured streak completes")
	}

	ev := r.RecordSuccess()
	if ev != internaltts.PulseRecoveredEvent {
		t.Fatalf("expected pulse_recovered once the streak completes, got %v", ev)
	}
	if r.State() != internaltts.RecoveryHealthy {
		t.Fatalf("state = %v, want healthy", r.State())
	}
}
