package discord

import (
	"testing"
	"time"

	"github.com/relaybroker/relaybroker/internal/registry"
)

// stubSource implements StateSource for testing.
type stubSource struct {
	sessions []registry.Snapshot
	device   string
}

func (s *stubSource) Snapshots() []registry.Snapshot { return s.sessions }
func (s *stubSource) DeviceState() string            { return s.device }

func TestBuildEmbed(t *testing.T) {
	t.Parallel()

	sessions := []registry.Snapshot{
		{ID: "sess-1", DisplayName: "alice", LifecycleState: registry.LifecycleLive, HasActiveItem: true, Focused: true, PendingMessages: 2},
		{ID: "sess-2", DisplayName: "bob", LifecycleState: registry.LifecycleStale, HasActiveItem: false},
	}

	embed := buildEmbed(sessions, "healthy")

	if embed.Title != "Relay Broker — Event Bus Mirror" {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color != embedColorGreen {
		t.Errorf("Color = %d, want %d", embed.Color, embedColorGreen)
	}
	if embed.Fields[0].Name != "Sessions" || embed.Fields[0].Value != "2" {
		t.Errorf("Field[0] = %q:%q, want Sessions:2", embed.Fields[0].Name, embed.Fields[0].Value)
	}
	if embed.Fields[1].Value != "1" {
		t.Errorf("Active Items = %q, want 1", embed.Fields[1].Value)
	}
	if embed.Fields[2].Value != "healthy" {
		t.Errorf("Audio Device = %q, want healthy", embed.Fields[2].Value)
	}
	if embed.Footer == nil || embed.Footer.Text != "Read-only mirror" {
		t.Errorf("Footer = %v, want 'Read-only mirror'", embed.Footer)
	}
}

func TestBuildEmbed_NoSessions(t *testing.T) {
	t.Parallel()

	embed := buildEmbed(nil, "healthy")
	if embed.Fields[0].Value != "0" {
		t.Errorf("Sessions = %q, want 0", embed.Fields[0].Value)
	}
	// No "Session Detail" field when there are no sessions.
	for _, f := range embed.Fields {
		if f.Name == "Session Detail" {
			t.Error("unexpected Session Detail field with zero sessions")
		}
	}
}

func TestBuildEmbed_DeviceColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		device string
		want   int
	}{
		{"healthy", embedColorGreen},
		{"degraded", embedColorYellow},
		{"recovering(2)", embedColorYellow},
		{"down", embedColorRed},
	}
	for _, tt := range tests {
		embed := buildEmbed(nil, tt.device)
		if embed.Color != tt.want {
			t.Errorf("device %q: color = %#x, want %#x", tt.device, embed.Color, tt.want)
		}
	}
}

func TestBuildStoppedEmbed(t *testing.T) {
	t.Parallel()

	sessions := []registry.Snapshot{
		{ID: "sess-1", DisplayName: "alice", LifecycleState: registry.LifecycleDead},
	}

	embed := buildStoppedEmbed(sessions, "down")

	if embed.Color != embedColorRed {
		t.Errorf("Color = %d, want %d", embed.Color, embedColorRed)
	}
	if embed.Description != "Mirror has stopped." {
		t.Errorf("Description = %q", embed.Description)
	}
	if embed.Footer == nil || embed.Footer.Text != "Mirror stopped" {
		t.Errorf("Footer = %v, want 'Mirror stopped'", embed.Footer)
	}
}

func TestDashboard_StartStop(t *testing.T) {
	t.Parallel()

	src := &stubSource{device: "healthy"}

	cfg := DashboardConfig{
		Session:   nil,
		ChannelID: "test-channel",
		Interval:  50 * time.Millisecond,
		Source:    src,
	}

	d := NewDashboard(cfg)

	if d.interval != 50*time.Millisecond {
		t.Errorf("interval = %v, want 50ms", d.interval)
	}
	if d.channelID != "test-channel" {
		t.Errorf("channelID = %q, want %q", d.channelID, "test-channel")
	}

	d2 := NewDashboard(DashboardConfig{
		ChannelID: "ch",
		Source:    src,
	})
	if d2.interval != defaultInterval {
		t.Errorf("default interval = %v, want %v", d2.interval, defaultInterval)
	}
}

func TestCountActive(t *testing.T) {
	t.Parallel()

	sessions := []registry.Snapshot{
		{HasActiveItem: true},
		{HasActiveItem: false},
		{HasActiveItem: true},
	}
	if got := countActive(sessions); got != 2 {
		t.Errorf("countActive = %d, want 2", got)
	}
}

func TestFormatSessionField_Empty(t *testing.T) {
	t.Parallel()

	if got := formatSessionField(nil); got != "" {
		t.Errorf("expected empty string for zero sessions, got %q", got)
	}
}

func TestFormatSessionField_Markers(t *testing.T) {
	t.Parallel()

	sessions := []registry.Snapshot{
		{DisplayName: "focused-session", Focused: true, LifecycleState: registry.LifecycleLive},
		{DisplayName: "active-session", HasActiveItem: true, LifecycleState: registry.LifecycleLive},
		{DisplayName: "idle-session", LifecycleState: registry.LifecycleStale},
	}

	got := formatSessionField(sessions)
	if got == "" {
		t.Fatal("expected non-empty listing")
	}
}
