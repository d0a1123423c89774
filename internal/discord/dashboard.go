// Package discord provides an optional, read-only mirror of broker state to
// a Discord channel. It is disabled unless a bot token and channel are
// configured; when enabled it never accepts input back from Discord, so it
// cannot be used to operate a session.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/relaybroker/relaybroker/internal/registry"
)

// StateSource supplies the data the dashboard renders. The registry and TTS
// Engine both satisfy the relevant pieces of this surface.
type StateSource interface {
	// Snapshots returns a read-only view of every known session.
	Snapshots() []registry.Snapshot
	// DeviceState reports the current audio device recovery state, as a
	// short label ("healthy", "degraded", "recovering", "down").
	DeviceState() string
}

// embedColorGreen is the embed sidebar color when the audio device is healthy.
const embedColorGreen = 0x2ECC71

// embedColorRed is the embed sidebar color when the audio device is down, and
// once the dashboard has stopped.
const embedColorRed = 0xE74C3C

// embedColorYellow is the embed sidebar color when the audio device is
// degraded or recovering.
const embedColorYellow = 0xF1C40F

// defaultInterval is the default dashboard update interval.
const defaultInterval = 10 * time.Second

// Dashboard renders and periodically updates a Discord embed mirroring
// session registry and TTS device state. The embed is created on Start and
// edited in place every update interval. It never reads messages or
// reactions from the channel.
//
// Thread-safe for concurrent use.
type Dashboard struct {
	mu        sync.Mutex
	session   *discordgo.Session
	channelID string
	messageID string // embed message; created on first update
	interval  time.Duration
	source    StateSource
	done      chan struct{}
	stopOnce  sync.Once
}

// DashboardConfig holds dependencies for creating a Dashboard.
type DashboardConfig struct {
	Session   *discordgo.Session
	ChannelID string
	Interval  time.Duration // Default: 10 seconds
	Source    StateSource
}

// NewDashboard creates a Dashboard.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	return &Dashboard{
		session:   cfg.Session,
		channelID: cfg.ChannelID,
		interval:  interval,
		source:    cfg.Source,
		done:      make(chan struct{}),
	}
}

// Start begins the periodic update loop in a background goroutine.
func (d *Dashboard) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop halts the periodic update loop and posts a final "mirror stopped" embed.
func (d *Dashboard) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		close(d.done)
		d.postFinalEmbed(ctx)
	})
}

// loop runs the periodic embed update until Stop is called or ctx is cancelled.
func (d *Dashboard) loop(ctx context.Context) {
	d.update(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.update(ctx)
		}
	}
}

// update builds the embed from current registry/device state and creates or
// edits the message.
func (d *Dashboard) update(ctx context.Context) {
	sessions := d.source.Snapshots()
	device := d.source.DeviceState()
	embed := buildEmbed(sessions, device)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		msg, err := d.session.ChannelMessageSendEmbed(d.channelID, embed)
		if err != nil {
			slog.Warn("dashboard: failed to create embed message", "channel", d.channelID, "err", err)
			return
		}
		d.messageID = msg.ID
		slog.Debug("dashboard: created embed message", "message_id", msg.ID, "channel", d.channelID)
	} else {
		_, err := d.session.ChannelMessageEditEmbed(d.channelID, d.messageID, embed)
		if err != nil {
			slog.Warn("dashboard: failed to edit embed message", "message_id", d.messageID, "err", err)
		}
	}

	_ = ctx // reserved for future context-aware API calls
}

// postFinalEmbed posts a "mirror stopped" version of the embed.
func (d *Dashboard) postFinalEmbed(_ context.Context) {
	sessions := d.source.Snapshots()
	device := d.source.DeviceState()
	embed := buildStoppedEmbed(sessions, device)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		return
	}
	_, err := d.session.ChannelMessageEditEmbed(d.channelID, d.messageID, embed)
	if err != nil {
		slog.Warn("dashboard: failed to post final embed", "message_id", d.messageID, "err", err)
	}
}

// buildEmbed creates the live dashboard embed from the session snapshots and
// the audio device state.
func buildEmbed(sessions []registry.Snapshot, device string) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Sessions", Value: fmt.Sprintf("%d", len(sessions)), Inline: true},
		{Name: "Active Items", Value: fmt.Sprintf("%d", countActive(sessions)), Inline: true},
		{Name: "Audio Device", Value: device, Inline: true},
	}

	if s := formatSessionField(sessions); s != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Session Detail",
			Value:  s,
			Inline: false,
		})
	}

	return &discordgo.MessageEmbed{
		Title:  "Relay Broker — Event Bus Mirror",
		Color:  colorForDevice(device),
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Read-only mirror",
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// buildStoppedEmbed creates the final "mirror stopped" embed.
func buildStoppedEmbed(sessions []registry.Snapshot, device string) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Sessions at stop", Value: fmt.Sprintf("%d", len(sessions)), Inline: true},
		{Name: "Audio Device", Value: device, Inline: true},
	}

	return &discordgo.MessageEmbed{
		Title:       "Relay Broker — Event Bus Mirror",
		Description: "Mirror has stopped.",
		Color:       embedColorRed,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Mirror stopped",
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// countActive returns the number of sessions with an active inbox item.
func countActive(sessions []registry.Snapshot) int {
	n := 0
	for _, s := range sessions {
		if s.HasActiveItem {
			n++
		}
	}
	return n
}

// formatSessionField builds a compact multi-line listing of sessions and
// their lifecycle state. Returns empty string if there are no sessions.
func formatSessionField(sessions []registry.Snapshot) string {
	if len(sessions) == 0 {
		return ""
	}
	var lines []string
	for _, s := range sessions {
		marker := " "
		if s.HasActiveItem {
			marker = "*"
		}
		if s.Focused {
			marker = ">"
		}
		lines = append(lines, fmt.Sprintf("%s %s [%s] pending=%d", marker, s.DisplayName, s.LifecycleState, s.PendingMessages))
	}
	var result strings.Builder
	result.WriteString("```\n")
	for _, line := range lines {
		result.WriteString(line + "\n")
	}
	result.WriteString("```")
	return result.String()
}

// colorForDevice maps an audio device state label to an embed sidebar color.
func colorForDevice(device string) int {
	switch {
	case strings.HasPrefix(device, "healthy"):
		return embedColorGreen
	case strings.HasPrefix(device, "down"):
		return embedColorRed
	default:
		return embedColorYellow
	}
}
