// Package eventbus publishes lifecycle events to subscribers (frontends over
// a streaming HTTP channel). Publication is best-effort: a subscriber that
// falls behind the ring's capacity is dropped forward with a lag marker
// rather than blocking the publisher.
package eventbus

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/relaybroker/relaybroker/internal/registry"
)

// Kind classifies an [Envelope]'s payload.
type Kind string

const (
	KindChoicesPresented Kind = "choices_presented"
	KindSpeechRequested  Kind = "speech_requested"
	KindSelectionMade    Kind = "selection_made"
	KindRecordingState   Kind = "recording_state"
	KindSessionCreated   Kind = "session_created"
	KindSessionRemoved   Kind = "session_removed"
	KindDeviceHealth     Kind = "device_health"
	KindLag              Kind = "lag"
	KindHeartbeat        Kind = "heartbeat"
)

// Envelope is one published event. SequenceNumber is monotonic per bus and
// lets subscribers detect gaps.
type Envelope struct {
	SessionID      string `json:"session_id,omitempty"`
	Kind           Kind   `json:"kind"`
	Payload        any    `json:"payload,omitempty"`
	SequenceNumber uint64 `json:"sequence_number"`
}

const notifyTopic = "relaybroker.events"

// Bus fans EventEnvelope values out to any number of subscribers. The ring
// buffer, sequence counter, and per-subscriber lag detection are
// hand-rolled: watermill's gochannel pub-sub gives every subscriber its own
// buffered Go channel with configurable overflow behaviour, but none of the
// shipped behaviours (block, or drop-silently) match the spec's requirement
// to keep serving a lagging subscriber with an explicit lag marker instead
// of either blocking the publisher or silently truncating its view. So the
// ring lives here, in front of watermill, which is kept purely as the
// wake-up notification channel multicast to every subscriber goroutine.
type Bus struct {
	mu       sync.Mutex
	ring     []Envelope
	capacity int
	seq      uint64
	base     uint64 // number of envelopes evicted so far; ring[0].SequenceNumber == base+1

	pubsub *gochannel.GoChannel

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a [Bus] whose ring retains up to capacity envelopes.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		ring:     make([]Envelope, 0, capacity),
		capacity: capacity,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: int64(capacity)},
			watermill.NopLogger{},
		),
		closed: make(chan struct{}),
	}
}

// Publish appends env to the ring (evicting the oldest entry if full),
// assigns it the next sequence number, and wakes every subscriber.
func (b *Bus) Publish(env Envelope) {
	b.mu.Lock()
	b.seq++
	env.SequenceNumber = b.seq
	if len(b.ring) == b.capacity {
		b.ring = b.ring[1:]
		b.base++
	}
	b.ring = append(b.ring, env)
	b.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), nil)
	_ = b.pubsub.Publish(notifyTopic, msg)
}

// PublishSessionCreated implements [registry.EventPublisher].
func (b *Bus) PublishSessionCreated(sessionID, displayName string) {
	b.Publish(Envelope{SessionID: sessionID, Kind: KindSessionCreated, Payload: map[string]string{"display_name": displayName}})
}

// PublishSessionRemoved implements [registry.EventPublisher].
func (b *Bus) PublishSessionRemoved(sessionID, reason string) {
	b.Publish(Envelope{SessionID: sessionID, Kind: KindSessionRemoved, Payload: map[string]string{"reason": reason}})
}

// PublishDeviceHealth implements [tts.EventPublisher], surfacing a
// pulse_down/pulse_recovered transition from the audio device recovery FSM.
func (b *Bus) PublishDeviceHealth(state string) {
	b.Publish(Envelope{Kind: KindDeviceHealth, Payload: map[string]string{"state": state}})
}

// choicesPresentedPayload mirrors a presented Choices item's operator-facing
// fields, independent of registry.Item so subscribers don't need to decode
// rendezvous/internal bookkeeping.
type choicesPresentedPayload struct {
	Preamble string             `json:"preamble"`
	Options  []choiceOptionJSON `json:"options"`
	Multi    bool               `json:"multi"`
}

type choiceOptionJSON struct {
	Label   string `json:"label"`
	Summary string `json:"summary"`
	Silent  bool   `json:"silent"`
}

// PublishChoicesPresented implements [inbox.EventPublisher].
func (b *Bus) PublishChoicesPresented(sessionID string, item *registry.Item) {
	opts := make([]choiceOptionJSON, len(item.Options))
	for i, o := range item.Options {
		opts[i] = choiceOptionJSON{Label: o.Label, Summary: o.Summary, Silent: o.Silent}
	}
	b.Publish(Envelope{
		SessionID: sessionID,
		Kind:      KindChoicesPresented,
		Payload: choicesPresentedPayload{
			Preamble: item.Preamble,
			Options:  opts,
			Multi:    item.Multi,
		},
	})
}

// PublishSpeechRequested implements [inbox.EventPublisher].
func (b *Bus) PublishSpeechRequested(sessionID, text string, priority int) {
	b.Publish(Envelope{
		SessionID: sessionID,
		Kind:      KindSpeechRequested,
		Payload:   map[string]any{"text": text, "priority": priority},
	})
}

// selectionMadePayload mirrors a resolved/cancelled item's result, for
// subscribers that want to know what the operator picked without decoding
// registry.Result directly.
type selectionMadePayload struct {
	Selected        string   `json:"selected,omitempty"`
	SelectedSummary string   `json:"selected_summary,omitempty"`
	SelectedMulti   []string `json:"selected_multi,omitempty"`
	Cancelled       bool     `json:"cancelled,omitempty"`
	CancelReason    string   `json:"cancel_reason,omitempty"`
}

// PublishSelectionMade implements [inbox.EventPublisher].
func (b *Bus) PublishSelectionMade(sessionID, itemID string, result *registry.Result) {
	payload := selectionMadePayload{Cancelled: result.Cancelled, CancelReason: result.CancelReason}
	if !result.Cancelled {
		payload.Selected = result.Selected
		payload.SelectedSummary = result.SelectedSummary
		payload.SelectedMulti = result.SelectedMulti
	}
	b.Publish(Envelope{
		SessionID: sessionID,
		Kind:      KindSelectionMade,
		Payload:   map[string]any{"item_id": itemID, "result": payload},
	})
}

// Cursor tracks one subscriber's read position into the ring.
type Cursor struct {
	bus    *Bus
	next   uint64 // next SequenceNumber to deliver
	notify <-chan *message.Message
}

// Subscribe returns a fresh [Cursor] positioned at the ring's current head —
// reconnecting frontends never replay missed events, matching the spec's
// explicit "no replay" design choice; they re-read full state via a REST
// snapshot instead. ctx governs the lifetime of the underlying watermill
// subscription; callers should cancel it when the connection closes.
func (b *Bus) Subscribe(ctx context.Context) *Cursor {
	b.mu.Lock()
	next := b.base + uint64(len(b.ring)) + 1
	b.mu.Unlock()

	messages, _ := b.pubsub.Subscribe(ctx, notifyTopic)
	return &Cursor{bus: b, next: next, notify: messages}
}

// Poll returns every envelope newly available since the last Poll call. If
// the cursor fell behind the ring's retention window, the skipped envelopes
// are dropped and a single synthetic [KindLag] envelope is returned first.
func (c *Cursor) Poll() []Envelope {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	b := c.bus
	head := b.base + uint64(len(b.ring))
	if c.next > head {
		return nil
	}

	var lag Envelope
	hasLag := false
	if c.next <= b.base {
		hasLag = true
		lag = Envelope{Kind: KindLag, SequenceNumber: c.next}
		c.next = b.base + 1
	}

	startIdx := int(c.next - b.base - 1)
	if startIdx < 0 {
		startIdx = 0
	}
	out := make([]Envelope, 0, len(b.ring)-startIdx+1)
	if hasLag {
		out = append(out, lag)
	}
	out = append(out, b.ring[startIdx:]...)
	c.next = head + 1
	return out
}

// Notify returns the channel that wakes whenever a new envelope is
// published. SSE handlers select between it, a heartbeat ticker, and request
// cancellation; each received message should be drained with [Cursor.Poll]
// and acknowledged.
func (c *Cursor) Notify() <-chan *message.Message {
	return c.notify
}

// Close releases the underlying watermill pub-sub.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		_ = b.pubsub.Close()
	})
}

// NextSequence reports the sequence number that would be assigned to the
// next published envelope, for tests and diagnostics.
func (b *Bus) NextSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq + 1
}
