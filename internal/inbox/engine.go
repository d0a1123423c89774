// Package inbox implements the Inbox Engine: it turns concurrent enqueue
// calls from agent tool-call threads into a deterministic per-session serial
// order, presents Choices items to the UI Presenter, dispatches Speech items
// to the TTS Engine, and resolves or cancels items so their callers can
// return.
package inbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/relaybroker/relaybroker/internal/registry"
	"github.com/relaybroker/relaybroker/internal/tts"
)

// ErrInvalidRequest is returned synchronously for a Choices item whose
// option list is empty.
var ErrInvalidRequest = errors.New("inbox: invalid_request")

// ErrBackpressure is returned when a session's inbox already holds
// MaxQueuedPerSession items.
var ErrBackpressure = errors.New("inbox: too many queued items")

// UINotifier is the Presenter-facing half of the Inbox Engine's contract:
// it is told whenever a session's active item changes, so the Presenter can
// re-render if that session is focused.
type UINotifier interface {
	ActiveItemChanged(sessionID string, item *registry.Item)
}

// EventPublisher is the minimal surface the Inbox Engine needs from the
// Event Bus. Defined here, not imported from eventbus, to avoid a package
// cycle; eventbus.Bus satisfies it.
type EventPublisher interface {
	PublishChoicesPresented(sessionID string, item *registry.Item)
	PublishSpeechRequested(sessionID, text string, priority int)
	PublishSelectionMade(sessionID, itemID string, result *registry.Result)
}

// Speaker is the TTS-Engine-facing half of the contract Speech items use.
type Speaker interface {
	Speak(ctx context.Context, voice tts.SessionVoice, text string, blocking bool, priority int) error
}

// Engine is the Inbox Engine.
type Engine struct {
	registry            *registry.Registry
	speaker             Speaker
	ui                  UINotifier
	events              EventPublisher
	maxQueuedPerSession int
	log                 *slog.Logger
}

// New creates an [Engine]. ui and events may be nil (notifications are then
// skipped). maxQueuedPerSession <= 0 means unbounded.
func New(reg *registry.Registry, speaker Speaker, ui UINotifier, events EventPublisher, maxQueuedPerSession int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry:            reg,
		speaker:             speaker,
		ui:                  ui,
		events:              events,
		maxQueuedPerSession: maxQueuedPerSession,
		log:                 log,
	}
}

// sessionVoiceOf converts a session's voice override to the Engine-agnostic
// shape the TTS Engine expects.
func sessionVoiceOf(sess *registry.Session) tts.SessionVoice {
	if sess.Voice == nil {
		return tts.SessionVoice{}
	}
	return tts.SessionVoice{Voice: sess.Voice.Voice, Style: sess.Voice.Style, Speed: sess.Voice.Speed}
}

// EnqueueChoices implements present_choices/present_multi_select: steps 1-9
// of the Choices enqueue protocol. It blocks until the item is resolved or
// cancelled, or ctx is done.
func (e *Engine) EnqueueChoices(ctx context.Context, sess *registry.Session, itemID, preamble string, options []registry.Option, multi bool) (*registry.Result, error) {
	if len(options) == 0 {
		return nil, ErrInvalidRequest
	}
	if e.maxQueuedPerSession > 0 && sess.Len() >= e.maxQueuedPerSession {
		return nil, ErrBackpressure
	}
	if itemID == "" {
		itemID = uuid.NewString()
	}

	item := registry.NewChoicesItem(itemID, sess.ID, preamble, options, multi)
	return e.run(ctx, sess, item, e.activateChoices)
}

// activateChoices implements step 6 for a Choices item: promote to active,
// publish choices_presented, and notify the UI Presenter.
func (e *Engine) activateChoices(_ context.Context, sess *registry.Session, item *registry.Item) {
	if e.events != nil {
		e.events.PublishChoicesPresented(sess.ID, item)
	}
	if e.ui != nil {
		e.ui.ActiveItemChanged(sess.ID, item)
	}
}

// EnqueueSpeech implements speak/speak_async/speak_urgent. Non-urgent speech
// follows the same per-session FIFO as Choices items; urgent speech inserts
// at the head of the session's inbox, bypasses the promotion rendezvous
// entirely, and resolves as soon as the TTS Engine accepts it for playback
// (interrupting whatever the TTS Engine is currently playing, across every
// session — that preemption is enforced by the TTS Engine's own player, not
// here).
func (e *Engine) EnqueueSpeech(ctx context.Context, sess *registry.Session, itemID, text string, blocking bool, priority int) (*registry.Result, error) {
	if e.maxQueuedPerSession > 0 && sess.Len() >= e.maxQueuedPerSession {
		return nil, ErrBackpressure
	}
	if itemID == "" {
		itemID = uuid.NewString()
	}

	item := registry.NewSpeechItem(itemID, sess.ID, text, blocking, priority)

	if priority == registry.PriorityUrgent {
		return e.runUrgentSpeech(ctx, sess, item)
	}
	return e.run(ctx, sess, item, e.activateSpeech)
}

// activateSpeech implements step 6 for a non-urgent Speech item: dispatch to
// the TTS Engine and resolve immediately (for async) or once playback
// completes (for blocking), without ever waiting on an external rendezvous —
// the caller resolves its own item.
func (e *Engine) activateSpeech(ctx context.Context, sess *registry.Session, item *registry.Item) {
	if e.events != nil {
		e.events.PublishSpeechRequested(sess.ID, item.Text, item.Priority)
	}
	err := e.speaker.Speak(ctx, sessionVoiceOf(sess), item.Text, item.Blocking, item.Priority)
	item.Fire(registry.StatusResolved, &registry.Result{
		PendingMessages: sess.DrainPendingMessages(),
		CancelReason:    speakErrReason(err),
	})
}

func speakErrReason(err error) string {
	if err == nil {
		return ""
	}
	return "tts_error: " + err.Error()
}

// runUrgentSpeech implements the urgent speech path: splice to head,
// activate without waiting on Promoted, resolve immediately, then drain the
// queue bookkeeping exactly like any other resolved head item.
func (e *Engine) runUrgentSpeech(ctx context.Context, sess *registry.Session, item *registry.Item) (*registry.Result, error) {
	sess.PromoteUrgent(item)
	item.SetActive()
	e.activateSpeech(ctx, sess, item)
	e.advance(sess, item)
	return item.Result(), nil
}

// run drives the shared protocol (steps 2-9) common to both item kinds: the
// activate callback implements each kind's step 6.
func (e *Engine) run(ctx context.Context, sess *registry.Session, item *registry.Item, activate func(context.Context, *registry.Session, *registry.Item)) (*registry.Result, error) {
	isHead := sess.Append(item)
	if isHead {
		item.Promote()
	}

	select {
	case <-item.Promoted():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if item.SetActive() {
		activate(ctx, sess, item)
	}
	// If SetActive failed, the item was cancelled while still queued (e.g.
	// session removal, or a transport cancel that raced ahead of our
	// promotion); item.Done() is already closed, so the wait below returns
	// immediately.

	select {
	case <-item.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.advance(sess, item)
	return item.Result(), nil
}

// advance implements step 8's tail: pop the now-resolved head item into
// history and promote whatever is now at the head, if anything.
func (e *Engine) advance(sess *registry.Session, item *registry.Item) {
	if e.events != nil {
		if result := item.Result(); result != nil {
			e.events.PublishSelectionMade(sess.ID, item.ID, result)
		}
	}
	next := sess.AdvancePastResolved()
	if next != nil {
		next.Promote()
	}
	if e.ui != nil {
		e.ui.ActiveItemChanged(sess.ID, next)
	}
}

// Resolve implements the UI Presenter's "select" and "freeform input"
// affordances: it resolves sess's active item (which must be a Choices
// item) with result. Returns false if there was no active Choices item to
// resolve (e.g. it was already cancelled).
func (e *Engine) Resolve(sess *registry.Session, result *registry.Result) bool {
	head := sess.Head()
	if head == nil || head.Kind != registry.KindChoices || head.Status() != registry.StatusActive {
		return false
	}
	result.PendingMessages = sess.DrainPendingMessages()
	head.Fire(registry.StatusResolved, result)
	return true
}

// Dismiss implements the UI Presenter's "dismiss" affordance: cancels sess's
// active Choices item.
func (e *Engine) Dismiss(sess *registry.Session) bool {
	return e.Cancel(sess, "", "operator_dismiss")
}

// Cancel cancels the item identified by itemID (or sess's active item, if
// itemID is empty) with reason. Used both by operator dismiss and by the
// Tool Dispatcher's transport-cancel notification. Returns false if no
// matching unresolved item was found.
func (e *Engine) Cancel(sess *registry.Session, itemID, reason string) bool {
	var item *registry.Item
	if itemID == "" {
		item = sess.Head()
	} else {
		item = sess.FindItem(itemID)
	}
	if item == nil {
		return false
	}
	item.Fire(registry.StatusCancelled, &registry.Result{
		Cancelled:    true,
		CancelReason: reason,
	})
	return true
}

// CancelAll cancels every item in items (typically from [registry.Registry]'s
// Remove) with reason, for the "session removed while items queued" edge
// case. Unlike Cancel, it does not touch any session's inbox — the caller
// has already cleared it.
func CancelAll(items []*registry.Item, reason string) {
	for _, item := range items {
		item.Fire(registry.StatusCancelled, &registry.Result{Cancelled: true, CancelReason: reason})
	}
}

// CheckInbox returns a snapshot of every queued/active item in sess, for the
// check_inbox meta-tool.
func (e *Engine) CheckInbox(sess *registry.Session) []*registry.Item {
	return sess.AllItems()
}
