// Package dispatcher implements the Tool Dispatcher: the transport-agnostic
// glue between the agent-facing RPC surface and the Inbox Engine. It knows
// nothing about MCP, HTTP, or any other wire protocol — it maps transport
// connection identifiers to broker sessions, enqueues inbox items, and
// drains pending_messages onto every tool response, per spec.md §4.6.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaybroker/relaybroker/internal/registry"
)

// ErrUnknownSession is returned when a transport ID has no registered
// session (a tool call arrived before register_session, or the session was
// since removed).
var ErrUnknownSession = errors.New("dispatcher: unknown session")

// Engine is the Inbox-Engine-facing surface the Dispatcher drives. Defined
// here, not imported from inbox, to keep this package importable by
// transports without pulling in the Inbox Engine's TTS/UI dependencies.
type Engine interface {
	EnqueueChoices(ctx context.Context, sess *registry.Session, itemID, preamble string, options []registry.Option, multi bool) (*registry.Result, error)
	EnqueueSpeech(ctx context.Context, sess *registry.Session, itemID, text string, blocking bool, priority int) (*registry.Result, error)
	Cancel(sess *registry.Session, itemID, reason string) bool
	CheckInbox(sess *registry.Session) []*registry.Item
}

// ChoicesResult is the Dispatcher's normalized view of a resolved/cancelled
// Choices item, translated from [registry.Result] into the shapes
// present_choices and present_multi_select return to the agent.
type ChoicesResult struct {
	Selected        string
	SelectedSummary string
	SelectedMulti   []string
	PendingMessages []string
	Cancelled       bool
	CancelReason    string
}

// SpeakResult is the Dispatcher's normalized view of a resolved Speech item.
type SpeakResult struct {
	OK              bool
	PendingMessages []string
	CancelReason    string
}

// callRecord maps one in-flight tool call to the session and item it
// enqueued, so a later transport-level cancel can find it.
type callRecord struct {
	sessionID string
	itemID    string
}

// Dispatcher is the Tool Dispatcher. One instance serves every transport
// connection; transports identify callers by an opaque transportID (e.g. an
// MCP client session ID) that the Dispatcher maps to a registered
// [registry.Session].
type Dispatcher struct {
	registry *registry.Registry
	engine   Engine
	log      *slog.Logger

	mu          sync.Mutex
	sessionsByT map[string]*registry.Session // transportID -> session
	calls       map[string]callRecord        // callID -> {sessionID, itemID}
}

// New creates a [Dispatcher] fronting reg and eng.
func New(reg *registry.Registry, eng Engine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry:    reg,
		engine:      eng,
		log:         log,
		sessionsByT: make(map[string]*registry.Session),
		calls:       make(map[string]callRecord),
	}
}

// RegisterSession implements register_session: it creates or looks up the
// session bound to transportID and records hints. Idempotent: calling it
// again for the same transportID returns the same session id without
// resetting lifecycle state.
func (d *Dispatcher) RegisterSession(transportID string, hints registry.Hints) string {
	d.mu.Lock()
	sess, bound := d.sessionsByT[transportID]
	d.mu.Unlock()
	if bound {
		return sess.ID
	}

	sess = d.registry.GetOrCreate(transportID, hints)
	d.mu.Lock()
	d.sessionsByT[transportID] = sess
	d.mu.Unlock()
	return sess.ID
}

// sessionFor resolves transportID to its bound session, touching its
// activity timestamp. Returns ErrUnknownSession if no session is bound.
func (d *Dispatcher) sessionFor(transportID string) (*registry.Session, error) {
	d.mu.Lock()
	sess, ok := d.sessionsByT[transportID]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, transportID)
	}
	sess.Touch()
	return sess, nil
}

// PresentChoices implements present_choices and present_multi_select.
// callID, if non-empty, is registered so a later Cancel(transportID, callID)
// can locate the enqueued item.
func (d *Dispatcher) PresentChoices(ctx context.Context, transportID, callID, preamble string, options []registry.Option, multi bool) (*ChoicesResult, error) {
	sess, err := d.sessionFor(transportID)
	if err != nil {
		return nil, err
	}

	itemID := callID
	if itemID != "" {
		d.trackCall(callID, sess.ID, itemID)
		defer d.untrackCall(callID)
	}

	result, err := d.engine.EnqueueChoices(ctx, sess, itemID, preamble, options, multi)
	if err != nil {
		return nil, err
	}
	return &ChoicesResult{
		Selected:        result.Selected,
		SelectedSummary: result.SelectedSummary,
		SelectedMulti:   result.SelectedMulti,
		PendingMessages: result.PendingMessages,
		Cancelled:       result.Cancelled,
		CancelReason:    result.CancelReason,
	}, nil
}

// Speak implements speak, speak_async, and speak_urgent: blocking selects
// speak's wait-for-completion behaviour; priority selects normal vs urgent.
func (d *Dispatcher) Speak(ctx context.Context, transportID, callID, text string, blocking bool, priority int) (*SpeakResult, error) {
	sess, err := d.sessionFor(transportID)
	if err != nil {
		return nil, err
	}

	itemID := callID
	if itemID != "" {
		d.trackCall(callID, sess.ID, itemID)
		defer d.untrackCall(callID)
	}

	result, err := d.engine.EnqueueSpeech(ctx, sess, itemID, text, blocking, priority)
	if err != nil {
		return nil, err
	}
	return &SpeakResult{
		OK:              !result.Cancelled,
		PendingMessages: result.PendingMessages,
		CancelReason:    result.CancelReason,
	}, nil
}

// RenameSession implements rename_session: a direct mutation, never
// enqueued through the Inbox Engine.
func (d *Dispatcher) RenameSession(transportID, name string) error {
	sess, err := d.sessionFor(transportID)
	if err != nil {
		return err
	}
	sess.Rename(name)
	return nil
}

// CheckInbox implements check_inbox: it drains and returns pending_messages
// (every successful tool response carries whatever notes the operator
// queued since the agent's last call, check_inbox included, per spec.md
// §4.6) along with the queued/active item count for diagnostics.
func (d *Dispatcher) CheckInbox(transportID string) ([]string, int, error) {
	sess, err := d.sessionFor(transportID)
	if err != nil {
		return nil, 0, err
	}
	items := d.engine.CheckInbox(sess)
	return sess.DrainPendingMessages(), len(items), nil
}

// Cancel implements the transport-level cancel notification: it locates the
// item registered under callID (by a prior PresentChoices/Speak call) and
// cancels it. Returns false if no matching call is tracked (it may have
// already completed).
func (d *Dispatcher) Cancel(transportID, callID string) bool {
	d.mu.Lock()
	rec, ok := d.calls[callID]
	d.mu.Unlock()
	if !ok {
		return false
	}

	sess := d.registry.Lookup(rec.sessionID)
	if sess == nil {
		return false
	}
	return d.engine.Cancel(sess, rec.itemID, "transport_cancel")
}

// RemoveSession unregisters transportID's session entirely (connection
// closed), cancelling every item still queued. Remove has already cleared
// the session's inbox by the time the items come back, so they are fired
// directly rather than looked up through the Engine.
func (d *Dispatcher) RemoveSession(transportID, reason string) {
	d.mu.Lock()
	sess, ok := d.sessionsByT[transportID]
	delete(d.sessionsByT, transportID)
	d.mu.Unlock()
	if !ok {
		return
	}

	items := d.registry.Remove(sess.ID, reason)
	for _, item := range items {
		item.Fire(registry.StatusCancelled, &registry.Result{Cancelled: true, CancelReason: reason})
	}
}

func (d *Dispatcher) trackCall(callID, sessionID, itemID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[callID] = callRecord{sessionID: sessionID, itemID: itemID}
}

func (d *Dispatcher) untrackCall(callID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.calls, callID)
}
