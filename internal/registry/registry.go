package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventPublisher is the minimal surface the registry needs from the Event
// Bus. Defined here (not imported from eventbus) to avoid a package cycle;
// eventbus.Bus satisfies it.
type EventPublisher interface {
	PublishSessionCreated(sessionID, displayName string)
	PublishSessionRemoved(sessionID, reason string)
}

// Registry is the process-wide map from session id to [Session]. All
// mutations of the map happen under a single lock, held only long enough to
// mutate the map itself — long work (event publication, rendezvous wakeups)
// happens outside the lock, per the Session Registry's concurrency contract.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	focusedID  string
	historyCap int
	events     EventPublisher
	log        *slog.Logger
}

// New creates an empty [Registry]. historyCap bounds each session's resolved
// item history (0 means unbounded). events may be nil in tests.
func New(historyCap int, events EventPublisher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		historyCap: historyCap,
		events:     events,
		log:        log,
	}
}

// GetOrCreate returns the session for id, creating it (and emitting
// session_created) on first contact. Idempotent: repeated calls with the
// same id always return the same *Session.
func (r *Registry) GetOrCreate(id string, hints Hints) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	sess, exists := r.sessions[id]
	if !exists {
		sess = newSession(id, hints, r.historyCap)
		r.sessions[id] = sess
	}
	r.mu.Unlock()

	if !exists {
		r.log.Info("session registered", "session_id", id, "name", sess.DisplayName)
		if r.events != nil {
			r.events.PublishSessionCreated(id, sess.DisplayName)
		}
	}
	return sess
}

// Lookup returns the session for id, or nil if none exists.
func (r *Registry) Lookup(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove empties the session's inbox, emits session_removed with reason,
// and frees the slot. It does not fire the removed items itself: it returns
// every queued or active item so the caller (the Dispatcher's
// RemoveSession) can cancel them and fire their rendezvous outside any
// lock.
func (r *Registry) Remove(id, reason string) []*Item {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		if r.focusedID == id {
			r.focusedID = ""
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	items := sess.AllItems()
	sess.ClearInbox()

	r.log.Info("session removed", "session_id", id, "reason", reason)
	if r.events != nil {
		r.events.PublishSessionRemoved(id, reason)
	}
	return items
}

// Focus sets the operator's currently-viewed session. Returns false if id is
// unknown.
func (r *Registry) Focus(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	if prev, ok := r.sessions[r.focusedID]; ok {
		prev.mu.Lock()
		prev.focused = false
		prev.mu.Unlock()
	}
	r.focusedID = id
	sess := r.sessions[id]
	sess.mu.Lock()
	sess.focused = true
	sess.mu.Unlock()
	return true
}

// Focused returns the currently-focused session, or nil if none is focused.
func (r *Registry) Focused() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[r.focusedID]
}

// NextWithPending returns the first session, in arbitrary map iteration
// order, other than the currently focused one that has queued or active
// inbox items. Bound to the Presenter's "n" key (focusNextPending) for
// jumping to the next session needing attention.
func (r *Registry) NextWithPending() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sess := range r.sessions {
		if id == r.focusedID {
			continue
		}
		if sess.HasPendingItems() {
			return sess
		}
	}
	return nil
}

// PruneStale removes sessions whose last activity predates now.Add(-ttl) and
// whose inbox is empty and which are not focused. Returns the ids removed.
// Items block pruning even if the session is otherwise stale, per spec: "a
// session holding an unresolved item is never pruned."
func (r *Registry) PruneStale(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}

	r.mu.Lock()
	var toRemove []string
	for id, sess := range r.sessions {
		if id == r.focusedID {
			continue
		}
		if sess.HasPendingItems() {
			continue
		}
		if now.Sub(sess.LastActivityAt()) < ttl {
			continue
		}
		toRemove = append(toRemove, id)
	}
	for _, id := range toRemove {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, id := range toRemove {
		r.log.Info("session pruned (stale, idle)", "session_id", id)
		if r.events != nil {
			r.events.PublishSessionRemoved(id, "stale_idle")
		}
	}
	return toRemove
}

// Snapshots returns a read-only view of every session, for the frontend
// gateway's /api/sessions endpoint.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	out := make([]Snapshot, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.snapshot()
	}
	return out
}
