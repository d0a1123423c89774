package registry

import (
	"sync"
	"time"
)

// LifecycleState classifies how recently a session has been active.
type LifecycleState int

const (
	// LifecycleLive means the session has had recent agent activity.
	LifecycleLive LifecycleState = iota
	// LifecycleStale means no activity for T_stale, but not yet confirmed dead.
	LifecycleStale
	// LifecycleDead means the owning process has been verified gone.
	LifecycleDead
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleLive:
		return "live"
	case LifecycleStale:
		return "stale"
	case LifecycleDead:
		return "dead"
	default:
		return "unknown"
	}
}

// VoiceProfile overrides the default TTS voice/style for a session.
type VoiceProfile struct {
	Voice string
	Style string
	Speed float64
}

// Hints carries registration-time metadata. They populate session metadata
// but never change session identity, which is transport-provided and stable
// for the connection's lifetime.
type Hints struct {
	Cwd         string
	Hostname    string
	TmuxSession string
	TmuxPane    string
	Name        string
	Voice       string
	Style       string
}

// Session is one connected agent. All mutation of its fields happens under
// mu; callers outside this package must use the accessor methods below
// rather than touching fields directly.
type Session struct {
	ID          string
	DisplayName string
	Voice       *VoiceProfile

	mu              sync.Mutex
	inbox           []*Item
	history         []*Item
	historyCap      int
	pendingMessages []string
	lastActivityAt  time.Time
	lifecycle       LifecycleState
	scrollIndex     int
	focused         bool
}

func newSession(id string, hints Hints, historyCap int) *Session {
	name := hints.Name
	if name == "" {
		name = "Agent"
	}
	var voice *VoiceProfile
	if hints.Voice != "" || hints.Style != "" {
		voice = &VoiceProfile{Voice: hints.Voice, Style: hints.Style}
	}
	return &Session{
		ID:             id,
		DisplayName:    name,
		Voice:          voice,
		historyCap:     historyCap,
		lastActivityAt: time.Now(),
		lifecycle:      LifecycleLive,
	}
}

// Touch records agent activity, keeping the session live.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
	s.lifecycle = LifecycleLive
}

// LastActivityAt returns the last recorded activity timestamp.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Rename updates the operator-visible display name.
func (s *Session) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DisplayName = name
}

// Append adds item to the tail of the inbox. Returns true if item is now the
// head (the only item present), meaning it may be promoted to active
// immediately rather than waiting behind another item's rendezvous.
func (s *Session) Append(item *Item) (isHead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, item)
	return len(s.inbox) == 1
}

// Head returns the item at the front of the inbox, or nil if empty.
func (s *Session) Head() *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) == 0 {
		return nil
	}
	return s.inbox[0]
}

// AdvancePastResolved pops the head item (which must already be
// resolved/cancelled) into history and returns the new head, if any.
func (s *Session) AdvancePastResolved() (next *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) == 0 {
		return nil
	}
	resolved := s.inbox[0]
	s.inbox = s.inbox[1:]
	s.history = append([]*Item{resolved}, s.history...)
	if s.historyCap > 0 && len(s.history) > s.historyCap {
		s.history = s.history[:s.historyCap]
	}
	if len(s.inbox) == 0 {
		return nil
	}
	return s.inbox[0]
}

// PromoteUrgent splices item to the head of the inbox, ahead of whatever is
// currently there, for speak_urgent's "inserts at head position" rule.
func (s *Session) PromoteUrgent(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append([]*Item{item}, s.inbox...)
}

// FindItem returns the queued or active item with the given id, or nil.
func (s *Session) FindItem(id string) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.inbox {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// AllItems returns a snapshot of every queued/active item, for cancellation
// on session removal.
func (s *Session) AllItems() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, len(s.inbox))
	copy(out, s.inbox)
	return out
}

// ClearInbox empties the inbox, used once every item has been cancelled
// during session removal.
func (s *Session) ClearInbox() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = nil
}

// Len returns the number of items currently queued or active in the inbox,
// for the Inbox Engine's per-session backpressure check.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbox)
}

// HasPendingItems reports whether the inbox is non-empty.
func (s *Session) HasPendingItems() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbox) > 0
}

// QueueMessage appends an operator-authored note to pending_messages.
func (s *Session) QueueMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMessages = append(s.pendingMessages, text)
}

// DrainPendingMessages returns and clears pending_messages. Called at every
// tool response and item resolution per spec.
func (s *Session) DrainPendingMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingMessages) == 0 {
		return []string{}
	}
	out := s.pendingMessages
	s.pendingMessages = nil
	return out
}

// SetScrollIndex updates the operator's highlighted option within the active item.
func (s *Session) SetScrollIndex(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollIndex = i
}

// ScrollIndex returns the current scroll index.
func (s *Session) ScrollIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollIndex
}

// Snapshot is a read-only view of session state for the registry's listing
// operations and the frontend gateway's /api/sessions endpoint.
type Snapshot struct {
	ID              string
	DisplayName     string
	LifecycleState  LifecycleState
	HasActiveItem   bool
	Focused         bool
	PendingMessages int
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := len(s.inbox) > 0 && s.inbox[0].Status() == StatusActive
	return Snapshot{
		ID:              s.ID,
		DisplayName:     s.DisplayName,
		LifecycleState:  s.lifecycle,
		HasActiveItem:   active,
		Focused:         s.focused,
		PendingMessages: len(s.pendingMessages),
	}
}
