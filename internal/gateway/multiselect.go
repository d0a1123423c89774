package gateway

import "sync"

// multiSelectTracker holds the in-progress toggle state for a
// present_multi_select item being driven over HTTP ("space" toggles an
// option, "enter" confirms), mirroring the per-focused-session state
// internal/presenter.Presenter keeps for the terminal UI — except scoped per
// session rather than to whichever one is currently focused, since a
// frontend client can drive any session directly.
type multiSelectTracker struct {
	mu       sync.Mutex
	selected map[string]map[string]bool // sessionID -> label -> selected
}

func newMultiSelectTracker() *multiSelectTracker {
	return &multiSelectTracker{selected: make(map[string]map[string]bool)}
}

func (t *multiSelectTracker) toggle(sessionID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.selected[sessionID]
	if !ok {
		set = make(map[string]bool)
		t.selected[sessionID] = set
	}
	if set[label] {
		delete(set, label)
	} else {
		set[label] = true
	}
}

// confirm returns every currently-toggled label for sessionID and clears its
// tracked state.
func (t *multiSelectTracker) confirm(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.selected[sessionID]
	delete(t.selected, sessionID)
	out := make([]string, 0, len(set))
	for label := range set {
		out = append(out, label)
	}
	return out
}

// clear drops sessionID's tracked toggle state without returning it, used
// when a single-select resolution bypasses the multi-select flow entirely.
func (t *multiSelectTracker) clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.selected, sessionID)
}
