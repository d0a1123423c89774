package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/relaybroker/relaybroker/internal/registry"
	"github.com/relaybroker/relaybroker/internal/tts"
)

// sessionJSON is the /api/sessions response shape for one session, per
// spec.md §6: "id, name, lifecycle_state, has_active_item".
type sessionJSON struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	LifecycleState  string `json:"lifecycle_state"`
	HasActiveItem   bool   `json:"has_active_item"`
	Focused         bool   `json:"focused"`
	PendingMessages int    `json:"pending_messages"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.cfg.Registry.Snapshots()
	out := make([]sessionJSON, len(snaps))
	for i, snap := range snaps {
		out[i] = sessionJSON{
			ID:              snap.ID,
			Name:            snap.DisplayName,
			LifecycleState:  snap.LifecycleState.String(),
			HasActiveItem:   snap.HasActiveItem,
			Focused:         snap.Focused,
			PendingMessages: snap.PendingMessages,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if s.cfg.Health != nil {
		state = s.cfg.Health.DeviceState()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"audio_device": state,
	})
}

type selectRequest struct {
	Label   string `json:"label"`
	Summary string `json:"summary"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFromPath(r)
	if sess == nil {
		writeErr(w, http.StatusNotFound, "unknown_session")
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request")
		return
	}
	s.multi.clear(sess.ID)
	if !s.cfg.Engine.Resolve(sess, &registry.Result{Selected: req.Label, SelectedSummary: req.Summary}) {
		writeErr(w, http.StatusConflict, "no_active_item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type highlightRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFromPath(r)
	if sess == nil {
		writeErr(w, http.StatusNotFound, "unknown_session")
		return
	}
	var req highlightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request")
		return
	}
	s.highlight(sess, req.Index)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// highlight moves sess's scroll_index to idx (clamped to the active item's
// option list) and, unless the option is silent, triggers an interruptible
// readout of its label — the same behaviour driven by a terminal scroll
// keypress, see internal/presenter.Presenter.moveCursor.
func (s *Server) highlight(sess *registry.Session, idx int) {
	item := sess.Head()
	if item == nil || item.Kind != registry.KindChoices || len(item.Options) == 0 {
		return
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(item.Options) {
		idx = len(item.Options) - 1
	}
	sess.SetScrollIndex(idx)

	if s.cfg.Speaker == nil {
		return
	}
	opt := item.Options[idx]
	if opt.Silent {
		return
	}
	go func() {
		voice := tts.SessionVoice{}
		if sess.Voice != nil {
			voice = tts.SessionVoice{Voice: sess.Voice.Voice, Style: sess.Voice.Style, Speed: sess.Voice.Speed}
		}
		token := s.cfg.Speaker.NextScrollToken()
		s.cfg.Speaker.ScrollReadout(context.Background(), voice, opt.Label, token)
	}()
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFromPath(r)
	if sess == nil {
		writeErr(w, http.StatusNotFound, "unknown_session")
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sess.QueueMessage(req.Text)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type keyRequest struct {
	Key string `json:"key"`
}

// handleKey implements POST /api/sessions/{id}/key: it delivers one of the
// spec's four operator keys ("j"|"k"|"enter"|"space") to sess as if typed on
// the terminal UI, per spec.md §6 — but against the session named in the
// path rather than whichever session the terminal happens to have focused,
// since a frontend client addresses sessions directly.
func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFromPath(r)
	if sess == nil {
		writeErr(w, http.StatusNotFound, "unknown_session")
		return
	}
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request")
		return
	}

	item := sess.Head()
	switch req.Key {
	case "j":
		s.highlight(sess, sess.ScrollIndex()+1)
	case "k":
		s.highlight(sess, sess.ScrollIndex()-1)
	case "space":
		if item != nil && item.Kind == registry.KindChoices && item.Multi {
			idx := sess.ScrollIndex()
			if idx >= 0 && idx < len(item.Options) {
				s.multi.toggle(sess.ID, item.Options[idx].Label)
			}
		}
	case "enter":
		s.confirmKey(sess, item)
	default:
		writeErr(w, http.StatusBadRequest, "invalid_request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) confirmKey(sess *registry.Session, item *registry.Item) {
	if item == nil || item.Kind != registry.KindChoices {
		return
	}
	if item.Multi {
		selected := s.multi.confirm(sess.ID)
		s.cfg.Engine.Resolve(sess, &registry.Result{SelectedMulti: selected})
		return
	}
	idx := sess.ScrollIndex()
	if idx < 0 || idx >= len(item.Options) {
		return
	}
	opt := item.Options[idx]
	s.cfg.Engine.Resolve(sess, &registry.Result{Selected: opt.Label, SelectedSummary: opt.Summary})
}

type broadcastRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"` // "all" (default) or "focused"
}

// handleBroadcastMessage implements POST /api/message: an operator note
// queued onto every session's pending_messages, or just the focused one.
func (s *Server) handleBroadcastMessage(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.Target == "focused" {
		sess := s.cfg.Registry.Focused()
		if sess == nil {
			writeErr(w, http.StatusConflict, "no_focused_session")
			return
		}
		sess.QueueMessage(req.Text)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	for _, snap := range s.cfg.Registry.Snapshots() {
		if sess := s.cfg.Registry.Lookup(snap.ID); sess != nil {
			sess.QueueMessage(req.Text)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
