package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseWriter wraps http.ResponseWriter for Server-Sent Events, using
// [http.ResponseController] for flushing so the write reaches the client
// reliably even through middleware wrappers, grounded on the teacher
// family's own SSE writer (internal/server/sse.go in the opencode example).
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// Envelope is the JSON shape of one SSE data record, a copy of an
// [eventbus.Envelope] with its Kind as a plain string.
type Envelope struct {
	SessionID      string `json:"session_id,omitempty"`
	Kind           string `json:"kind"`
	Payload        any    `json:"payload,omitempty"`
	SequenceNumber uint64 `json:"sequence_number"`
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("gateway: streaming not supported by this response writer")
	}
	return &sseWriter{w: w, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", env.Kind, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) writeHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleEvents implements GET /api/events: a long-lived streaming
// subscription emitting each published [eventbus.Envelope] as a delimited
// SSE record. Reconnecting clients are assigned a fresh cursor at the
// ring's head — no replay of events missed while disconnected, per spec.md
// §4.5's explicit design choice; they re-read full state from
// GET /api/sessions instead.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = sse.rc.Flush()

	ctx := r.Context()
	cur := s.cfg.Events.Subscribe(ctx)

	heartbeat := time.NewTicker(s.cfg.SSEHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cur.Notify():
			msg.Ack()
			for _, env := range cur.Poll() {
				if err := sse.writeEvent(Envelope{
					SessionID:      env.SessionID,
					Kind:           string(env.Kind),
					Payload:        env.Payload,
					SequenceNumber: env.SequenceNumber,
				}); err != nil {
					return
				}
			}
		case <-heartbeat.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}
