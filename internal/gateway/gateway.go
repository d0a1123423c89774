// Package gateway implements the Frontend Gateway: a chi-routed HTTP surface
// serving a streaming event subscription, a REST session snapshot, and the
// small RPC surface frontends use to push operator input back into the
// broker (selections, highlights, queued messages, key presses), per
// spec.md §4.5 and §6. It never touches the Inbox Engine's internals
// directly — it drives the same [Engine]/[ScrollSpeaker] seams the UI
// Presenter uses, so a frontend and the terminal UI are equally privileged
// operator surfaces.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relaybroker/relaybroker/internal/eventbus"
	"github.com/relaybroker/relaybroker/internal/registry"
	"github.com/relaybroker/relaybroker/internal/tts"
)

// Engine is the Inbox-Engine-facing surface the gateway drives, identical in
// shape to the one the UI Presenter uses (see internal/presenter.Engine) so
// a frontend's "select" and "dismiss" affordances resolve the exact same
// rendezvous a terminal keypress would.
type Engine interface {
	Resolve(sess *registry.Session, result *registry.Result) bool
	Dismiss(sess *registry.Session) bool
}

// ScrollSpeaker is the TTS-Engine-facing surface used for highlight readouts
// triggered over HTTP, mirroring internal/presenter.ScrollSpeaker.
type ScrollSpeaker interface {
	NextScrollToken() uint64
	ScrollReadout(ctx context.Context, voice tts.SessionVoice, optionText string, genToken uint64)
}

// HealthSource reports the audio device's recovery state for /api/health.
type HealthSource interface {
	DeviceState() string
}

// Config bundles a Server's dependencies.
type Config struct {
	Registry     *registry.Registry
	Engine       Engine
	Speaker      ScrollSpeaker
	Events       *eventbus.Bus
	Health       HealthSource
	CORSOrigins  []string
	SSEHeartbeat time.Duration
	Log          *slog.Logger
}

// Server is the Frontend Gateway's HTTP surface.
type Server struct {
	cfg    Config
	router *chi.Mux
	log    *slog.Logger

	multi *multiSelectTracker
}

// New builds a [Server] with its routes registered.
func New(cfg Config) *Server {
	if cfg.SSEHeartbeat <= 0 {
		cfg.SSEHeartbeat = 15 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:   cfg,
		log:   log,
		multi: newMultiSelectTracker(),
	}
	s.router = chi.NewRouter()
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	s.routes()
	return s
}

// Router returns the configured [chi.Mux], for mounting under a shared HTTP
// server alongside /healthz (see internal/health) or the MCP transport.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Get("/api/events", s.handleEvents)
	s.router.Get("/api/sessions", s.handleListSessions)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/sessions/{id}/select", s.handleSelect)
	s.router.Post("/api/sessions/{id}/highlight", s.handleHighlight)
	s.router.Post("/api/sessions/{id}/message", s.handleMessage)
	s.router.Post("/api/sessions/{id}/key", s.handleKey)
	s.router.Post("/api/message", s.handleBroadcastMessage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func (s *Server) sessionFromPath(r *http.Request) *registry.Session {
	id := chi.URLParam(r, "id")
	if id == "" {
		return nil
	}
	return s.cfg.Registry.Lookup(id)
}
