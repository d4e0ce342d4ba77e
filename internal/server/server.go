// Package server exposes a read-only HTTP status surface over the
// decision core: current regime, open positions, universe membership, and
// recent events. Nothing in the decision core is driven over HTTP, so
// every route is a GET.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/aristath/dlmm-sentinel/internal/ledger"
	"github.com/aristath/dlmm-sentinel/internal/orchestrator"
)

// Orchestrator is the subset of *orchestrator.Orchestrator the server
// reads from; declared as an interface so handlers can be tested against
// a fake without constructing a full orchestrator.
type Orchestrator interface {
	OpenPositionCount() int
	Positions() []*orchestrator.Position
	CurrentRegime() string
	LedgerSnapshot() ledger.Snapshot
	UniverseSnapshot() map[domain.PoolAddress]domain.UniverseStatus
	RecentEvents(n int) []events.Event
}

// Config holds server configuration.
type Config struct {
	Addr         string
	Log          zerolog.Logger
	Orchestrator Orchestrator
	DevMode      bool
}

// Server is the decision core's read-only status HTTP surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	orch   Orchestrator
}

// New creates a status server bound to addr.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		orch:   cfg.Orchestrator,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/universe", s.handleUniverse)
		r.Get("/events", s.handleEvents)
	})
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting status server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down status server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Regime            string          `json:"regime"`
	OpenPositionCount int             `json:"open_position_count"`
	Ledger            ledger.Snapshot `json:"ledger"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Regime:            s.orch.CurrentRegime(),
		OpenPositionCount: s.orch.OpenPositionCount(),
		Ledger:            s.orch.LedgerSnapshot(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Positions())
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.UniverseSnapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.RecentEvents(100))
}
