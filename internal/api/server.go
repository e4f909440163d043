// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the optional HTTP admin surface: health, Prometheus
// metrics and a JSON mirror of the control commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/recingest/internal/api/middleware"
	"github.com/ManuGH/recingest/internal/health"
	"github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/pipeline/state"
	"github.com/ManuGH/recingest/internal/pipeline/store"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	defaultOutcomeLimit = 50
	maxOutcomeLimit     = 1000
)

// Config configures the admin server.
type Config struct {
	Listen          string
	RateLimit       int // requests per minute per IP; zero disables
	ShutdownTimeout time.Duration
	// TracingService enables otelhttp spans under this service name.
	TracingService string
}

// Deps are the components the admin API reads from.
type Deps struct {
	State    *state.Store
	Outcomes store.OutcomeStore
	Health   *health.Manager // optional
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	logger zerolog.Logger
}

// New builds the router. The listener is opened by Run.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.State == nil {
		return nil, errors.New("api: state store is required")
	}
	if deps.Outcomes == nil {
		return nil, errors.New("api: outcome store is required")
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps, logger: log.WithComponent("api")}
	s.router = s.routes()
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
		RateLimit:             s.cfg.RateLimit,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/errors", s.handleErrors)
		r.Post("/pause", s.handlePause(true))
		r.Post("/resume", s.handlePause(false))
		r.Get("/outcomes", s.handleOutcomes)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Run listens on cfg.Listen and serves until ctx is cancelled, then shuts
// down within cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("event", "api.listening").
			Str(log.FieldAddr, ln.Addr().String()).
			Msg("admin API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error().Err(err).Str("event", "api.server.failed").Msg("admin API failed")
		return fmt.Errorf("admin API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin API shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Str("event", "api.stopped").Msg("admin API stopped")
	return nil
}

// PauseResult mirrors the control protocol reply.
type PauseResult struct {
	Paused  bool `json:"paused"`
	Changed bool `json:"changed"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

func (s *Server) handleErrors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State.Errors())
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed := s.deps.State.SetPaused(paused)
		if changed {
			logger := log.WithContext(r.Context(), s.logger)
			logger.Info().
				Str("event", "api.pause_changed").
				Bool("paused", paused).
				Msg("pause flag changed by operator")
		}
		writeJSON(w, http.StatusOK, PauseResult{Paused: paused, Changed: changed})
	}
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := defaultOutcomeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxOutcomeLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be an integer between 1 and %d", maxOutcomeLimit))
			return
		}
		limit = n
	}
	outcomes, err := s.deps.Outcomes.Recent(r.Context(), limit)
	if err != nil {
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).Str("event", "api.outcomes_failed").Msg("outcome query failed")
		writeError(w, http.StatusInternalServerError, "store_unavailable", "outcome query failed")
		return
	}
	if outcomes == nil {
		outcomes = []store.Outcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, detail string) {
	writeJSON(w, code, map[string]string{"error": errCode, "detail": detail})
}
