package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blackmichael/listing-lifecycle/internal/config"
	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// Server is the HTTP server exposing the expiration trigger, the stats view
// and the owner auto-renew toggle.
type Server struct {
	cfg        *config.Config
	service    *domain.LifecycleService
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// NewServer creates a new HTTP server for the given lifecycle service.
func NewServer(cfg *config.Config, service *domain.LifecycleService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(withLogging(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/expiration/run", s.handleRunExpiration)
	r.Get("/expiration/stats", s.handleStats)
	r.Patch("/listings/{id}/auto-renew", s.handleToggleAutoRenew)
	s.router = r

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runResponse struct {
	Success  bool   `json:"success"`
	RunID    string `json:"runId"`
	Duration string `json:"duration"`
	domain.RunResult
}

func (s *Server) handleRunExpiration(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r) {
		return
	}

	// The scheduler hanging up does not cancel an in-flight run.
	ctx := context.WithoutCancel(r.Context())

	start := time.Now()
	run, err := s.service.RunExpiration(ctx)
	duration := domain.FormatMillis(time.Since(start))
	if err != nil {
		s.logger.Error("expiration run failed", "duration", duration, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":  false,
			"duration": duration,
			"error":    "repository_unavailable",
			"message":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Success:   true,
		RunID:     run.ID,
		Duration:  duration,
		RunResult: run.Result,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.IsProduction() && !s.requireSecret(w, r) {
		return
	}

	report, err := s.service.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to build stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleToggleAutoRenew(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.authenticateOwner(r)
	if errors.Is(err, domain.ErrConfiguration) {
		s.logger.Error("owner authentication is not configured", "error", err)
		writeError(w, http.StatusInternalServerError, "configuration_error", "owner authentication is not configured")
		return
	}
	if err != nil {
		s.logger.Warn("toggle rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized", "a valid bearer token is required")
		return
	}

	var req toggleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", `body must be {"enabled": true|false}`)
		return
	}

	listingID := chi.URLParam(r, "id")
	result, err := s.service.ToggleAutoRenew(r.Context(), listingID, ownerID, *req.Enabled)
	if err != nil {
		status, code := mapDomainError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("toggle failed", "listing_id", listingID, "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// mapDomainError maps the domain error taxonomy onto HTTP status codes.
func mapDomainError(err error) (int, string) {
	var pe *domain.PersistenceError
	var ru *domain.RepositoryUnavailableError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusInternalServerError, "configuration_error"
	case errors.As(err, &ru):
		return http.StatusInternalServerError, "repository_unavailable"
	case errors.As(err, &pe):
		return http.StatusInternalServerError, "persistence_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}
