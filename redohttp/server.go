// Package redohttp exposes a snapshot introspection surface over a running
// engine: the known tasks and the process metrics.
package redohttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	redo "github.com/calleros/redo-go"
	"github.com/calleros/redo-go/internal/logger"
)

// Server serves task introspection and metrics for one engine.
type Server struct {
	router *chi.Mux
	engine *redo.Engine
	srv    *http.Server
}

// NewServer builds a server for the given engine listening on addr.
func NewServer(addr string, engine *redo.Engine) *Server {
	s := &Server{
		router: chi.NewRouter(),
		engine: engine,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))

	s.router.Get("/tasks", s.listTasks)
	s.router.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the underlying router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	logger.Info().Str("addr", s.srv.Addr).Msg("introspection server starting")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// listTasks handles GET /tasks.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	infos, err := s.engine.TaskInfo()
	if err != nil {
		logger.Error().Err(err).Msg("failed to snapshot tasks")
		s.respondError(w, http.StatusInternalServerError, "failed to snapshot tasks")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"tasks": infos,
		"count": len(infos),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]any{"error": msg})
}
