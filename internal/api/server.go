// Package api provides the HTTP API server for Mind Sprite.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mindsprite/mindsprite/internal/companion"
	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/scheduler"
	"github.com/mindsprite/mindsprite/internal/storage"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	orch      *companion.Orchestrator
	db        *storage.DB
	jobs      *scheduler.Scheduler
	stream    *CareStream
	version   string
	startedAt time.Time
}

// Config for the server
type Config struct {
	Addr             string
	AllowedOrigins   []string
	CarePollInterval time.Duration
	Version          string

	Orchestrator *companion.Orchestrator
	DB           *storage.DB
	Scheduler    *scheduler.Scheduler // optional, reported by /api/v1/stats
}

// New creates a new API server
func New(cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		orch:      cfg.Orchestrator,
		db:        cfg.DB,
		jobs:      cfg.Scheduler,
		stream:    NewCareStream(cfg.Orchestrator, cfg.CarePollInterval),
		version:   cfg.Version,
		startedAt: time.Now(),
	}
	s.setupRouter(cfg.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter(origins []string) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// A turn may wait the full model timeout before falling back
		r.Use(middleware.Timeout(45 * time.Second))

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Post("/messages", s.handleSendMessage)
			r.Get("/messages", s.handleGetHistory)
			r.Get("/care", s.handlePendingCare)
			r.Post("/care/{taskID}/cancel", s.handleCancelCare)
			r.Get("/profile", s.handleGetProfile)
		})

		r.Get("/stats", s.handleGetStats)
	})

	r.Get("/ws", s.stream.ServeHTTP)

	s.router = r
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes care streams and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.WithFields(map[string]interface{}{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
		}).Debug("http request")
	})
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorResponse is the body of every non-2xx reply
type errorResponse struct {
	Error string         `json:"error"`
	Kind  core.ErrorKind `json:"kind"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, kind core.ErrorKind, message string) {
	s.respondJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// respondErr maps an error chain onto a status code by kind
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrRecordNotFound) {
		s.respondError(w, http.StatusNotFound, core.KindInvalidInput, "not found")
		return
	}

	kind := core.KindOf(err)
	status := statusFor(kind)
	if status >= 500 {
		logging.WithFields(map[string]interface{}{
			"request_id": middleware.GetReqID(r.Context()),
			"kind":       kind,
		}).Error("request failed: %v", err)
	}

	message := err.Error()
	if kind == core.KindInternal {
		message = "internal error"
	}
	s.respondError(w, status, kind, message)
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindInvalidSession, core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindStorageUnavailable, core.KindModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
