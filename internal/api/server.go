// Package api provides the HTTP API server for CivicPulse.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/civicpulse/civicpulse/internal/core"
	"github.com/civicpulse/civicpulse/internal/ledger"
	"github.com/civicpulse/civicpulse/internal/logging"
	"github.com/civicpulse/civicpulse/internal/reports"
	"github.com/civicpulse/civicpulse/internal/scheduler"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	reports     *reports.Service
	ledgerStore *ledger.Store
	scheduler   *scheduler.Scheduler
	wsHub       *WebSocketHub
	log         *logging.Logger
}

// Config for the server
type Config struct {
	Addr      string
	Reports   *reports.Service
	Ledger    *ledger.Store        // Optional: enables /ledger routes
	Scheduler *scheduler.Scheduler // Optional: reported by /health, enables /tasks
	Hub       *WebSocketHub        // Optional: created if nil
}

// New creates a new API server
func New(cfg Config) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = NewWebSocketHub()
	}

	s := &Server{
		reports:     cfg.Reports,
		ledgerStore: cfg.Ledger,
		scheduler:   cfg.Scheduler,
		wsHub:       hub,
		log:         logging.WithField("component", "api"),
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// The WebSocket stream must not be wrapped in a request timeout
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/health", s.handleHealth)
			r.Get("/stats", s.handleGetStats)

			// Reports
			r.Get("/reports", s.handleListReports)
			r.Post("/reports", s.handleCreateReport)
			r.Get("/reports/{reportID}", s.handleGetReport)
			r.Get("/reports/{reportID}/feedback", s.handleListFeedback)
			r.Post("/reports/{reportID}/feedback", s.handleSubmitFeedback)
			r.Get("/reports/{reportID}/history", s.handleGetHistory)

			// Lifecycle
			r.Post("/sweep", s.handleSweep)

			if s.scheduler != nil {
				r.Get("/tasks", s.handleListTasks)
				r.Get("/tasks/{taskID}", s.handleGetTask)
			}

			// Ledger API (read-only audit trail)
			if s.ledgerStore != nil {
				NewLedgerAPI(s.ledgerStore).RegisterRoutes(r)
			}
		})

		r.Get("/ws", s.wsHub.ServeHTTP)
	})

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("request")
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	go s.wsHub.Run()

	s.log.Info("API server listening on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wsHub.Stop()
	return err
}

// --- Response helpers ---

// respondJSON writes data as the JSON body. Headers are already sent when
// encoding fails, so the failure can only be logged.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("Encode %T response: %v", data, err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors onto HTTP status codes
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrReportNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrReportExpired):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidVote),
		errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrMissingRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("Request failed: %v", err)
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err))
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"time":      time.Now().UTC(),
		"ws_client": s.wsHub.ClientCount(),
	}
	if s.scheduler != nil {
		resp["scheduler"] = s.scheduler.GetStats()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reports.Stats(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.scheduler.ListTasks()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.scheduler.GetTask(chi.URLParam(r, "taskID"))
	if !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.reports.Sweep(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
