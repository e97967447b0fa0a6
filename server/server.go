// Package server exposes the scheduler over HTTP: job lifecycle endpoints,
// natural-language schedule parsing, and the health, metrics and alert
// surfaces.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/attuneai/chime/observe"
	"github.com/attuneai/chime/schedule"
)

// Server wires the scheduler and observability layer into an HTTP API
type Server struct {
	scheduler *schedule.Scheduler
	health    *observe.HealthChecker
	metrics   *observe.Metrics
	alerts    *observe.AlertManager
	log       *zap.SugaredLogger
	srv       *http.Server
}

// New creates a server listening on port. Alerts may be nil when alerting
// is disabled; the alerts endpoint then returns an empty list.
func New(scheduler *schedule.Scheduler, health *observe.HealthChecker, metrics *observe.Metrics, alerts *observe.AlertManager, port int, log *zap.SugaredLogger) *Server {
	s := &Server{
		scheduler: scheduler,
		health:    health,
		metrics:   metrics,
		alerts:    alerts,
		log:       log,
	}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/approve", s.handleApproveJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/pause", s.handlePauseJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/resume", s.handleResumeJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/history", s.handleJobHistory).Methods(http.MethodGet)
	api.HandleFunc("/schedule/parse", s.handleParseSchedule).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.log.Infow("HTTP server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.srv.Handler
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.log.Infow("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_ip", r.RemoteAddr)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
