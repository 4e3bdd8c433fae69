// Package api serves stored outcomes and process metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/metrics"
	"github.com/muaviaUsmani/lrowait/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultWait = 30 * time.Second
	maxWait     = 5 * time.Minute
)

// Pinger is implemented by backends that can report their own health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the outcome store
type Server struct {
	backend store.Backend
	metrics *metrics.Collector
	log     logger.Logger
	router  chi.Router
}

// NewServer builds the router. m is registered with a private Prometheus
// registry served on /metrics.
func NewServer(backend store.Backend, m *metrics.Collector, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Default()
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(m); err != nil {
		return nil, err
	}

	s := &Server{
		backend: backend,
		metrics: m,
		log:     log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal),
		router:  chi.NewRouter(),
	}
	s.routes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return s, nil
}

func (s *Server) routes(metricsHandler http.Handler) {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metricsHandler)
	r.Get("/stats", s.handleStats)

	r.Get("/outcomes/{sessionID}", s.handleGetOutcome)
	r.Get("/outcomes/{sessionID}/wait", s.handleWaitOutcome)
	r.Delete("/outcomes/{sessionID}", s.handleDeleteOutcome)
	r.Get("/operations/{name}/outcome", s.handleLatestOutcome)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe. WriteTimeout
// leaves room for the longest /wait request.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      maxWait + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.backend.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetMetrics())
}

func (s *Server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	o, err := s.backend.GetOutcome(r.Context(), id)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to read outcome", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "outcome not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleWaitOutcome long-polls until the outcome is stored. timeout is a Go
// duration, capped at maxWait; 204 means it did not arrive in time.
func (s *Server) handleWaitOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	timeout := defaultWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout: "+raw)
			return
		}
		timeout = d
	}
	if timeout > maxWait {
		timeout = maxWait
	}

	o, err := s.backend.WaitForOutcome(r.Context(), id, timeout)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.log.ErrorContext(r.Context(), "Failed waiting for outcome", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if o == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeleteOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.backend.DeleteOutcome(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLatestOutcome(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	o, err := s.backend.GetLatestOutcome(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "no outcome recorded for "+name)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
