package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/tradecore/internal/application/engine"
	"github.com/sawpanic/tradecore/internal/persistence"
	"github.com/sawpanic/tradecore/internal/scheduler"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns local-only defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Pinger is a backing store that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources are the read-only views the diagnostics server exposes
type Sources struct {
	Health    persistence.RepositoryHealth
	Bars      Pinger
	Metrics   http.Handler
	Runs      map[string]*engine.RunContext
	Scheduler func() scheduler.Status
}

// Server is the read-only diagnostics endpoint
type Server struct {
	router  *mux.Router
	server  *http.Server
	sources Sources
	logger  zerolog.Logger
}

// NewServer wires routes for sources
func NewServer(config ServerConfig, sources Sources, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		sources: sources,
		logger:  logger.With().Str("component", "http").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	if s.sources.Metrics != nil {
		s.router.Handle("/metrics", s.sources.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/debug/hysteresis", s.hysteresis).Methods(http.MethodGet)
	api.HandleFunc("/debug/cycle", s.lastCycle).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
	})
}

type healthResponse struct {
	Status    string                   `json:"status"`
	Database  *persistence.HealthCheck `json:"database,omitempty"`
	Bars      *storeHealth             `json:"bars,omitempty"`
	Scheduler *scheduler.Status        `json:"scheduler,omitempty"`
	Modes     []string                 `json:"modes"`
	Timestamp time.Time                `json:"timestamp"`
}

type storeHealth struct {
	Healthy        bool   `json:"healthy"`
	Error          string `json:"error,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Modes: s.modes(), Timestamp: time.Now().UTC()}
	code := http.StatusOK

	if s.sources.Health != nil {
		hc := s.sources.Health.Health(r.Context())
		resp.Database = &hc
		if !hc.Healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if s.sources.Bars != nil {
		start := time.Now()
		bh := storeHealth{Healthy: true}
		if err := s.sources.Bars.Ping(r.Context()); err != nil {
			bh.Healthy = false
			bh.Error = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		bh.ResponseTimeMS = time.Since(start).Milliseconds()
		resp.Bars = &bh
	}
	if s.sources.Scheduler != nil {
		st := s.sources.Scheduler()
		resp.Scheduler = &st
	}
	writeJSON(w, code, resp)
}

func (s *Server) hysteresis(w http.ResponseWriter, r *http.Request) {
	run, err := s.run(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":   run.Mode,
		"states": run.Tracker.Snapshot(),
	})
}

func (s *Server) lastCycle(w http.ResponseWriter, r *http.Request) {
	run, err := s.run(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	rep := run.LastReport()
	if rep == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no cycle has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// run picks the RunContext named by ?mode=, or the only one when there is exactly one
func (s *Server) run(r *http.Request) (*engine.RunContext, error) {
	mode := r.URL.Query().Get("mode")
	if mode == "" && len(s.sources.Runs) == 1 {
		for _, run := range s.sources.Runs {
			return run, nil
		}
	}
	run, ok := s.sources.Runs[mode]
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	return run, nil
}

func (s *Server) modes() []string {
	out := make([]string, 0, len(s.sources.Runs))
	for m := range s.sources.Runs {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID)))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("diagnostics server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve diagnostics: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
