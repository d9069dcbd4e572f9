// Package server is the HTTP boundary of the build service. It stays thin:
// request parsing, session cookies, quota admission and response shaping.
// All build engineering lives below the scheduler.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/fwbuilder/internal/board"
	"git.home.luguber.info/inful/fwbuilder/internal/buildstore"
	"git.home.luguber.info/inful/fwbuilder/internal/cache"
	"git.home.luguber.info/inful/fwbuilder/internal/metrics"
	"git.home.luguber.info/inful/fwbuilder/internal/quota"
	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
)

// Options configure the HTTP server.
type Options struct {
	Listen         string
	CORSOrigins    []string
	MaxBodyBytes   int64         // request body cap; 0 = 1 MiB
	MetricsHandler http.Handler  // nil hides /metrics
	WaitTimeout    time.Duration // cap on synchronous result waits; 0 = 5 min
}

// Server exposes the build service over HTTP.
type Server struct {
	opts     Options
	registry *board.Registry
	sched    *scheduler.Scheduler

	cache    *cache.Cache      // nil disables result caching
	quotas   *quota.Manager    // nil disables per-session limits
	records  *buildstore.Store // nil disables the event history in build status
	recorder metrics.Recorder

	httpServer *http.Server
}

// New creates a server over the given registry and scheduler. Optional
// collaborators are injected with the Set methods before Start.
func New(opts Options, registry *board.Registry, sched *scheduler.Scheduler) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Minute
	}

	s := &Server{
		opts:     opts,
		registry: registry,
		sched:    sched,
		recorder: metrics.NoopRecorder{},
	}

	s.httpServer = &http.Server{
		Addr:         opts.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: opts.WaitTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetCache enables the compile result cache.
func (s *Server) SetCache(c *cache.Cache) { s.cache = c }

// SetQuotas enables per-session limits.
func (s *Server) SetQuotas(q *quota.Manager) { s.quotas = q }

// SetRecords enables the build event history on the status endpoint.
func (s *Server) SetRecords(r *buildstore.Store) { s.records = r }

// SetRecorder injects a metrics recorder (optional).
func (s *Server) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	s.recorder = r
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /compile", s.handleCompile)
	mux.HandleFunc("GET /builds/{id}", s.handleBuildStatus)
	mux.HandleFunc("GET /boards", s.handleBoards)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.opts.MetricsHandler)
	}

	var h http.Handler = mux
	h = corsMiddleware(s.opts.CORSOrigins, h)
	h = panicRecoveryMiddleware(slog.Default(), h)
	h = loggingMiddleware(slog.Default(), h)
	return h
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.opts.Listen)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
