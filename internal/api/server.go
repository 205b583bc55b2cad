package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hbrun/internal/auth"
	"github.com/mattjoyce/hbrun/internal/events"
	"github.com/mattjoyce/hbrun/internal/history"
	"github.com/mattjoyce/hbrun/internal/session"
)

// Executor runs one request synchronously.
type Executor interface {
	Execute(ctx context.Context, req session.Request) (session.Report, error)
}

// RunStore reads the run ledger.
type RunStore interface {
	List(ctx context.Context, f history.Filter) ([]history.Entry, error)
	Get(ctx context.Context, id string) (*history.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token. With no APIKey and no Tokens every
	// protected request is rejected.
	APIKey        string
	Tokens        []auth.Token
	MaxConcurrent int
}

const shutdownGrace = 5 * time.Second

// Option customizes a Server.
type Option func(*Server)

// WithEvents serves GET /events as a server-sent event stream of hub.
func WithEvents(hub *events.Hub) Option {
	return func(s *Server) { s.events = hub }
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	exec      Executor
	runs      RunStore
	metrics   http.Handler
	events    *events.Hub
	auth      *auth.Authenticator
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	semaphore chan struct{}
}

// New creates a new API server instance. runs and metrics may be nil, which
// disables the matching endpoints.
func New(config Config, exec Executor, runs RunStore, metrics http.Handler, logger *slog.Logger, opts ...Option) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	s := &Server{
		config:    config,
		exec:      exec,
		runs:      runs,
		metrics:   metrics,
		auth:      auth.NewAuthenticator(config.APIKey, config.Tokens),
		logger:    logger,
		startedAt: time.Now(),
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listen address and serves until ctx is cancelled, then
// drains in-flight requests for up to shutdownGrace. It returns ctx.Err()
// after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler: s.Handler(),
		// Request contexts end with ctx, so event streams and in-flight runs
		// wind down on shutdown.
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: POST /runs lasts as long as the tool does and
		// /events streams indefinitely.
		IdleTimeout: 60 * time.Second,
	}
	s.logger.Info("API server listening", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- s.server.Serve(ln) }()

	select {
	case err := <-served:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("API server shutting down")
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := s.server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/subcommands", s.handleSubcommands)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScope(auth.ScopeRunsWrite)).Post("/runs", s.handleCreateRun)
		r.With(s.requireScope(auth.ScopeRunsRead)).Get("/runs", s.handleListRuns)
		r.With(s.requireScope(auth.ScopeRunsRead)).Get("/runs/{runID}", s.handleGetRun)
		if s.events != nil {
			r.With(s.requireScope(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
