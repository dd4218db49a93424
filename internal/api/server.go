// Package api serves the host's status endpoints and relays commands
// submitted over HTTP to workers.
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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/ipcmux/internal/auth"
	"github.com/mattjoyce/ipcmux/internal/journal"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

// WorkerRegistry defines the worker lookups the API needs.
type WorkerRegistry interface {
	Get(name string) (*plugin.Worker, bool)
	All() []*plugin.Worker
}

// CommandRelay sends commands on behalf of HTTP handlers.
type CommandRelay interface {
	Send(ctx context.Context, worker string, cmd []byte) (protocol.Result, error)
	Workers() []string
}

// JournalReader reads recent journal entries.
type JournalReader interface {
	Recent(ctx context.Context, worker string, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// MaxCommandBytes caps request bodies on the command endpoint.
	MaxCommandBytes int64
	// Tokens gate everything but /healthz and /openapi.json.
	Tokens []auth.Token
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	registry  WorkerRegistry
	relay     CommandRelay
	journal   JournalReader
	gatherer  prometheus.Gatherer
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server. relay, journal and gatherer may be nil;
// the endpoints that need them then answer 503.
func New(config Config, registry WorkerRegistry, relay CommandRelay, journal JournalReader, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if config.MaxCommandBytes <= 0 {
		config.MaxCommandBytes = 1 << 20
	}
	return &Server{
		config:    config,
		registry:  registry,
		relay:     relay,
		journal:   journal,
		gatherer:  gatherer,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		read := r.With(s.requireScopes(auth.ScopeWorkersRead))
		read.Get("/workers", s.handleListWorkers)
		read.Get("/workers/{name}", s.handleGetWorker)
		read.Get("/workers/{name}/journal", s.handleJournal)
		r.With(s.requireScopes(auth.ScopeCommandsWrite)).Post("/workers/{name}/commands", s.handleCommand)

		if s.events != nil {
			r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
		}
		if s.gatherer != nil {
			r.With(s.requireScopes(auth.ScopeMetricsRead)).
				Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	return r
}

// requestID tags each request with a UUID unless the caller supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
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
