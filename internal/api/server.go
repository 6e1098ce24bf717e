// Package api provides the operations HTTP server: health, metrics and the
// schema version marker for deployment tooling.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/axonops/showledger/internal/config"
	"github.com/axonops/showledger/internal/metrics"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"
)

// Server represents the HTTP server.
type Server struct {
	config  *config.Config
	store   storage.Storage
	runner  *migrate.Runner
	router  chi.Router
	server  *http.Server
	logger  *slog.Logger
	metrics *metrics.Metrics
	tls     *TLSManager
}

// NewServer creates a new ops server. It fails only when TLS is enabled and
// the key pair cannot be loaded.
func NewServer(cfg *config.Config, store storage.Storage, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config:  cfg,
		store:   store,
		runner:  migrate.NewRunner(store, migrate.WithMetrics(m)),
		logger:  logger,
		metrics: m,
	}
	if cfg.Server.TLS.Enabled {
		tm, err := NewTLSManager(cfg.Server.TLS)
		if err != nil {
			return nil, err
		}
		s.tls = tm
	}

	s.setupRouter()
	return s, nil
}

// setupRouter configures the HTTP router.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/v1/schema-version", s.handleSchemaVersion)

	s.router = r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	if s.tls != nil {
		s.server.TLSConfig = s.tls.TLSConfig()
		s.logger.Info("starting ops server", slog.String("address", addr), slog.Bool("tls", true))
		return s.server.ListenAndServeTLS("", "")
	}
	s.logger.Info("starting ops server", slog.String("address", addr))
	return s.server.ListenAndServe()
}

// ReloadTLS rereads the listener certificate. It is a no-op without TLS.
func (s *Server) ReloadTLS() error {
	if s.tls == nil {
		return nil
	}
	if err := s.tls.Reload(); err != nil {
		return err
	}
	s.logger.Info("tls certificate reloaded")
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the server address.
func (s *Server) Address() string {
	scheme := "http"
	if s.tls != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, s.config.Address())
}
