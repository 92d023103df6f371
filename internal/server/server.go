// Package server exposes the dispatcher over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/metrics"
	"github.com/harun/toolgate/pkg/dispatch"
)

// maxBodyBytes caps a dispatch request body.
const maxBodyBytes = 1 << 20

// Server is the HTTP API in front of a dispatch.Manager.
type Server struct {
	cfg       config.ServerConfig
	manager   *dispatch.Manager
	metrics   *metrics.Metrics
	limiter   *RateLimiter
	logger    zerolog.Logger
	startTime time.Time

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// New creates a Server. A nil metrics disables the /metrics endpoint.
func New(cfg config.ServerConfig, manager *dispatch.Manager, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("dispatch manager is required")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = config.DefaultConfig().Server.MaxBatch
	}

	s := &Server{
		cfg:       cfg,
		manager:   manager,
		metrics:   m,
		logger:    logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitPerMinute)
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the configured address without serving yet.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	return nil
}

// Serve serves on the bound listener until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln := s.httpSrv, s.listener
	s.mu.Unlock()
	if srv == nil {
		return fmt.Errorf("server is not listening")
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth", s.cfg.AuthToken != "").
		Msg("Starting HTTP server")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Addr returns the bound address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
