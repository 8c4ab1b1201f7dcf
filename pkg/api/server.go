package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/stowfs/internal/logger"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	server       *http.Server
	config       ServerConfig
	shutdownOnce sync.Once
}

// NewServer creates the API HTTP server around the given router.
// The server is created in a stopped state; call Start to serve.
func NewServer(cfg ServerConfig, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			IdleTimeout:  120 * time.Second,
			// No WriteTimeout: restores of large archives stream for
			// longer than any fixed ceiling.
		},
		config: cfg,
	}
}

// Start serves requests until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.Info("API server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		timeout := s.config.ShutdownTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("API server shutting down")
		err = s.server.Shutdown(shutdownCtx)
	})
	return err
}
