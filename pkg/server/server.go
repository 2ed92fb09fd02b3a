// Package server mounts the jukeboxd functions on one HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"jukeboxd/pkg/config"
	"jukeboxd/pkg/httpapi"
	"jukeboxd/pkg/version"
)

const shutdownTimeout = 30 * time.Second

// Routes are the handlers mounted by NewMux.
type Routes struct {
	Gateway http.Handler
	Sync    http.Handler
}

// NewMux mounts each function at its own path and at a trailing-slash
// alias, plus /health.
func NewMux(routes Routes) *http.ServeMux {
	mux := http.NewServeMux()
	if routes.Gateway != nil {
		mux.Handle("/ai-gateway", routes.Gateway)
		mux.Handle("/ai-gateway/", routes.Gateway)
	}
	if routes.Sync != nil {
		mux.Handle("/full-repo-sync", routes.Sync)
		mux.Handle("/full-repo-sync/", routes.Sync)
	}
	mux.HandleFunc("/health", handleHealth)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": version.Summary(),
	})
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server for handler. Requests are logged and panics are
// turned into 500 responses.
func New(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpapi.LogRequests(logger, httpapi.Recover(handler)),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_started", "addr", ln.Addr().String(), "version", version.Summary())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server_stopped")
	return nil
}
