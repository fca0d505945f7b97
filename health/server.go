// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package health serves the HTTP liveness surface: a root banner, a
// machine-readable health check, a supervisor status snapshot, and a
// webhook catch-all that acknowledges stray deliveries from previous
// deployments.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gswarm-tools/linkbot/lib/version"
	"github.com/gswarm-tools/linkbot/supervisor"
)

// StatusSource answers supervisor status queries. Satisfied by
// *supervisor.Supervisor.
type StatusSource interface {
	Status(ctx context.Context) (supervisor.Status, error)
}

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address (e.g., ":8080"). Required.
	Address string

	// Supervisor answers /status queries. Required.
	Supervisor StatusSource

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during graceful shutdown. Defaults to
	// 10 seconds if zero.
	ShutdownTimeout time.Duration
}

// Server serves the health endpoints on a TCP listener. Serve(ctx)
// blocks until the context is cancelled and active requests drain.
type Server struct {
	address    string
	supervisor StatusSource
	logger     *slog.Logger

	shutdownTimeout time.Duration
	startedAt       time.Time

	// ready is closed after the listener is bound and the server is
	// accepting connections.
	ready chan struct{}

	// addr is the resolved listen address, available after ready is
	// closed.
	addr net.Addr
}

// NewServer creates a health server. Call Serve to start accepting
// connections.
func NewServer(config Config) *Server {
	if config.Address == "" {
		panic("health: Address is required")
	}
	if config.Supervisor == nil {
		panic("health: Supervisor is required")
	}
	if config.Logger == nil {
		panic("health: Logger is required")
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Server{
		address:         config.Address,
		supervisor:      config.Supervisor,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		startedAt:       time.Now(),
		ready:           make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound and
// accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready()
// is closed. Useful when the configured address uses port 0.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve starts accepting HTTP connections. Blocks until ctx is
// cancelled, then performs graceful shutdown: stops accepting new
// connections and waits up to ShutdownTimeout for active requests to
// complete.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("health: listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.routes(),

		// Timeouts protect against slow clients holding connections
		// open. All payloads here are tiny.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("health server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("health server shutting down")
	case err := <-serveDone:
		if err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("health server shutdown error", "error", err)
		return fmt.Errorf("health: server shutdown: %w", err)
	}

	s.logger.Info("health server stopped")
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	// Stray webhook deliveries from a previous webhook-mode
	// deployment get an acknowledgment so Telegram stops retrying.
	mux.HandleFunc("/webhook/", s.handleWebhook)
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "linkbot %s\n", version.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           "polling",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.supervisor.Status(r.Context())
	if err != nil {
		s.logger.Warn("status query failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "supervisor unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("acknowledged stray webhook delivery", "path", r.URL.Path)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
