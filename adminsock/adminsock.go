// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package adminsock serves the operator control protocol on a Unix
// socket: CBOR request-response, one cycle per connection. Operators
// on the host can inspect the supervisor and force-stop the active
// session without going through the chat transport.
package adminsock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gswarm-tools/linkbot/lib/codec"
	"github.com/gswarm-tools/linkbot/supervisor"
)

// Request is the wire format for operator commands.
type Request struct {
	// Action is "status" or "stop".
	Action string `cbor:"action"`

	// Reason annotates a "stop" action in the session-ended
	// notification and the logs. Optional.
	Reason string `cbor:"reason,omitempty"`
}

// Response is the wire-format envelope for all control responses.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// StopResult is the Data payload of a successful "stop".
type StopResult struct {
	// Stopped is false when the supervisor was already idle.
	Stopped bool `cbor:"stopped"`
}

// Controller is the slice of the supervisor the control socket drives.
type Controller interface {
	Status(ctx context.Context) (supervisor.Status, error)
	StopActive(ctx context.Context, reason string) (bool, error)
}

// Server serves the control protocol. Each connection handles exactly
// one request-response cycle: the client writes a CBOR Request, the
// server writes a CBOR Response, then the connection closes.
type Server struct {
	socketPath string
	controller Controller
	logger     *slog.Logger

	// activeConnections tracks in-flight handlers for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewServer creates a control server that will listen on socketPath.
func NewServer(socketPath string, controller Controller, logger *slog.Logger) *Server {
	if socketPath == "" {
		panic("adminsock: socketPath is required")
	}
	if controller == nil {
		panic("adminsock: controller is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		controller: controller,
		logger:     logger,
	}
}

// Serve starts accepting connections on the Unix socket. Blocks until
// ctx is cancelled, then stops accepting new connections and waits for
// active handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("adminsock: removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("adminsock: listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for the response to be written.
const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single CBOR request. Control requests are a
// handful of bytes; 64 KB is far beyond any legitimate use.
const maxRequestSize = 64 * 1024

// handleConnection processes one request-response cycle.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Decode one CBOR value from the connection. CBOR is self-
	// delimiting so no framing protocol is needed. LimitReader
	// prevents a malicious client from exhausting memory.
	var request Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	switch request.Action {
	case "status":
		status, err := s.controller.Status(ctx)
		if err != nil {
			s.writeError(conn, err.Error())
			return
		}
		s.writeSuccess(conn, status)

	case "stop":
		reason := request.Reason
		if reason == "" {
			reason = "stopped by operator"
		}
		stopped, err := s.controller.StopActive(ctx, reason)
		if err != nil {
			s.writeError(conn, err.Error())
			return
		}
		s.logger.Info("operator stop", "stopped", stopped, "reason", reason)
		s.writeSuccess(conn, StopResult{Stopped: stopped})

	case "":
		s.writeError(conn, "missing required field: action")

	default:
		s.writeError(conn, fmt.Sprintf("unknown action %q", request.Action))
	}
}

// writeError sends a failure response: {ok: false, error: "..."}.
// Write failures are logged at debug level, the connection is closing
// regardless and the caller has already received the error.
func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true, data: <cbor>}.
func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	data, err := codec.Marshal(result)
	if err != nil {
		s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
		return
	}
	response.Data = data

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}

// Call dials the control socket, sends one request, and decodes the
// response envelope. Returns an error for transport failures or an
// ok:false response.
func Call(ctx context.Context, socketPath string, request Request) (*Response, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("adminsock: dialing %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("adminsock: sending request: %w", err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("adminsock: reading response: %w", err)
	}
	if !response.OK {
		return &response, fmt.Errorf("adminsock: %s", response.Error)
	}
	return &response, nil
}
