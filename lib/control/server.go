// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

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

	"github.com/bureau-foundation/assuan-bridge/lib/codec"
	"github.com/bureau-foundation/assuan-bridge/lib/discovery"
)

// ActionFunc processes one request. raw is the full CBOR request,
// including the "action" field. A nil result produces {ok: true}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the wire envelope for every control response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

const (
	readTimeout    = 10 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
)

// Server serves the control protocol on a Unix socket.
type Server struct {
	socketPath string
	mode       os.FileMode
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	activeConnections sync.WaitGroup
}

// NewServer creates a server for socketPath. The socket file gets mode
// once bound. Register actions with Handle before Serve.
func NewServer(socketPath string, mode os.FileMode, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		mode:       mode,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers handler for action. Panics on a duplicate.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("control.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready is closed once the socket is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve listens and dispatches requests until ctx is cancelled, then
// waits for in-flight requests. A stale socket at the path is replaced;
// a live socket or a non-socket file is an error. The socket file is
// removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.clearStaleSocket(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	if s.mode != 0 {
		if err := os.Chmod(s.socketPath, s.mode); err != nil {
			return fmt.Errorf("setting mode on %s: %w", s.socketPath, err)
		}
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "socket_path", s.socketPath)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		connection, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("control accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, connection)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) clearStaleSocket() error {
	state, err := discovery.Probe(s.socketPath)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	switch state {
	case discovery.StateInUse:
		return fmt.Errorf("control socket %s: %w", s.socketPath, discovery.ErrSocketInUse)
	case discovery.StateStale:
		if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale control socket %s: %w", s.socketPath, err)
		}
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, connection net.Conn) {
	defer connection.Close()

	connection.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(connection, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(connection, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(connection, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(connection, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(connection, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("control action failed", "action", header.Action, "error", err)
		s.writeError(connection, err.Error())
		return
	}
	s.writeSuccess(connection, result)
}

func (s *Server) writeError(connection net.Conn, message string) {
	connection.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(connection).Encode(Response{Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(connection net.Conn, result any) {
	connection.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(connection, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(connection).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
