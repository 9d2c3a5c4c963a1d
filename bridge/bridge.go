// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/assuan-bridge/lib/assuan"
	"github.com/bureau-foundation/assuan-bridge/lib/clock"
	"github.com/bureau-foundation/assuan-bridge/lib/metrics"
)

const (
	// DefaultSocketMode restricts the local socket to its owner.
	DefaultSocketMode os.FileMode = 0o600

	// DefaultDialTimeout bounds the upstream TCP connect.
	DefaultDialTimeout = 5 * time.Second
)

var (
	// ErrUpstreamUnreachable wraps failures to connect to the TCP
	// endpoint named by the descriptor.
	ErrUpstreamUnreachable = errors.New("bridge: upstream unreachable")

	// ErrSocketPathConflict means SocketPath exists and is not a socket.
	ErrSocketPathConflict = errors.New("bridge: socket path is occupied by a non-socket file")
)

// Config names one descriptor and the local socket that serves it.
type Config struct {
	// Name labels the bridge in logs, metrics, and status. Defaults to
	// the base name of SocketPath.
	Name string

	// SocketPath is the local Unix socket to listen on.
	SocketPath string

	// DescriptorPath is the libassuan descriptor file to read on every
	// connection.
	DescriptorPath string
}

// DisplayName returns Name, or the base name of SocketPath.
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return filepath.Base(c.SocketPath)
}

// Bridge serves one Unix socket, forwarding each connection to the
// endpoint its descriptor names at the time of connection.
type Bridge struct {
	Config

	// SocketMode is applied to the socket file after binding. Zero
	// means DefaultSocketMode.
	SocketMode os.FileMode

	// DialTimeout bounds each upstream connect and handshake write.
	// Zero means DefaultDialTimeout.
	DialTimeout time.Duration

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-connection events are logged at Debug level; failures
	// and lifecycle events at Error/Info.
	Logger *slog.Logger

	// Metrics records counters. Nil disables metrics.
	Metrics *metrics.Metrics

	// Clock timestamps sessions. Nil means the real clock.
	Clock clock.Clock

	listener    *net.UnixListener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
	startedAt   time.Time

	sessionsMu sync.Mutex
	sessions   map[uint64]*session
	upstream   upstreamInfo
	// closing is set once Shutdown has force-closed sessions; later
	// registrations are refused. Guarded by sessionsMu.
	closing bool

	// unprotectedWarning fires the first time a descriptor's token could
	// not be locked in memory.
	unprotectedWarning sync.Once

	nextConnectionID atomic.Uint64
	accepted         atomic.Uint64
	failed           atomic.Uint64
	bytesToUpstream  atomic.Uint64
	bytesToLocal     atomic.Uint64
}

// upstreamInfo is what the most recent descriptor read said. Guarded by
// sessionsMu.
type upstreamInfo struct {
	port        int
	fingerprint string
}

// logger returns the configured logger or the default.
func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) clock() clock.Clock {
	if b.Clock != nil {
		return b.Clock
	}
	return clock.Real()
}

func (b *Bridge) dialTimeout() time.Duration {
	if b.DialTimeout > 0 {
		return b.DialTimeout
	}
	return DefaultDialTimeout
}

func (b *Bridge) socketMode() os.FileMode {
	if b.SocketMode != 0 {
		return b.SocketMode
	}
	return DefaultSocketMode
}

// Start checks the descriptor, binds the Unix socket, and begins
// accepting connections in the background. It returns once the listener
// is bound, or an error if the descriptor is unusable or binding fails;
// on error no socket is left behind. The bridge runs until Stop or
// Shutdown is called or ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	if b.SocketPath == "" {
		return fmt.Errorf("bridge: SocketPath is required")
	}
	if b.DescriptorPath == "" {
		return fmt.Errorf("bridge: DescriptorPath is required")
	}

	// Fail early on a missing or malformed descriptor rather than on the
	// first client connection.
	descriptor, err := assuan.ReadDescriptor(b.DescriptorPath)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	b.sessions = make(map[uint64]*session)
	b.noteDescriptor(descriptor)
	descriptor.Close()

	if err := clearSocketPath(b.SocketPath); err != nil {
		return err
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: b.SocketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", b.SocketPath, err)
	}
	if err := os.Chmod(b.SocketPath, b.socketMode()); err != nil {
		listener.Close()
		return fmt.Errorf("bridge: setting mode on %s: %w", b.SocketPath, err)
	}

	b.listener = listener
	b.startedAt = b.clock().Now()

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	// Closing the listener is what unblocks Accept; tie it to ctx so a
	// cancelled parent stops the bridge as well as Stop does.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	b.Metrics.BridgeStarted()
	go func() {
		defer close(b.done)
		defer b.Metrics.BridgeStopped()
		b.acceptLoop(ctx)
	}()

	b.logger().Info("bridge started",
		"bridge", b.DisplayName(),
		"socket_path", b.SocketPath,
		"descriptor_path", b.DescriptorPath,
	)
	return nil
}

// clearSocketPath removes a leftover socket file at path. Callers probe
// for live sockets before starting a bridge, so anything still there is
// stale. A regular file or directory is never removed.
func clearSocketPath(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("bridge: checking %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%w: %s", ErrSocketPathConflict, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bridge: removing stale socket %s: %w", path, err)
	}
	return nil
}

// Addr returns the listener's address. Returns nil if the bridge has
// not been started.
func (b *Bridge) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop closes the listener and waits for all in-flight sessions to
// drain. Safe to call more than once.
func (b *Bridge) Stop() {
	b.closeListener()
	b.Wait()
}

// Shutdown closes the listener and waits for in-flight sessions until
// ctx is done. Sessions still running then are force-closed, and
// Shutdown returns ctx.Err() after they have unwound.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.closeListener()
	if b.done == nil {
		return nil
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
	}

	closed := b.closeSessions()
	b.logger().Warn("shutdown timed out, closed active sessions",
		"bridge", b.DisplayName(),
		"sessions", closed,
	)
	<-b.done
	return ctx.Err()
}

// Wait blocks until the bridge has stopped and every session has
// finished.
func (b *Bridge) Wait() {
	if b.done != nil {
		<-b.done
	}
}

func (b *Bridge) closeListener() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.listener != nil {
		b.listener.Close()
	}
}

// acceptLoop accepts connections and bridges them upstream. It waits
// for all in-flight connection goroutines to finish before returning,
// so that closing the done channel signals full quiescence.
func (b *Bridge) acceptLoop(ctx context.Context) {
	defer b.connections.Wait()

	for {
		connection, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				b.logger().Info("bridge stopped", "bridge", b.DisplayName())
				return
			}
			b.logger().Error("accept failed", "bridge", b.DisplayName(), "error", err)
			continue
		}

		connectionID := b.nextConnectionID.Add(1)
		b.connections.Add(1)
		go func() {
			defer b.connections.Done()
			b.handleConnection(ctx, connection, connectionID)
		}()
	}
}
