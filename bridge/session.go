// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/assuan-bridge/lib/assuan"
	"github.com/bureau-foundation/assuan-bridge/lib/clock"
	"github.com/bureau-foundation/assuan-bridge/lib/metrics"
	"github.com/bureau-foundation/assuan-bridge/lib/netutil"
)

// session is one proxied connection. It is registered with its Bridge
// only so that Shutdown can force-close it and Status can count it; the
// connection goroutine owns the sockets.
type session struct {
	id        uint64
	local     net.Conn
	upstream  net.Conn
	startedAt time.Time

	// closed is set by closeSessions. An upstream attached after that
	// point is refused. Guarded by Bridge.sessionsMu.
	closed bool
}

// register records a new session. After closeSessions has run it closes
// local instead and returns false: a connection accepted just before the
// listener closed would otherwise escape the forced shutdown.
func (b *Bridge) register(id uint64, local net.Conn) bool {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	if b.closing {
		local.Close()
		return false
	}
	b.sessions[id] = &session{id: id, local: local, startedAt: b.clock().Now()}
	return true
}

func (b *Bridge) unregister(id uint64) {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	delete(b.sessions, id)
}

// attachUpstream records the upstream connection for id. It returns
// false if the session was force-closed while dialing, in which case
// the caller must abandon it.
func (b *Bridge) attachUpstream(id uint64, upstream net.Conn) bool {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	current, ok := b.sessions[id]
	if !ok || current.closed {
		return false
	}
	current.upstream = upstream
	return true
}

// closeSessions closes both sockets of every registered session and
// returns how many there were. The relays observe the closed sockets
// and unwind on their own.
func (b *Bridge) closeSessions() int {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	b.closing = true
	for _, current := range b.sessions {
		current.closed = true
		current.local.Close()
		if current.upstream != nil {
			current.upstream.Close()
		}
	}
	return len(b.sessions)
}

func (b *Bridge) noteDescriptor(descriptor *assuan.Descriptor) {
	fingerprint := descriptor.Token.Fingerprint()
	if !descriptor.Token.Protected() {
		b.unprotectedWarning.Do(func() {
			b.logger().Warn("descriptor token is not locked in memory, RLIMIT_MEMLOCK may be exhausted",
				"bridge", b.DisplayName())
		})
	}
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	b.upstream = upstreamInfo{port: descriptor.Port, fingerprint: fingerprint}
}

func (b *Bridge) fail(logger *slog.Logger, reason, message string, err error) {
	b.failed.Add(1)
	b.Metrics.ConnectionFailed(b.DisplayName(), reason)
	logger.Error(message, "reason", reason, "error", err)
}

// handleConnection runs one session: read the descriptor, dial the
// endpoint it names, send the nonce, then relay until both directions
// finish. Every exit path closes the local connection.
func (b *Bridge) handleConnection(ctx context.Context, local net.Conn, connectionID uint64) {
	defer local.Close()

	name := b.DisplayName()
	if !b.register(connectionID, local) {
		b.logger().Debug("connection refused during shutdown", "bridge", name, "connection_id", connectionID)
		return
	}
	defer b.unregister(connectionID)
	b.accepted.Add(1)
	b.Metrics.ConnectionAccepted(name)

	logger := b.logger().With("bridge", name, "connection_id", connectionID)
	if credentials, err := netutil.UnixPeerCredentials(local); err == nil {
		logger = logger.With("peer_pid", credentials.PID, "peer_uid", credentials.UID)
	}
	logger.Debug("connection accepted")

	// The agent rewrites the descriptor on restart; never reuse an
	// earlier read.
	descriptor, err := assuan.ReadDescriptor(b.DescriptorPath)
	if err != nil {
		b.fail(logger, metrics.ReasonDescriptor, "reading descriptor failed", err)
		return
	}
	defer descriptor.Close()
	b.noteDescriptor(descriptor)

	address := descriptor.Address()
	dialer := net.Dialer{Timeout: b.dialTimeout()}
	upstream, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		b.fail(logger, metrics.ReasonUpstream, "connecting upstream failed",
			fmt.Errorf("%w: %s: %w", ErrUpstreamUnreachable, address, err))
		return
	}
	defer upstream.Close()

	if !b.attachUpstream(connectionID, upstream) {
		logger.Debug("session closed during connect")
		return
	}

	logger = logger.With("upstream_port", descriptor.Port, "token_fingerprint", descriptor.Token.Fingerprint())

	if err := b.handshake(upstream, descriptor.Token); err != nil {
		b.fail(logger, metrics.ReasonHandshake, "sending nonce failed", err)
		return
	}
	// The nonce is not needed past the handshake.
	descriptor.Close()

	start := b.clock().Now()
	b.Metrics.SessionStarted(name)
	logger.Debug("session established")

	result := netutil.Relay(local, upstream, netutil.RelayOptions{
		OnChunk: func(direction netutil.Direction, size int) {
			if direction == netutil.AToB {
				b.bytesToUpstream.Add(uint64(size))
				b.Metrics.BytesRelayed(name, "to_upstream", size)
			} else {
				b.bytesToLocal.Add(uint64(size))
				b.Metrics.BytesRelayed(name, "to_local", size)
			}
		},
	})

	duration := clock.Since(b.clock(), start)
	b.Metrics.SessionFinished(name, duration)
	if result.Err != nil {
		b.failed.Add(1)
		b.Metrics.ConnectionFailed(name, metrics.ReasonRelay)
		logger.Debug("relay ended with error", "error", result.Err)
	}
	logger.Debug("session closed",
		"bytes_to_upstream", result.BytesAToB,
		"bytes_to_local", result.BytesBToA,
		"duration", duration,
	)
}

// handshake writes the nonce as the first bytes on the upstream stream.
func (b *Bridge) handshake(upstream net.Conn, token *assuan.Token) error {
	if err := upstream.SetWriteDeadline(time.Now().Add(b.dialTimeout())); err != nil { //nolint:realclock kernel deadline
		return err
	}
	if _, err := token.WriteTo(upstream); err != nil {
		return err
	}
	return upstream.SetWriteDeadline(time.Time{})
}
