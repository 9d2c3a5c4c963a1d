// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the byte-relay and connection helpers shared
// by the bridge.
//
// [Relay] copies between two connections in both directions at once,
// one goroutine per direction, reading at most one chunk at a time and
// writing each chunk as soon as it arrives. When a direction reaches
// end-of-stream it half-closes its destination ([CloseWrite]) so the
// peer sees EOF while the other direction keeps flowing. When a
// direction fails it closes both connections, which unblocks the other
// direction.
//
// [IsExpectedCloseError] classifies the errors that occur during normal
// teardown (EOF, closed connection, broken pipe, connection reset) so
// callers do not log them as failures.
//
// [UnixPeerCredentials] reads SO_PEERCRED from an accepted Unix socket
// connection for diagnostics.
package netutil
