// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge forwards local Unix socket connections to a libassuan
// TCP endpoint.
//
// On Windows, gpg4win's gpg-agent cannot create Unix sockets. It
// listens on a loopback TCP port instead and writes a small descriptor
// file where the socket would be: the decimal port, a newline, and a
// 16-byte nonce. A client must send that nonce as the first bytes of
// the TCP stream before the agent will talk to it. Programs inside WSL
// expect a real Unix socket at ~/.gnupg/S.gpg-agent, so they cannot use
// the descriptor directly.
//
// [Bridge] closes that gap for one descriptor. Start checks that the
// descriptor is readable, binds a Unix socket at SocketPath, and
// accepts connections in the background. For every accepted connection
// the descriptor is read again (the agent rewrites it with a new port
// and nonce whenever it restarts), a TCP connection is opened to
// 127.0.0.1:<port>, the nonce is written, and bytes are relayed in both
// directions with half-close propagation until both sides finish.
//
// A failed connection (unreadable descriptor, agent not listening,
// handshake write failure) is logged, counted, and closed. It never
// affects the listener or other sessions.
//
// Stop closes the listener and waits for sessions to drain. Shutdown
// does the same but force-closes whatever remains when its context
// ends. The socket file is removed when the listener closes.
package bridge
