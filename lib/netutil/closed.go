// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, use of a closed connection, broken pipe, or
// connection reset. A relay that closes both sockets after one side
// fails makes the surviving direction observe one of these; none of
// them indicate a fault worth logging.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// CloseWrite shuts down the write side of conn so the peer reads EOF.
// Connections without half-close support are closed entirely.
func CloseWrite(conn net.Conn) error {
	if halfCloser, ok := conn.(interface{ CloseWrite() error }); ok {
		return halfCloser.CloseWrite()
	}
	return conn.Close()
}
