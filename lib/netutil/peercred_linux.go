// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// UnixPeerCredentials returns the process credentials of the peer of an
// accepted Unix socket connection, as recorded by the kernel at connect
// time. Use for diagnostics only: the peer process may have exited or
// changed identity since.
func UnixPeerCredentials(conn net.Conn) (PeerCredentials, error) {
	unixConnection, ok := conn.(*net.UnixConn)
	if !ok {
		return PeerCredentials{}, fmt.Errorf("peer credentials: %T is not a unix connection", conn)
	}
	raw, err := unixConnection.SyscallConn()
	if err != nil {
		return PeerCredentials{}, fmt.Errorf("peer credentials: %w", err)
	}

	var (
		credentials *unix.Ucred
		sockoptErr  error
	)
	if err := raw.Control(func(fd uintptr) {
		credentials, sockoptErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return PeerCredentials{}, fmt.Errorf("peer credentials: %w", err)
	}
	if sockoptErr != nil {
		return PeerCredentials{}, fmt.Errorf("peer credentials: SO_PEERCRED: %w", sockoptErr)
	}

	return PeerCredentials{
		PID: credentials.Pid,
		UID: credentials.Uid,
		GID: credentials.Gid,
	}, nil
}
