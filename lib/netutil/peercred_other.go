// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package netutil

import (
	"errors"
	"net"
)

// UnixPeerCredentials is only implemented on Linux.
func UnixPeerCredentials(net.Conn) (PeerCredentials, error) {
	return PeerCredentials{}, errors.ErrUnsupported
}
