// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

// PeerCredentials identifies the process on the other end of a Unix
// socket connection.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}
