// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "time"

// Status is a point-in-time snapshot of a Bridge.
type Status struct {
	Name           string    `cbor:"name" json:"name"`
	SocketPath     string    `cbor:"socket_path" json:"socket_path"`
	DescriptorPath string    `cbor:"descriptor_path" json:"descriptor_path"`
	StartedAt      time.Time `cbor:"started_at" json:"started_at"`

	// UpstreamPort and TokenFingerprint come from the most recent
	// descriptor read. A changed fingerprint means the agent restarted.
	UpstreamPort     int    `cbor:"upstream_port" json:"upstream_port"`
	TokenFingerprint string `cbor:"token_fingerprint" json:"token_fingerprint"`

	ActiveSessions  int    `cbor:"active_sessions" json:"active_sessions"`
	Accepted        uint64 `cbor:"accepted" json:"accepted"`
	Failed          uint64 `cbor:"failed" json:"failed"`
	BytesToUpstream uint64 `cbor:"bytes_to_upstream" json:"bytes_to_upstream"`
	BytesToLocal    uint64 `cbor:"bytes_to_local" json:"bytes_to_local"`
}

// Status returns a snapshot of the bridge's counters and sessions.
func (b *Bridge) Status() Status {
	b.sessionsMu.Lock()
	active := len(b.sessions)
	upstream := b.upstream
	b.sessionsMu.Unlock()

	return Status{
		Name:             b.DisplayName(),
		SocketPath:       b.SocketPath,
		DescriptorPath:   b.DescriptorPath,
		StartedAt:        b.startedAt,
		UpstreamPort:     upstream.port,
		TokenFingerprint: upstream.fingerprint,
		ActiveSessions:   active,
		Accepted:         b.accepted.Load(),
		Failed:           b.failed.Load(),
		BytesToUpstream:  b.bytesToUpstream.Load(),
		BytesToLocal:     b.bytesToLocal.Load(),
	}
}
