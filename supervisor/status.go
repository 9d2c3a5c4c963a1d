// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"time"

	"github.com/bureau-foundation/assuan-bridge/bridge"
	"github.com/bureau-foundation/assuan-bridge/lib/clock"
	"github.com/bureau-foundation/assuan-bridge/lib/version"
)

// Status is the reply to the control socket's "status" action.
type Status struct {
	Version       string          `cbor:"version" json:"version"`
	StartedAt     time.Time       `cbor:"started_at" json:"started_at"`
	UptimeSeconds float64         `cbor:"uptime_seconds" json:"uptime_seconds"`
	Bridges       []bridge.Status `cbor:"bridges" json:"bridges"`
}

// Status returns a snapshot of the supervisor and every running bridge.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	bridges := s.snapshotBridges()
	status := Status{
		Version:       version.Info(),
		StartedAt:     startedAt,
		UptimeSeconds: clock.Since(s.clock(), startedAt).Seconds(),
		Bridges:       make([]bridge.Status, 0, len(bridges)),
	}
	for _, b := range bridges {
		status.Bridges = append(status.Bridges, b.Status())
	}
	return status
}
