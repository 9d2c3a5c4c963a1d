// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assuan_bridge"

// Failure reasons for ConnectionFailed.
const (
	ReasonDescriptor = "descriptor"
	ReasonUpstream   = "upstream"
	ReasonHandshake  = "handshake"
	ReasonRelay      = "relay"
)

// Metrics is the set of bridge collectors.
type Metrics struct {
	activeBridges       prometheus.Gauge
	connectionsAccepted *prometheus.CounterVec
	connectionsFailed   *prometheus.CounterVec
	activeSessions      *prometheus.GaugeVec
	bytesRelayed        *prometheus.CounterVec
	sessionDuration     *prometheus.HistogramVec
}

// New registers the collectors with registerer. Passing
// prometheus.DefaultRegisterer exposes them on the default registry;
// registering twice against the same registry panics.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		activeBridges: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_bridges",
			Help:      "Listening socket bridges",
		}),
		connectionsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Local connections accepted",
		}, []string{"bridge"}),
		connectionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_failed_total",
			Help:      "Local connections that failed, by reason",
		}, []string{"bridge", "reason"}),
		activeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently relaying",
		}, []string{"bridge"}),
		bytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Bytes relayed, by direction",
		}, []string{"bridge", "direction"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session lifetime seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"bridge"}),
	}
}

// BridgeStarted records a listener coming up.
func (m *Metrics) BridgeStarted() {
	if m == nil {
		return
	}
	m.activeBridges.Inc()
}

// BridgeStopped records a listener going away.
func (m *Metrics) BridgeStopped() {
	if m == nil {
		return
	}
	m.activeBridges.Dec()
}

// ConnectionAccepted counts an accepted local connection.
func (m *Metrics) ConnectionAccepted(bridge string) {
	if m == nil {
		return
	}
	m.connectionsAccepted.WithLabelValues(bridge).Inc()
}

// ConnectionFailed counts a connection that ended before or during
// relaying. reason is one of the Reason constants.
func (m *Metrics) ConnectionFailed(bridge, reason string) {
	if m == nil {
		return
	}
	m.connectionsFailed.WithLabelValues(bridge, reason).Inc()
}

// SessionStarted records a session entering the relay phase.
func (m *Metrics) SessionStarted(bridge string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(bridge).Inc()
}

// SessionFinished records the end of a relaying session.
func (m *Metrics) SessionFinished(bridge string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(bridge).Dec()
	m.sessionDuration.WithLabelValues(bridge).Observe(duration.Seconds())
}

// BytesRelayed adds n bytes in direction.
func (m *Metrics) BytesRelayed(bridge, direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRelayed.WithLabelValues(bridge, direction).Add(float64(n))
}
