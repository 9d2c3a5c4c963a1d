// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BridgeStarted()
	m.BridgeStarted()
	m.BridgeStopped()
	if got := testutil.ToFloat64(m.activeBridges); got != 1 {
		t.Errorf("active_bridges = %v, want 1", got)
	}

	m.ConnectionAccepted("S.gpg-agent")
	m.ConnectionAccepted("S.gpg-agent")
	if got := testutil.ToFloat64(m.connectionsAccepted.WithLabelValues("S.gpg-agent")); got != 2 {
		t.Errorf("connections_accepted_total = %v, want 2", got)
	}

	m.ConnectionFailed("S.gpg-agent", ReasonUpstream)
	if got := testutil.ToFloat64(m.connectionsFailed.WithLabelValues("S.gpg-agent", ReasonUpstream)); got != 1 {
		t.Errorf("connections_failed_total{reason=upstream} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionsFailed.WithLabelValues("S.gpg-agent", ReasonDescriptor)); got != 0 {
		t.Errorf("connections_failed_total{reason=descriptor} = %v, want 0", got)
	}

	m.BytesRelayed("S.gpg-agent", "a_to_b", 4096)
	m.BytesRelayed("S.gpg-agent", "a_to_b", 10)
	m.BytesRelayed("S.gpg-agent", "a_to_b", 0)
	if got := testutil.ToFloat64(m.bytesRelayed.WithLabelValues("S.gpg-agent", "a_to_b")); got != 4106 {
		t.Errorf("bytes_relayed_total = %v, want 4106", got)
	}
}

func TestMetrics_Sessions(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.SessionStarted("S.gpg-agent")
	m.SessionStarted("S.gpg-agent")
	m.SessionFinished("S.gpg-agent", 250*time.Millisecond)
	if got := testutil.ToFloat64(m.activeSessions.WithLabelValues("S.gpg-agent")); got != 1 {
		t.Errorf("active_sessions = %v, want 1", got)
	}

	count, err := testutil.GatherAndCount(registry, "assuan_bridge_session_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 1 {
		t.Errorf("session_duration_seconds series = %d, want 1", count)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.BridgeStarted()
	m.BridgeStopped()
	m.ConnectionAccepted("x")
	m.ConnectionFailed("x", ReasonRelay)
	m.SessionStarted("x")
	m.SessionFinished("x", time.Second)
	m.BytesRelayed("x", "a_to_b", 1)
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.ConnectionAccepted("S.gpg-agent")

	var ready atomic.Bool
	server := httptest.NewServer(Handler(registry, ready.Load))
	defer server.Close()

	get := func(path string) (int, string) {
		t.Helper()
		response, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer response.Body.Close()
		body, err := io.ReadAll(response.Body)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		return response.StatusCode, string(body)
	}

	if status, body := get("/healthz"); status != http.StatusOK || body != "ok" {
		t.Errorf("/healthz = %d %q", status, body)
	}
	if status, _ := get("/readyz"); status != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d, want 503", status)
	}
	ready.Store(true)
	if status, body := get("/readyz"); status != http.StatusOK || body != "ready" {
		t.Errorf("/readyz after ready = %d %q", status, body)
	}

	status, body := get("/metrics")
	if status != http.StatusOK {
		t.Fatalf("/metrics status = %d", status)
	}
	if !strings.Contains(body, `assuan_bridge_connections_accepted_total{bridge="S.gpg-agent"} 1`) {
		t.Errorf("/metrics missing accepted counter:\n%s", body)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	server := &Server{Addr: "127.0.0.1:0", Gatherer: prometheus.NewRegistry()}
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	response, err := http.Get("http://" + server.ListenAddr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", response.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestServer_RequiresGatherer(t *testing.T) {
	server := &Server{Addr: "127.0.0.1:0"}
	if err := server.Start(); err == nil {
		t.Fatal("expected an error without a Gatherer")
	}
}
