// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves /metrics from gatherer plus /healthz and /readyz.
// ready reports readiness; nil means always ready.
func Handler(gatherer prometheus.Gatherer, ready func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// Server serves Handler on a TCP address until its context ends.
type Server struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464".
	Addr string

	// Gatherer supplies the metrics. Required.
	Gatherer prometheus.Gatherer

	// Ready backs /readyz.
	Ready func() bool

	Logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	if s.Gatherer == nil {
		return fmt.Errorf("metrics: Gatherer is required")
	}
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listening on %s: %w", s.Addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           Handler(s.Gatherer, s.Ready),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := s.logger()
	logger.Info("metrics server listening", "address", listener.Addr().String())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "address", s.Addr, "error", err)
		}
	}()
	return nil
}

// ListenAddr returns the bound address, or nil before Start.
func (s *Server) ListenAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server, waiting for in-flight requests until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
