// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/assuan-bridge/bridge"
	"github.com/bureau-foundation/assuan-bridge/lib/clock"
	"github.com/bureau-foundation/assuan-bridge/lib/control"
	"github.com/bureau-foundation/assuan-bridge/lib/metrics"
)

// DefaultShutdownTimeout bounds the session drain at shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// ErrNoBridges is returned by Run when no bridge could be started.
var ErrNoBridges = errors.New("supervisor: no bridges started")

// Supervisor owns the running bridges and the ambient servers around
// them. Configure the exported fields, then call Run once.
type Supervisor struct {
	// SocketMode and DialTimeout are passed to every bridge.
	SocketMode  os.FileMode
	DialTimeout time.Duration

	// ShutdownTimeout bounds how long shutdown waits for sessions
	// before force-closing them. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// ControlSocket, if set, serves the "status" action there.
	ControlSocket string

	// MetricsAddr, if set, serves /metrics, /healthz and /readyz there.
	MetricsAddr string

	// Registry collects the bridge metrics. Nil means a fresh registry.
	Registry *prometheus.Registry

	Logger *slog.Logger
	Clock  clock.Clock

	readyOnce sync.Once
	ready     chan struct{}
	closing   atomic.Bool

	mu        sync.Mutex
	bridges   []*bridge.Bridge
	startedAt time.Time

	metricsServer *metrics.Server
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Supervisor) clock() clock.Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return clock.Real()
}

func (s *Supervisor) shutdownTimeout() time.Duration {
	if s.ShutdownTimeout > 0 {
		return s.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}

func (s *Supervisor) readyChannel() chan struct{} {
	s.readyOnce.Do(func() { s.ready = make(chan struct{}) })
	return s.ready
}

// Ready is closed once every bridge that could start is accepting and
// the ambient servers are up.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.readyChannel()
}

func (s *Supervisor) isReady() bool {
	if s.closing.Load() {
		return false
	}
	select {
	case <-s.readyChannel():
		return true
	default:
		return false
	}
}

// MetricsListenAddr returns the bound metrics address, or nil when the
// metrics server is not running.
func (s *Supervisor) MetricsListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsServer == nil {
		return nil
	}
	return s.metricsServer.ListenAddr()
}

// Run starts a bridge per config and serves until ctx is cancelled.
// A bridge that fails to start is logged and skipped; if none start,
// Run returns ErrNoBridges. After cancellation Run shuts everything
// down and returns nil.
func (s *Supervisor) Run(ctx context.Context, configs []bridge.Config) error {
	logger := s.logger()
	registry := s.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	bridgeMetrics := metrics.New(registry)

	s.mu.Lock()
	s.startedAt = s.clock().Now()
	s.mu.Unlock()

	for _, config := range configs {
		b := &bridge.Bridge{
			Config:      config,
			SocketMode:  s.SocketMode,
			DialTimeout: s.DialTimeout,
			Logger:      logger,
			Metrics:     bridgeMetrics,
			Clock:       s.Clock,
		}
		if err := b.Start(ctx); err != nil {
			logger.Error("bridge failed to start, skipping",
				"socket_path", config.SocketPath,
				"descriptor_path", config.DescriptorPath,
				"error", err,
			)
			continue
		}
		s.mu.Lock()
		s.bridges = append(s.bridges, b)
		s.mu.Unlock()
	}

	started := s.snapshotBridges()
	if len(started) == 0 {
		return ErrNoBridges
	}
	logger.Info("proxying sockets", "count", len(started))

	controlCtx, stopControl := context.WithCancel(ctx)
	defer stopControl()
	controlDone, err := s.startControl(controlCtx)
	if err != nil {
		s.shutdownBridges(started)
		return err
	}

	if s.MetricsAddr != "" {
		server := &metrics.Server{
			Addr:     s.MetricsAddr,
			Gatherer: registry,
			Ready:    s.isReady,
			Logger:   logger,
		}
		if err := server.Start(); err != nil {
			stopControl()
			<-controlDone
			s.shutdownBridges(started)
			return err
		}
		s.mu.Lock()
		s.metricsServer = server
		s.mu.Unlock()
	}

	close(s.readyChannel())

	<-ctx.Done()
	s.closing.Store(true)
	logger.Info("shutting down", "bridges", len(started))

	s.shutdownBridges(started)
	stopControl()
	<-controlDone

	if server := s.metricsServerOrNil(); server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return nil
}

// startControl runs the control socket if configured. The returned
// channel is closed when the server has stopped.
func (s *Supervisor) startControl(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	if s.ControlSocket == "" {
		close(done)
		return done, nil
	}

	server := control.NewServer(s.ControlSocket, 0o600, s.logger())
	server.Handle("status", func(context.Context, []byte) (any, error) {
		return s.Status(), nil
	})

	serveErr := make(chan error, 1)
	go func() {
		defer close(done)
		serveErr <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
		return done, nil
	case err := <-serveErr:
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("control socket: %w", err)
	}
}

// shutdownBridges shuts every bridge down in parallel. Each gets the
// same deadline; sessions still open at the deadline are force-closed.
func (s *Supervisor) shutdownBridges(bridges []*bridge.Bridge) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	var waitGroup sync.WaitGroup
	for _, b := range bridges {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if err := b.Shutdown(shutdownCtx); err != nil {
				s.logger().Warn("bridge shutdown incomplete",
					"bridge", b.DisplayName(),
					"error", err,
				)
			}
		}()
	}
	waitGroup.Wait()
}

func (s *Supervisor) snapshotBridges() []*bridge.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*bridge.Bridge(nil), s.bridges...)
}

func (s *Supervisor) metricsServerOrNil() *metrics.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsServer
}
