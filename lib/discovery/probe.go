// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// probeTimeout bounds the connect attempt against an existing socket.
const probeTimeout = time.Second

var (
	// ErrSocketInUse means another process is accepting on the path.
	ErrSocketInUse = errors.New("socket already exists")

	// ErrNotSocket means a non-socket file occupies the path.
	ErrNotSocket = errors.New("path exists and is not a socket")
)

// State is the result of probing a local socket path.
type State int

const (
	// StateAbsent means nothing exists at the path.
	StateAbsent State = iota
	// StateStale means a socket file exists but nothing accepts on it.
	StateStale
	// StateInUse means a process accepted the probe connection.
	StateInUse
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStale:
		return "stale"
	case StateInUse:
		return "in_use"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Probe reports whether path is free, a stale socket, or a live socket.
// The only way to tell a live Unix socket from a stale one is to
// connect: ECONNREFUSED means nobody is listening.
func Probe(path string) (State, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateAbsent, nil
		}
		return StateAbsent, fmt.Errorf("probing %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return StateAbsent, fmt.Errorf("%s: %w", path, ErrNotSocket)
	}

	connection, err := net.DialTimeout("unix", path, probeTimeout)
	if err == nil {
		connection.Close()
		return StateInUse, nil
	}
	switch {
	case errors.Is(err, unix.ECONNREFUSED):
		return StateStale, nil
	case errors.Is(err, unix.ENOENT):
		// Removed between Lstat and connect.
		return StateAbsent, nil
	}
	return StateAbsent, fmt.Errorf("probing %s: %w", path, err)
}

// Plan probes every pair's socket path and returns the pairs to bridge.
// Live sockets are skipped when ignoreExisting is set and are an
// ErrSocketInUse error otherwise. Any other probe failure is returned.
func Plan(pairs []Pair, ignoreExisting bool, logger *slog.Logger) ([]Pair, error) {
	if logger == nil {
		logger = slog.Default()
	}

	planned := make([]Pair, 0, len(pairs))
	for _, pair := range pairs {
		state, err := Probe(pair.SocketPath)
		if err != nil {
			return nil, err
		}

		switch state {
		case StateInUse:
			if !ignoreExisting {
				return nil, fmt.Errorf("%s: %w", pair.SocketPath, ErrSocketInUse)
			}
			logger.Info("socket already exists, skipping", "socket_path", pair.SocketPath)
			continue
		case StateStale:
			logger.Debug("taking over stale socket", "socket_path", pair.SocketPath)
		}
		planned = append(planned, pair)
	}
	return planned, nil
}
