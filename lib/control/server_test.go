// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/assuan-bridge/lib/codec"
	"github.com/bureau-foundation/assuan-bridge/lib/discovery"
	"github.com/bureau-foundation/assuan-bridge/lib/testutil"
)

type statusResult struct {
	Bridges int    `cbor:"bridges"`
	Version string `cbor:"version"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startServer runs a server with a "status" and a "fail" action and
// returns its socket path. The server stops when the test ends.
func startServer(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), testutil.UniqueID("control")+".sock")

	server := NewServer(socketPath, 0o600, testLogger())
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return statusResult{Bridges: 2, Version: "test"}, nil
	})
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Message string `cbor:"message"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return request.Message, nil
	})
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("deliberate failure")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve to return"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "waiting for control socket")
	return socketPath
}

func TestServer_SocketMode(t *testing.T) {
	socketPath := startServer(t)
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestCall_Status(t *testing.T) {
	socketPath := startServer(t)

	var result statusResult
	if err := Call(context.Background(), socketPath, "status", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Bridges != 2 || result.Version != "test" {
		t.Errorf("result = %+v", result)
	}
}

func TestCall_Fields(t *testing.T) {
	socketPath := startServer(t)

	var message string
	if err := Call(context.Background(), socketPath, "echo", map[string]any{"message": "hello"}, &message); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if message != "hello" {
		t.Errorf("message = %q, want %q", message, "hello")
	}
}

func TestCall_NilResult(t *testing.T) {
	socketPath := startServer(t)
	if err := Call(context.Background(), socketPath, "ping", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestCall_Errors(t *testing.T) {
	socketPath := startServer(t)

	tests := []struct {
		action  string
		message string
	}{
		{"fail", "deliberate failure"},
		{"bogus", `unknown action "bogus"`},
	}
	for _, test := range tests {
		t.Run(test.action, func(t *testing.T) {
			err := Call(context.Background(), socketPath, test.action, nil, nil)
			var actionError *ActionError
			if !errors.As(err, &actionError) {
				t.Fatalf("error = %v, want *ActionError", err)
			}
			if actionError.Message != test.message {
				t.Errorf("message = %q, want %q", actionError.Message, test.message)
			}
		})
	}
}

func TestServer_MissingAction(t *testing.T) {
	socketPath := startServer(t)

	connection, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer connection.Close()

	if err := codec.NewEncoder(connection).Encode(map[string]any{"other": 1}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var response Response
	if err := codec.NewDecoder(connection).Decode(&response); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if response.OK || response.Error != "missing required field: action" {
		t.Errorf("response = %+v", response)
	}
}

func TestCall_NoServer(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "absent.sock")
	err := Call(context.Background(), socketPath, "status", nil, nil)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	var actionError *ActionError
	if errors.As(err, &actionError) {
		t.Errorf("connection failure reported as ActionError: %v", err)
	}
}

func TestServer_RemovesSocketOnReturn(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server := NewServer(socketPath, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "waiting for control socket")

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := os.Stat(socketPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present: %v", err)
	}
}

func TestServer_RefusesNonSocketFile(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	if err := os.WriteFile(socketPath, []byte("keep me"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err := NewServer(socketPath, 0, testLogger()).Serve(context.Background())
	if !errors.Is(err, discovery.ErrNotSocket) {
		t.Fatalf("Serve = %v, want ErrNotSocket", err)
	}
	data, readError := os.ReadFile(socketPath)
	if readError != nil || string(data) != "keep me" {
		t.Errorf("regular file was modified: %q, %v", data, readError)
	}
}

func TestServer_RefusesLiveSocket(t *testing.T) {
	socketPath := startServer(t)

	err := NewServer(socketPath, 0, testLogger()).Serve(context.Background())
	if !errors.Is(err, discovery.ErrSocketInUse) {
		t.Fatalf("Serve = %v, want ErrSocketInUse", err)
	}

	// The first server still answers.
	if err := Call(context.Background(), socketPath, "ping", nil, nil); err != nil {
		t.Fatalf("Call after refused takeover: %v", err)
	}
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	listener.SetUnlinkOnClose(false)
	listener.Close()

	server := NewServer(socketPath, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "waiting for control socket over stale file")

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServer_DuplicateHandlerPanics(t *testing.T) {
	server := NewServer("unused", 0, testLogger())
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate handler")
		}
	}()
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
}
