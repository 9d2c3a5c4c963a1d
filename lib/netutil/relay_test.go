// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/assuan-bridge/lib/testutil"
)

// connectedPair returns both ends of a fresh Unix socket connection.
func connectedPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "pair.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		connection, acceptError := listener.Accept()
		if acceptError != nil {
			close(accepted)
			return
		}
		accepted <- connection
	}()

	client, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := testutil.RequireReceive(t, accepted, 5*time.Second, "accepting pair connection")
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client.(*net.UnixConn), server.(*net.UnixConn)
}

// relayFixture wires endA <-> relayA ==Relay== relayB <-> endB.
type relayFixture struct {
	endA, endB *net.UnixConn
	done       chan RelayResult
}

func startRelay(t *testing.T, options RelayOptions) *relayFixture {
	t.Helper()
	endA, relayA := connectedPair(t)
	relayB, endB := connectedPair(t)

	fixture := &relayFixture{endA: endA, endB: endB, done: make(chan RelayResult, 1)}
	go func() {
		fixture.done <- Relay(relayA, relayB, options)
	}()
	return fixture
}

func TestRelay_HalfCloseBothWays(t *testing.T) {
	fixture := startRelay(t, RelayOptions{})

	if _, err := fixture.endA.Write([]byte("request")); err != nil {
		t.Fatalf("write A: %v", err)
	}
	if err := fixture.endA.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite A: %v", err)
	}

	// B must see EOF after the request; if the relay did not propagate
	// the half-close this read never returns.
	received, err := io.ReadAll(fixture.endB)
	if err != nil {
		t.Fatalf("ReadAll B: %v", err)
	}
	if string(received) != "request" {
		t.Fatalf("B received %q", received)
	}

	// The reverse direction still works after A's half-close.
	if _, err := fixture.endB.Write([]byte("response")); err != nil {
		t.Fatalf("write B: %v", err)
	}
	if err := fixture.endB.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite B: %v", err)
	}
	received, err = io.ReadAll(fixture.endA)
	if err != nil {
		t.Fatalf("ReadAll A: %v", err)
	}
	if string(received) != "response" {
		t.Fatalf("A received %q", received)
	}

	result := testutil.RequireReceive(t, fixture.done, 5*time.Second, "relay completion")
	if result.Err != nil {
		t.Fatalf("relay error: %v", result.Err)
	}
	if result.BytesAToB != int64(len("request")) || result.BytesBToA != int64(len("response")) {
		t.Fatalf("byte counts: a_to_b=%d b_to_a=%d", result.BytesAToB, result.BytesBToA)
	}
}

func TestRelay_ChunksBoundedAndCounted(t *testing.T) {
	var (
		mu     sync.Mutex
		chunks = map[Direction][]int{}
	)
	fixture := startRelay(t, RelayOptions{
		ChunkSize: 8,
		OnChunk: func(direction Direction, size int) {
			mu.Lock()
			chunks[direction] = append(chunks[direction], size)
			mu.Unlock()
		},
	})

	payload := bytes.Repeat([]byte("0123456789"), 10)
	go func() {
		fixture.endA.Write(payload)
		fixture.endA.CloseWrite()
	}()

	received, err := io.ReadAll(fixture.endB)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(received, payload) {
		t.Fatalf("payload mismatch: got %d bytes", len(received))
	}
	fixture.endB.CloseWrite()
	testutil.RequireReceive(t, fixture.done, 5*time.Second, "relay completion")

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, size := range chunks[AToB] {
		if size > 8 {
			t.Errorf("chunk of %d bytes exceeds chunk size", size)
		}
		total += size
	}
	if total != len(payload) {
		t.Fatalf("OnChunk saw %d bytes, want %d", total, len(payload))
	}
	if len(chunks[BToA]) != 0 {
		t.Fatalf("unexpected reverse chunks: %v", chunks[BToA])
	}
}

func TestRelay_PeerCloseEndsRelay(t *testing.T) {
	fixture := startRelay(t, RelayOptions{})

	fixture.endA.Close()
	if _, err := io.ReadAll(fixture.endB); err != nil {
		t.Fatalf("ReadAll B: %v", err)
	}
	fixture.endB.Close()

	// Half-closing a socket whose peer is gone may report an error on
	// some kernels; only completion matters here.
	testutil.RequireReceive(t, fixture.done, 5*time.Second, "relay completion after both peers closed")
}

// tcpPair returns both ends of a fresh loopback TCP connection.
func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		connection, acceptError := listener.Accept()
		if acceptError != nil {
			close(accepted)
			return
		}
		accepted <- connection
	}()

	client, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := testutil.RequireReceive(t, accepted, 5*time.Second, "accepting pair connection")
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client.(*net.TCPConn), server.(*net.TCPConn)
}

func TestRelay_ResetUnblocksOtherDirection(t *testing.T) {
	endA, relayA := tcpPair(t)
	relayB, endB := tcpPair(t)

	done := make(chan RelayResult, 1)
	go func() {
		done <- Relay(relayA, relayB, RelayOptions{})
	}()

	// Prove the relay is running before the reset, so the A->B
	// direction is parked in a read on relayA.
	endB.Write([]byte("ping"))
	endA.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(endA, make([]byte, 4)); err != nil {
		t.Fatalf("ReadFull A: %v", err)
	}

	// A zero linger makes Close send RST instead of FIN.
	if err := endB.SetLinger(0); err != nil {
		t.Fatalf("SetLinger: %v", err)
	}
	endB.Close()

	testutil.RequireReceive(t, done, 5*time.Second, "relay completion after reset")

	// relayA was closed by the relay, so endA sees a clean EOF.
	if _, err := io.ReadAll(endA); err != nil {
		t.Fatalf("ReadAll A after reset: %v", err)
	}
}

// failingConn fails every Read with err.
type failingConn struct {
	net.Conn
	err error
}

func (c failingConn) Read([]byte) (int, error) { return 0, c.err }

func TestRelay_ReadErrorClosesBothSides(t *testing.T) {
	endA, relayA := connectedPair(t)
	relayB, _ := connectedPair(t)

	injected := errors.New("injected read failure")
	done := make(chan RelayResult, 1)
	go func() {
		done <- Relay(relayA, failingConn{Conn: relayB, err: injected}, RelayOptions{})
	}()

	result := testutil.RequireReceive(t, done, 5*time.Second, "relay completion after read error")
	if !errors.Is(result.Err, injected) {
		t.Fatalf("Err = %v, want injected failure", result.Err)
	}

	// The A->B direction was blocked reading relayA; the relay must have
	// closed relayA to end it.
	endA.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadAll(endA); err != nil {
		t.Fatalf("ReadAll A: %v", err)
	}
}

func TestDirectionString(t *testing.T) {
	if AToB.String() != "a_to_b" || BToA.String() != "b_to_a" {
		t.Fatalf("unexpected direction names %q %q", AToB, BToA)
	}
}
