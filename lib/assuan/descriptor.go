// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assuan

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
)

// TokenSize is the length of the nonce in a descriptor file.
const TokenSize = 16

// MaxPort is the largest port number a descriptor may name.
const MaxPort = 65535

// ErrInvalidDescriptor is wrapped by every parse failure: a missing line
// separator, a port that is not a decimal integer or is outside
// [1, MaxPort], or a token that is not exactly TokenSize bytes.
var ErrInvalidDescriptor = errors.New("assuan: invalid descriptor")

// Descriptor is the parsed content of a libassuan socket file.
type Descriptor struct {
	// Port is the loopback TCP port the service listens on.
	Port int

	// Token is the nonce that must be written to the connection before
	// any other traffic. Owned by the Descriptor; released by Close.
	Token *Token
}

// Address returns the dial address of the service.
func (d *Descriptor) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(d.Port))
}

// Close releases the token memory. Safe to call more than once.
func (d *Descriptor) Close() error {
	if d.Token == nil {
		return nil
	}
	return d.Token.Close()
}

// ReadDescriptor reads and parses the descriptor file at path. The file
// is read on every call.
func ReadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor %s: %w", path, err)
	}
	defer zero(data)

	descriptor, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return descriptor, nil
}

// ParseDescriptor parses descriptor file content. The port line may carry
// surrounding whitespace (including a Windows '\r'); the token is taken
// verbatim after the first '\n'. On success the token bytes are copied
// into a Token (locked memory where the limit allows); data is not
// modified.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	portLine, token, found := bytes.Cut(data, []byte{'\n'})
	if !found {
		return nil, fmt.Errorf("%w: missing line separator after port", ErrInvalidDescriptor)
	}

	port, err := strconv.Atoi(string(bytes.TrimSpace(portLine)))
	if err != nil {
		return nil, fmt.Errorf("%w: port %q is not a number", ErrInvalidDescriptor, portLine)
	}
	if port <= 0 || port > MaxPort {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, port)
	}

	if len(token) != TokenSize {
		return nil, fmt.Errorf("%w: expected %d byte token, got %d", ErrInvalidDescriptor, TokenSize, len(token))
	}

	locked, err := newToken(token)
	if err != nil {
		return nil, err
	}
	return &Descriptor{Port: port, Token: locked}, nil
}
