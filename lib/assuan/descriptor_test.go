// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assuan

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testToken is a fixed 16-byte nonce containing a newline and a NUL so
// that tests catch any parser that splits on more than the first line.
var testToken = []byte("ab\ncd\x00efgh\xffijklm")

func descriptorBytes(port string, token []byte) []byte {
	return append([]byte(port+"\n"), token...)
}

func TestParseDescriptor_Valid(t *testing.T) {
	tests := []struct {
		name string
		port string
		want int
	}{
		{"typical", "12345", 12345},
		{"lowest", "1", 1},
		{"highest", "65535", 65535},
		{"carriage return", "50000\r", 50000},
		{"padded", " 4242 ", 4242},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			descriptor, err := ParseDescriptor(descriptorBytes(test.port, testToken))
			if err != nil {
				t.Fatalf("ParseDescriptor: %v", err)
			}
			defer descriptor.Close()

			if descriptor.Port != test.want {
				t.Errorf("port: got %d, want %d", descriptor.Port, test.want)
			}
			if !bytes.Equal(descriptor.Token.Bytes(), testToken) {
				t.Errorf("token: got %q, want %q", descriptor.Token.Bytes(), testToken)
			}
		})
	}
}

func TestParseDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"no separator", []byte("12345")},
		{"non-numeric port", descriptorBytes("gpg", testToken)},
		{"empty port", descriptorBytes("", testToken)},
		{"zero port", descriptorBytes("0", testToken)},
		{"negative port", descriptorBytes("-1", testToken)},
		{"port one past range", descriptorBytes("65536", testToken)},
		{"huge port", descriptorBytes("99999999999999999999", testToken)},
		{"15 byte token", descriptorBytes("12345", testToken[:15])},
		{"17 byte token", descriptorBytes("12345", append(append([]byte{}, testToken...), 'x'))},
		{"empty token", descriptorBytes("12345", nil)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			descriptor, err := ParseDescriptor(test.data)
			if err == nil {
				descriptor.Close()
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
			}
			if descriptor != nil {
				t.Fatalf("expected nil descriptor on error, got %+v", descriptor)
			}
		})
	}
}

func TestParseDescriptor_DoesNotModifyInput(t *testing.T) {
	data := descriptorBytes("12345", testToken)
	original := append([]byte{}, data...)

	descriptor, err := ParseDescriptor(data)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	defer descriptor.Close()

	if !bytes.Equal(data, original) {
		t.Fatal("ParseDescriptor modified its input")
	}
}

func TestDescriptorAddress(t *testing.T) {
	descriptor, err := ParseDescriptor(descriptorBytes("12345", testToken))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	defer descriptor.Close()

	if got := descriptor.Address(); got != "127.0.0.1:12345" {
		t.Fatalf("Address: got %q", got)
	}
}

func TestReadDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S.gpg-agent")
	if err := os.WriteFile(path, descriptorBytes("12345", testToken), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	descriptor, err := ReadDescriptor(path)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	defer descriptor.Close()

	if descriptor.Port != 12345 {
		t.Errorf("port: got %d, want 12345", descriptor.Port)
	}
	if !descriptor.Token.Equal(testToken) {
		t.Error("token mismatch")
	}
}

func TestReadDescriptor_RereadsAfterRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S.gpg-agent")
	if err := os.WriteFile(path, descriptorBytes("12345", testToken), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	first, err := ReadDescriptor(path)
	if err != nil {
		t.Fatalf("first ReadDescriptor: %v", err)
	}
	defer first.Close()

	rotated := []byte("0123456789abcdef")
	if err := os.WriteFile(path, descriptorBytes("23456", rotated), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	second, err := ReadDescriptor(path)
	if err != nil {
		t.Fatalf("second ReadDescriptor: %v", err)
	}
	defer second.Close()

	if second.Port != 23456 {
		t.Errorf("port after rewrite: got %d, want 23456", second.Port)
	}
	if !second.Token.Equal(rotated) {
		t.Error("token after rewrite was not re-read")
	}
	if first.Token.Fingerprint() == second.Token.Fingerprint() {
		t.Error("expected fingerprint to change with the token")
	}
}

func TestReadDescriptor_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S.missing")
	_, err := ReadDescriptor(path)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if errors.Is(err, ErrInvalidDescriptor) {
		t.Fatal("a missing file is a read failure, not a malformed descriptor")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestReadDescriptor_ErrorNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S.short")
	if err := os.WriteFile(path, descriptorBytes("12345", testToken[:15]), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := ReadDescriptor(path)
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("error %q does not mention %s", err, path)
	}
}
