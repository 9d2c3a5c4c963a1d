// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assuan

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/zeebo/blake3"
)

// fingerprintKey separates token fingerprints from any other BLAKE3 use
// of the same bytes. ASCII name, zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'a', 's', 's', 'u', 'a', 'n', '.', 't', 'o', 'k', 'e', 'n', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
}

// fingerprintSize is the number of digest bytes shown in a fingerprint.
const fingerprintSize = 8

// Token holds a descriptor nonce outside the Go heap where the platform
// allows it. On Linux the nonce lives in an anonymous mmap region that is
// mlocked and marked MADV_DONTDUMP, so the runtime never copies it
// around. When RLIMIT_MEMLOCK is exhausted the region stays unlocked;
// Protected reports which case applies. The bytes are zeroed on Close
// either way.
//
// A Token must not be copied. Any access after Close panics.
type Token struct {
	mu        sync.Mutex
	region    []byte
	size      int
	protected bool
	closed    bool
}

// newToken copies source into a fresh region. source is left untouched;
// callers own zeroing their own buffers.
func newToken(source []byte) (*Token, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("assuan: empty token")
	}

	region, protected, err := allocateRegion(len(source))
	if err != nil {
		return nil, err
	}
	copy(region, source)
	return &Token{region: region, size: len(source), protected: protected}, nil
}

// Protected reports whether the token memory is locked against swapping
// and excluded from core dumps.
func (t *Token) Protected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protected
}

// Bytes returns the token. The slice aliases the token region and is
// invalid after Close.
func (t *Token) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeOpen()
	return t.region[:t.size]
}

// Len returns the token length.
func (t *Token) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Equal reports whether other matches the token, in constant time.
func (t *Token) Equal(other []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeOpen()
	return subtle.ConstantTimeCompare(t.region[:t.size], other) == 1
}

// WriteTo writes the whole token to w in a single Write call. This is
// the authentication handshake.
func (t *Token) WriteTo(w io.Writer) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeOpen()

	written, err := w.Write(t.region[:t.size])
	if err == nil && written != t.size {
		err = io.ErrShortWrite
	}
	return int64(written), err
}

// Fingerprint returns the first bytes of a keyed BLAKE3 digest of the
// token, hex encoded. Two descriptors with the same nonce have the same
// fingerprint.
func (t *Token) Fingerprint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeOpen()

	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("assuan: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(t.region[:t.size])
	var digest [32]byte
	hasher.Sum(digest[:0])
	return hex.EncodeToString(digest[:fingerprintSize])
}

// Close zeroes and releases the token memory. Idempotent.
func (t *Token) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	zero(t.region)
	err := releaseRegion(t.region, t.protected)
	t.region = nil
	return err
}

func (t *Token) mustBeOpen() {
	if t.closed {
		panic("assuan: use of closed token")
	}
}

func zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
