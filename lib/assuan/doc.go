// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package assuan reads libassuan socket descriptor files.
//
// On Windows, libassuan has no Unix domain sockets. It emulates them by
// listening on a loopback TCP port and writing a small "socket" file that
// holds the port number and a 16-byte nonce:
//
//	<decimal port>\n<16 raw bytes>
//
// A client connects to 127.0.0.1:<port> and must send the nonce as the
// first 16 bytes on the wire before the server treats the connection as
// authenticated. gpg4win's gpg-agent rebinds to a new port (and writes a
// new nonce) every time it restarts, so descriptors are read fresh for
// every connection. Nothing in this package caches.
//
// [ReadDescriptor] and [ParseDescriptor] return a [Descriptor]. The nonce
// is held in a [Token], whose memory is allocated outside the Go heap,
// locked against swap, excluded from core dumps, and zeroed on Close.
// [Token.Fingerprint] gives a short keyed BLAKE3 digest for log lines and
// status output, so a rotation is visible without printing the secret.
package assuan
