// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used by the control socket.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Decoding
// ignores unknown fields so older clients can talk to newer servers.
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
