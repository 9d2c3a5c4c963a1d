// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets. Socket paths are limited to 108 bytes (sun_path in
// sockaddr_un) and t.TempDir() paths under a deep TMPDIR can exceed
// that. [WriteDescriptor] writes a libassuan descriptor file the way
// gpg4win does.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never hang on a channel that is never fed.
//
// [UniqueID] returns monotonically increasing identifiers for payloads
// that must be told apart across concurrent connections.
//
// All helpers call t.Fatalf on failure.
package testutil
