// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build version information, injected at build
// time:
//
//	go build -ldflags "-X github.com/bureau-foundation/assuan-bridge/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/assuan-bridge
package version
