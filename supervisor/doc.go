// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs a set of bridges as one service.
//
// [Supervisor.Run] starts a [bridge.Bridge] per configuration, skipping
// (and logging) any whose descriptor or socket path is unusable, then
// brings up the optional control socket and metrics endpoint. It blocks
// until its context is cancelled, which is how the command delivers
// SIGINT and SIGTERM, and then shuts every bridge down concurrently,
// force-closing sessions that outlive ShutdownTimeout.
package supervisor
