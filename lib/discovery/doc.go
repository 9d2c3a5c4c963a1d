// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery decides which sockets to bridge.
//
// gpg4win keeps its libassuan descriptor files in the Windows user's
// roaming gnupg directory, reachable from WSL as
// <users dir>/<user>/AppData/Roaming/gnupg. Every entry whose name
// starts with "S." (S.gpg-agent, S.gpg-agent.extra, S.scdaemon, ...) is
// a descriptor, and gets a Unix socket of the same name in the local
// gnupg directory.
//
// [Discover] resolves the directories (detecting the Windows user via
// cmd.exe when none is configured) and returns one [Pair] per
// descriptor. [Plan] then probes each local path with [Probe] and
// applies the existing-socket policy: a stale socket (nobody accepting)
// is taken over, a live one is skipped or reported as
// [ErrSocketInUse].
//
// Probing is best-effort. Another process can bind the path between the
// probe and the bind; the result is only a pre-flight check.
package discovery
