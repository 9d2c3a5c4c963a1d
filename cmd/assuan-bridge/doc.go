// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// assuan-bridge exposes gpg4win's agent sockets to WSL.
//
// gpg4win's gpg-agent publishes its sockets as libassuan descriptor
// files in %APPDATA%\gnupg rather than as Unix sockets. assuan-bridge
// finds those descriptors (detecting the Windows user through cmd.exe
// unless --user is given), creates a Unix socket of the same name in
// ~/.gnupg for each one, and forwards every connection to the agent's
// loopback TCP port with the required nonce handshake.
//
// Usage:
//
//	assuan-bridge [flags]
//	assuan-bridge status [--control-socket path] [--json]
//
// Configuration comes from --config or ASSUAN_BRIDGE_CONFIG (YAML or
// JSONC); flags override file values. SIGINT and SIGTERM shut the
// bridges down, draining open sessions for up to shutdown_timeout.
package main
