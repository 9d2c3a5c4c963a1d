// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the bridge's local control socket.
//
// The protocol is one CBOR request and one CBOR response per
// connection. A request is a map with an "action" field plus any
// action-specific fields; the response is a [Response] envelope
// {ok, error, data}. CBOR is self-delimiting, so no framing is needed.
//
// [Server] dispatches actions to registered [ActionFunc] handlers.
// [Call] is the matching client used by the status subcommand.
package control
