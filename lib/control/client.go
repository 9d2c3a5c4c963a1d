// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/assuan-bridge/lib/codec"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = readTimeout + writeTimeout
	maxResponseSize     = 1024 * 1024
)

// ActionError is returned by Call when the server answers ok=false.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("control action %q failed: %s", e.Action, e.Message)
}

// Call sends action with optional extra fields to the control socket
// at socketPath and decodes the response data into result (if both are
// non-nil). A server-side failure is an *ActionError.
func Call(ctx context.Context, socketPath, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := send(ctx, socketPath, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, socketPath, err)
	}
	if !response.OK {
		return &ActionError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func send(ctx context.Context, socketPath string, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	connection, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer connection.Close()

	if deadline, ok := ctx.Deadline(); ok {
		connection.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(connection).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConnection, ok := connection.(*net.UnixConn); ok {
		unixConnection.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		connection.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	var response Response
	if err := codec.NewDecoder(io.LimitReader(connection, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
