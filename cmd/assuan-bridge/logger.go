// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/assuan-bridge/lib/config"
)

// newLogger builds the process logger. Format "auto" picks the text
// handler when stderr is a terminal and JSON when it is piped or
// redirected (systemd, scripts).
func newLogger(w io.Writer, settings config.LogConfig, terminal bool) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}

	useText := terminal
	switch settings.Format {
	case "text":
		useText = true
	case "json":
		useText = false
	}

	var handler slog.Handler
	if useText {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler), nil
}
