// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assuan-bridge/lib/config"
	"github.com/bureau-foundation/assuan-bridge/lib/control"
	"github.com/bureau-foundation/assuan-bridge/supervisor"
)

const statusTimeout = 10 * time.Second

// runStatus queries a running bridge over its control socket.
func runStatus(args []string, stdout, stderr io.Writer) error {
	var configPath, controlSocket string
	var jsonOutput bool

	flagSet := pflag.NewFlagSet("assuan-bridge status", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "config file naming the control socket")
	flagSet.StringVar(&controlSocket, "control-socket", "", "control socket of the running bridge")
	flagSet.BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(stdout, "Usage: assuan-bridge status [flags]\n\n%s", flagSet.FlagUsages())
			return nil
		}
		return err
	}

	if controlSocket == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		controlSocket = cfg.ControlSocket
	}
	if controlSocket == "" {
		return fmt.Errorf("no control socket configured (set control_socket or pass --control-socket)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	var status supervisor.Status
	if err := control.Call(ctx, controlSocket, "status", nil, &status); err != nil {
		return err
	}

	if jsonOutput {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	}
	return printStatus(stdout, status)
}

func printStatus(w io.Writer, status supervisor.Status) error {
	fmt.Fprintf(w, "version: %s\nuptime:  %s\n\n", status.Version,
		(time.Duration(status.UptimeSeconds) * time.Second).String())

	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "SOCKET\tPORT\tNONCE\tACTIVE\tACCEPTED\tFAILED\tTO AGENT\tTO CLIENT\n")
	for _, b := range status.Bridges {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
			b.SocketPath, b.UpstreamPort, b.TokenFingerprint,
			b.ActiveSessions, b.Accepted, b.Failed,
			b.BytesToUpstream, b.BytesToLocal)
	}
	return tw.Flush()
}
