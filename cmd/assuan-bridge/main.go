// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/assuan-bridge/bridge"
	"github.com/bureau-foundation/assuan-bridge/lib/config"
	"github.com/bureau-foundation/assuan-bridge/lib/discovery"
	"github.com/bureau-foundation/assuan-bridge/lib/process"
	"github.com/bureau-foundation/assuan-bridge/lib/version"
	"github.com/bureau-foundation/assuan-bridge/supervisor"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

// options holds the parsed command line.
type options struct {
	configPath     string
	user           string
	usersDir       string
	ignoreExisting bool
	quiet          bool
	verbose        bool
	metricsAddr    string
	controlSocket  string
	showVersion    bool
	showHelp       bool

	flagSet *pflag.FlagSet
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var parsed options
	flagSet := pflag.NewFlagSet("assuan-bridge", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&parsed.configPath, "config", "", "config file (YAML or JSONC; default: $"+config.EnvironmentVariable+")")
	flagSet.StringVarP(&parsed.user, "user", "u", "", "Windows user name (default: detected via cmd.exe)")
	flagSet.StringVar(&parsed.usersDir, "users-dir", "", "Windows users directory (default: /mnt/c/Users)")
	flagSet.BoolVarP(&parsed.ignoreExisting, "ignore-existing", "i", false, "skip sockets that are already being served instead of failing")
	flagSet.BoolVarP(&parsed.quiet, "quiet", "q", false, "only log warnings and errors")
	flagSet.BoolVarP(&parsed.verbose, "verbose", "v", false, "log every connection")
	flagSet.StringVar(&parsed.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.StringVar(&parsed.controlSocket, "control-socket", "", "serve the status protocol on this Unix socket")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version and exit")
	flagSet.BoolVarP(&parsed.showHelp, "help", "h", false, "show help")
	flagSet.Usage = func() {}
	parsed.flagSet = flagSet

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			parsed.showHelp = true
			return &parsed, nil
		}
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if parsed.quiet && parsed.verbose {
		return nil, fmt.Errorf("--quiet and --verbose are mutually exclusive")
	}
	return &parsed, nil
}

// loadConfig loads the config file and applies flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	changed := o.flagSet.Changed
	if changed("user") {
		cfg.User = o.user
	}
	if changed("users-dir") {
		cfg.UsersDir = o.usersDir
	}
	if changed("ignore-existing") {
		cfg.IgnoreExisting = o.ignoreExisting
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if changed("control-socket") {
		cfg.ControlSocket = o.controlSocket
	}
	switch {
	case o.quiet:
		cfg.Log.Level = "warn"
	case o.verbose:
		cfg.Log.Level = "debug"
	}
	cfg.ExpandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "status" {
		return runStatus(args[1:], stdout, stderr)
	}

	parsed, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if parsed.showVersion {
		fmt.Fprintf(stdout, "assuan-bridge %s\n", version.Full())
		return nil
	}
	if parsed.showHelp {
		printUsage(stdout, parsed.flagSet)
		return nil
	}

	cfg, err := parsed.loadConfig()
	if err != nil {
		return err
	}

	stderrFile, isFile := stderr.(*os.File)
	terminal := isFile && term.IsTerminal(int(stderrFile.Fd()))
	logger, err := newLogger(stderr, cfg.Log, terminal)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configs, err := planBridges(ctx, cfg, discovery.ExecRunner, logger)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		logger.Info("no socket bridges to create, exiting")
		return nil
	}

	socketMode, _ := cfg.SocketFileMode()
	dialTimeout, _ := cfg.DialTimeoutDuration()
	shutdownTimeout, _ := cfg.ShutdownTimeoutDuration()

	s := &supervisor.Supervisor{
		SocketMode:      socketMode,
		DialTimeout:     dialTimeout,
		ShutdownTimeout: shutdownTimeout,
		ControlSocket:   cfg.ControlSocket,
		MetricsAddr:     cfg.MetricsAddr,
		Logger:          logger,
	}
	return s.Run(ctx, configs)
}

// planBridges turns the configuration into bridge configs: explicit
// bridges from the file, otherwise discovery in the gpg4win home. Live
// sockets are skipped or rejected according to ignore_existing.
func planBridges(ctx context.Context, cfg *config.Config, runner discovery.Runner, logger *slog.Logger) ([]bridge.Config, error) {
	var pairs []discovery.Pair
	if len(cfg.Bridges) > 0 {
		for _, explicit := range cfg.Bridges {
			pairs = append(pairs, discovery.Pair{
				SocketPath:     explicit.Socket,
				DescriptorPath: explicit.Descriptor,
			})
		}
	} else {
		discovered, err := discovery.Discover(ctx, discovery.Options{
			UsersDir:  cfg.UsersDir,
			User:      cfg.User,
			RemoteDir: cfg.RemoteDir,
			LocalDir:  cfg.LocalDir,
			Run:       runner,
		})
		if err != nil {
			return nil, err
		}
		pairs = discovered
	}

	planned, err := discovery.Plan(pairs, cfg.IgnoreExisting, logger)
	if err != nil {
		return nil, err
	}

	configs := make([]bridge.Config, 0, len(planned))
	for _, pair := range planned {
		configs = append(configs, bridge.Config{
			Name:           pair.Name,
			SocketPath:     pair.SocketPath,
			DescriptorPath: pair.DescriptorPath,
		})
	}
	return configs, nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `assuan-bridge - expose gpg4win agent sockets to WSL

USAGE
    assuan-bridge [flags]
    assuan-bridge status [--control-socket <path>] [--json]

Each libassuan descriptor (S.*) in the Windows gnupg directory gets a
Unix socket of the same name in ~/.gnupg. Connections are forwarded to
the agent's loopback TCP port after sending the descriptor's nonce.

FLAGS
%s`, flagSet.FlagUsages())
}
