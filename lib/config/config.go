// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "ASSUAN_BRIDGE_CONFIG"

// Config is the complete runtime configuration.
type Config struct {
	// UsersDir is the Windows users directory as mounted in WSL.
	UsersDir string `yaml:"users_dir" json:"users_dir"`

	// User is the Windows user running gpg4win. Empty means detect it
	// by asking cmd.exe.
	User string `yaml:"user" json:"user"`

	// RemoteDir overrides the gpg4win home directory that holds the
	// descriptor files. Empty means <UsersDir>/<User>/AppData/Roaming/gnupg.
	RemoteDir string `yaml:"remote_dir" json:"remote_dir"`

	// LocalDir is where the Unix sockets are created.
	LocalDir string `yaml:"local_dir" json:"local_dir"`

	// IgnoreExisting skips sockets that another process is already
	// serving instead of failing.
	IgnoreExisting bool `yaml:"ignore_existing" json:"ignore_existing"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log" json:"log"`

	// MetricsAddr, if set, serves Prometheus metrics and health checks
	// on this TCP address.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	// ControlSocket, if set, serves the CBOR status protocol on this
	// Unix socket path.
	ControlSocket string `yaml:"control_socket" json:"control_socket"`

	// SocketMode is the octal permission mode applied to each bridge
	// socket. Default: 0600.
	SocketMode string `yaml:"socket_mode" json:"socket_mode"`

	// DialTimeout bounds the upstream TCP connect. Default: 5s.
	DialTimeout string `yaml:"dial_timeout" json:"dial_timeout"`

	// ShutdownTimeout bounds how long in-flight sessions may drain
	// after an interrupt before they are closed. Default: 5s.
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Bridges lists explicit socket/descriptor pairs. When non-empty,
	// directory discovery is skipped.
	Bridges []BridgeConfig `yaml:"bridges" json:"bridges"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level" json:"level"`

	// Format is one of auto, text, json. Auto picks text when stderr
	// is a terminal and JSON otherwise. Default: auto.
	Format string `yaml:"format" json:"format"`
}

// BridgeConfig is one explicit socket/descriptor pair.
type BridgeConfig struct {
	// Socket is the local Unix socket path to listen on.
	Socket string `yaml:"socket" json:"socket"`

	// Descriptor is the libassuan descriptor file to bridge to.
	Descriptor string `yaml:"descriptor" json:"descriptor"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

// Default returns the built-in configuration, before variable expansion.
func Default() *Config {
	return &Config{
		UsersDir: "/mnt/c/Users",
		LocalDir: "${HOME}/.gnupg",
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		SocketMode:      "0600",
		DialTimeout:     "5s",
		ShutdownTimeout: "5s",
	}
}

// Load loads path, or the file named by ASSUAN_BRIDGE_CONFIG when path
// is empty. With neither, it returns the expanded defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.ExpandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults and expands
// variables in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.ExpandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	switch extension := strings.ToLower(filepath.Ext(path)); extension {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml, .json or .jsonc)", path, extension)
	}
	return nil
}

// ExpandVariables expands ${VAR} references in path fields. Load does
// this already; call it again after overriding fields from flags.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.UsersDir = expandVars(c.UsersDir, vars)
	c.RemoteDir = expandVars(c.RemoteDir, vars)
	c.LocalDir = expandVars(c.LocalDir, vars)
	c.ControlSocket = expandVars(c.ControlSocket, vars)
	for index := range c.Bridges {
		c.Bridges[index].Socket = expandVars(c.Bridges[index].Socket, vars)
		c.Bridges[index].Descriptor = expandVars(c.Bridges[index].Descriptor, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of %v, got %q", logLevels, c.Log.Level))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of %v, got %q", logFormats, c.Log.Format))
	}
	if _, err := c.SocketFileMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DialTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ShutdownTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	if len(c.Bridges) == 0 {
		if c.LocalDir == "" {
			errs = append(errs, fmt.Errorf("local_dir is required"))
		}
		if c.RemoteDir == "" && c.UsersDir == "" {
			errs = append(errs, fmt.Errorf("users_dir or remote_dir is required"))
		}
	}
	for index, bridge := range c.Bridges {
		if bridge.Socket == "" {
			errs = append(errs, fmt.Errorf("bridges[%d].socket is required", index))
		}
		if bridge.Descriptor == "" {
			errs = append(errs, fmt.Errorf("bridges[%d].descriptor is required", index))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SocketFileMode parses SocketMode as an octal permission mode.
func (c *Config) SocketFileMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.SocketMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("socket_mode must be an octal permission like 0600, got %q", c.SocketMode)
	}
	return os.FileMode(mode), nil
}

// DialTimeoutDuration parses DialTimeout.
func (c *Config) DialTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("dial_timeout", c.DialTimeout)
}

// ShutdownTimeoutDuration parses ShutdownTimeout.
func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("shutdown_timeout", c.ShutdownTimeout)
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}
