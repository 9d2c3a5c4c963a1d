// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// DescriptorPrefix marks descriptor files in the gpg4win home directory.
const DescriptorPrefix = "S."

// ErrNoDescriptors is returned when the remote directory holds no
// descriptor files, which usually means gpg-agent is not running.
var ErrNoDescriptors = errors.New("no gpg sockets found, please make sure the gpg4win agent is running")

// Pair is one socket to bridge.
type Pair struct {
	// Name is the descriptor file name, shared by the local socket.
	Name string

	// SocketPath is the local Unix socket path.
	SocketPath string

	// DescriptorPath is the remote libassuan descriptor file.
	DescriptorPath string
}

// Runner executes a command and returns its standard output. Tests
// substitute a fake; production uses ExecRunner.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec. A non-zero exit includes
// the command's stderr in the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, name, args...)
	command.Stderr = &stderr
	output, err := command.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return output, nil
}

// DetectUser asks Windows for the current user name via cmd.exe, the
// only interop path that works without extra tooling inside WSL.
func DetectUser(ctx context.Context, run Runner) (string, error) {
	output, err := run(ctx, "cmd.exe", "/c", "echo %USERNAME%")
	if err != nil {
		return "", fmt.Errorf("unable to determine Windows username: %w", err)
	}
	user := strings.TrimSpace(string(output))
	if user == "" || user == "%USERNAME%" {
		return "", fmt.Errorf("unable to determine Windows username: cmd.exe returned %q", user)
	}
	return user, nil
}

// Options locates the directories for Discover.
type Options struct {
	// UsersDir is the Windows users directory, e.g. /mnt/c/Users.
	UsersDir string

	// User is the Windows user name. Detected when empty and RemoteDir
	// is empty.
	User string

	// RemoteDir, when set, is used as the gpg4win home directly.
	RemoteDir string

	// LocalDir is where local sockets are created. Must exist.
	LocalDir string

	// Run executes external commands. Defaults to ExecRunner.
	Run Runner
}

// Discover returns one Pair per descriptor file, sorted by name.
func Discover(ctx context.Context, options Options) ([]Pair, error) {
	remoteDir, err := resolveRemoteDir(ctx, options)
	if err != nil {
		return nil, err
	}

	names, err := ListDescriptors(remoteDir)
	if err != nil {
		return nil, err
	}

	if err := requireDirectory(options.LocalDir, "local gnupg directory"); err != nil {
		return nil, err
	}

	pairs := make([]Pair, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, Pair{
			Name:           name,
			SocketPath:     filepath.Join(options.LocalDir, name),
			DescriptorPath: filepath.Join(remoteDir, name),
		})
	}
	return pairs, nil
}

func resolveRemoteDir(ctx context.Context, options Options) (string, error) {
	if options.RemoteDir != "" {
		if err := requireDirectory(options.RemoteDir, "GnuPG directory"); err != nil {
			return "", err
		}
		return options.RemoteDir, nil
	}

	if err := requireDirectory(options.UsersDir, "user directory"); err != nil {
		return "", err
	}

	user := options.User
	if user == "" {
		run := options.Run
		if run == nil {
			run = ExecRunner
		}
		var err error
		if user, err = DetectUser(ctx, run); err != nil {
			return "", err
		}
	}

	home := filepath.Join(options.UsersDir, user)
	if err := requireDirectory(home, "user's Windows profile directory"); err != nil {
		return "", err
	}

	remoteDir := RemoteDir(options.UsersDir, user)
	if err := requireDirectory(remoteDir, "GnuPG directory"); err != nil {
		return "", err
	}
	return remoteDir, nil
}

// RemoteDir returns the gpg4win home directory for user.
func RemoteDir(usersDir, user string) string {
	return filepath.Join(usersDir, user, "AppData", "Roaming", "gnupg")
}

// ListDescriptors returns the descriptor file names in dir, sorted.
func ListDescriptors(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), DescriptorPrefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, ErrNoDescriptors
	}
	sort.Strings(names)
	return names, nil
}

func requireDirectory(path, what string) error {
	if path == "" {
		return fmt.Errorf("%s is not configured", what)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s does not exist: %s", what, path)
		}
		return fmt.Errorf("checking %s %s: %w", what, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %s", what, path)
	}
	return nil
}
