// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// SocketDir creates a temporary directory directly under /tmp, short
// enough for Unix socket paths. Removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "assuan-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// WriteDescriptor writes "<port>\n<token>" to directory/name and returns
// the path. Overwrites an existing file, which is how tests simulate an
// agent restart.
func WriteDescriptor(t *testing.T, directory, name string, port int, token []byte) string {
	t.Helper()
	path := filepath.Join(directory, name)
	content := append([]byte(strconv.Itoa(port)+"\n"), token...)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("writing descriptor %s: %v", path, err)
	}
	return path
}
