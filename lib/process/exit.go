// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
func Fatal(err error) {
	Report(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// Report writes the standard one-line error message to w.
func Report(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}

// ExitCode returns the status for err: the value of an ExitCode method
// if err has one, 0 for nil, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		return coder.ExitCode()
	}
	return 1
}
