// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ExitError carries a specific exit status out of run(). Message may be
// empty when the failure has already been logged.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Message
}

// Fatal reports err on stderr, prefixed with the binary name, and exits.
// The exit status is 1 unless err wraps an *ExitError.
func Fatal(err error) {
	os.Exit(report(os.Stderr, filepath.Base(os.Args[0]), err))
}

func report(w io.Writer, program string, err error) int {
	var exitError *ExitError
	if errors.As(err, &exitError) {
		if exitError.Message != "" {
			fmt.Fprintf(w, "%s: %s\n", program, exitError.Message)
		}
		return exitError.Code
	}
	fmt.Fprintf(w, "%s: error: %v\n", program, err)
	return 1
}
