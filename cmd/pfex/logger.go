// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// levelTrace is one step more verbose than debug.
const levelTrace = slog.LevelDebug - 4

// verbosityLevel maps --verbosity to a minimum log level.
func verbosityLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelWarn
	case verbosity == 2:
		return slog.LevelInfo
	case verbosity == 3:
		return slog.LevelDebug
	default:
		return levelTrace
	}
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(verbosity int) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: verbosityLevel(verbosity)}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
