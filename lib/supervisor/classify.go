// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"log/slog"
	"strings"
	"sync"
)

// Stream identifies which of the child's output pipes a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Classifier assigns a log level to one line of child output. It is
// called from one goroutine per stream.
type Classifier interface {
	Classify(stream Stream, text string) slog.Level
}

// DefaultTracebackMarker opens a Python traceback.
const DefaultTracebackMarker = "Traceback (most recent call last):"

// MarkerClassifier logs stdout at debug and stderr at warn. A line
// containing Marker, and every later line on the same stream, is an
// error: once a traceback starts, the rest of that stream belongs to it.
type MarkerClassifier struct {
	Marker string

	mu       sync.Mutex
	escalate [2]bool
}

// NewMarkerClassifier returns a classifier for marker, or for
// DefaultTracebackMarker when marker is empty.
func NewMarkerClassifier(marker string) *MarkerClassifier {
	if marker == "" {
		marker = DefaultTracebackMarker
	}
	return &MarkerClassifier{Marker: marker}
}

func (c *MarkerClassifier) Classify(stream Stream, text string) slog.Level {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Marker != "" && strings.Contains(text, c.Marker) {
		c.escalate[stream] = true
	}
	switch {
	case c.escalate[stream]:
		return slog.LevelError
	case stream == Stderr:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
