// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// CapturedRecord is one log record seen by a capture logger, with its
// attributes flattened to strings.
type CapturedRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// LogCapture collects records written through the logger returned by
// NewLogCapture. Safe for concurrent use.
type LogCapture struct {
	mu      sync.Mutex
	records []CapturedRecord
}

// NewLogCapture returns a debug-level logger and the capture that
// receives its records.
func NewLogCapture() (*slog.Logger, *LogCapture) {
	capture := &LogCapture{}
	return slog.New(&captureHandler{capture: capture}), capture
}

// Records returns a copy of everything captured so far.
func (c *LogCapture) Records() []CapturedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedRecord(nil), c.records...)
}

// Find returns the records at level whose message contains substring.
func (c *LogCapture) Find(level slog.Level, substring string) []CapturedRecord {
	var found []CapturedRecord
	for _, record := range c.Records() {
		if record.Level == level && strings.Contains(record.Message, substring) {
			found = append(found, record)
		}
	}
	return found
}

type captureHandler struct {
	capture *LogCapture
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		attrs[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.String()
		return true
	})

	h.capture.mu.Lock()
	h.capture.records = append(h.capture.records, CapturedRecord{
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	h.capture.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &captureHandler{capture: h.capture, attrs: combined}
}

// Groups are flattened; pfex loggers do not use them.
func (h *captureHandler) WithGroup(string) slog.Handler { return h }
