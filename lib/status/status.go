// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package status periodically logs what each instrument has reported
// during a run, so an operator watching the collector's output can see
// that data is arriving.
package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/runstate"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultGracePeriod = 3 * time.Second
)

// Reporter logs one line per device every interval.
type Reporter struct {
	state       *runstate.State
	interval    time.Duration
	gracePeriod time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// Config holds the Reporter's dependencies. Zero durations take the
// defaults; a negative GracePeriod disables the shutdown sleep.
type Config struct {
	State       *runstate.State
	Interval    time.Duration
	GracePeriod time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// New returns a Reporter for cfg.State.
func New(cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Reporter{
		state:       cfg.State,
		interval:    cfg.Interval,
		gracePeriod: max(cfg.GracePeriod, 0),
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
}

// Run reports every interval until ctx is cancelled. It then waits out
// the grace period, giving the ingestion side time to drain, and returns
// without a final report.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			r.clock.Sleep(r.gracePeriod)
			return nil
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report logs the current summaries once.
func (r *Reporter) Report() {
	summaries := r.state.Summaries()
	if len(summaries) == 0 {
		r.logger.Info("no devices connected")
		return
	}
	for _, summary := range summaries {
		if summary.Measurement == "" {
			r.logger.Info("device status",
				"device", summary.Name,
				"points", summary.Points,
			)
			continue
		}
		r.logger.Info("device status",
			"device", summary.Name,
			"points", summary.Points,
			"measurement", summary.Measurement,
			"latest", summary.LatestValue,
		)
	}
}
