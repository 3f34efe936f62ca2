// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// pfex runs a data-acquisition script as an experiment run: it starts
// the script, collects the measurements the script's instruments stream
// to it over TCP, writes them to a TOML snapshot as they arrive, and
// mails the final snapshot when the run ends.
//
// Usage:
//
//	pfex --path experiment.py [--output DIR] [--email ADDR] [--loops N] [--delay MIN]
//
// The instrument endpoint defaults to 127.0.0.1:7676 and is passed to the
// script as PFEX_ADDRESS. Configuration beyond the flags comes from a
// YAML file named by --config or PFEX_CONFIG.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spcs-instruments/pfex/lib/archive"
	"github.com/spcs-instruments/pfex/lib/metrics"
	"github.com/spcs-instruments/pfex/lib/notify"
	"github.com/spcs-instruments/pfex/lib/process"
	"github.com/spcs-instruments/pfex/lib/run"
	"github.com/spcs-instruments/pfex/lib/runledger"
	"github.com/spcs-instruments/pfex/lib/version"
)

func main() {
	if err := runMain(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func runMain(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}
	if opts.help {
		return nil
	}
	if opts.showVersion {
		fmt.Printf("pfex %s\n", version.Full())
		return nil
	}

	settings, err := opts.settings()
	if err != nil {
		return err
	}
	command, err := opts.command(settings)
	if err != nil {
		return err
	}

	logger := newLogger(opts.verbosity)
	logger.Info("pfex starting",
		"version", version.Info(),
		"script", opts.path,
		"output", settings.Output.Directory,
		"loops", opts.loops,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if settings.Metrics.Address != "" {
		listener, err := net.Listen("tcp", settings.Metrics.Address)
		if err != nil {
			return fmt.Errorf("binding metrics endpoint: %w", err)
		}
		go func() {
			if err := m.Serve(ctx, listener, logger.With("component", "metrics")); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	coordinatorConfig := run.Config{
		Settings:   settings,
		Process:    command,
		Email:      opts.email,
		StartDelay: time.Duration(opts.delayMinutes) * time.Minute,
		Notifier:   notify.NewSMTP(settings.Notify, logger.With("component", "notify")),
		Metrics:    m,
		Logger:     logger,
	}
	if settings.Archive.Endpoint != "" {
		archiver, err := archive.New(settings.Archive, logger.With("component", "archive"))
		if err != nil {
			return err
		}
		coordinatorConfig.Archiver = archiver
	}
	if settings.Ledger.Path != "" {
		ledger, err := runledger.Open(settings.Ledger.Path, logger.With("component", "ledger"))
		if err != nil {
			return err
		}
		defer ledger.Close()
		coordinatorConfig.Ledger = ledger
	}

	coordinator, err := run.New(coordinatorConfig)
	if err != nil {
		return err
	}
	results := coordinator.Loop(ctx, opts.loops)
	return summarize(logger, results, opts.loops)
}

// summarize logs the loop's outcome and returns an exit error when any
// iteration failed or the loop was cut short.
func summarize(logger *slog.Logger, results []run.Result, requested int) error {
	var failed []error
	for _, result := range results {
		if result.Phase == run.PhaseFailed {
			failed = append(failed, fmt.Errorf("iteration %d (%s): %w", result.Iteration, result.RunID, result.Err))
		}
	}
	logger.Info("experiment finished",
		"iterations", len(results),
		"requested", requested,
		"failed", len(failed),
	)
	if len(failed) > 0 {
		return &process.ExitError{Code: 1, Message: errors.Join(failed...).Error()}
	}
	if len(results) < requested {
		return &process.ExitError{Code: 1, Message: fmt.Sprintf("interrupted after %d of %d iterations", len(results), requested)}
	}
	return nil
}
