// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spcs-instruments/pfex/lib/archive"
	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/config"
	"github.com/spcs-instruments/pfex/lib/ingest"
	"github.com/spcs-instruments/pfex/lib/metrics"
	"github.com/spcs-instruments/pfex/lib/notify"
	"github.com/spcs-instruments/pfex/lib/observe"
	"github.com/spcs-instruments/pfex/lib/persist"
	"github.com/spcs-instruments/pfex/lib/runledger"
	"github.com/spcs-instruments/pfex/lib/runstate"
	"github.com/spcs-instruments/pfex/lib/status"
	"github.com/spcs-instruments/pfex/lib/supervisor"
)

// Phase is an iteration's lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ErrProcessExited is the cancellation cause when the acquisition
// process ends on its own.
var ErrProcessExited = errors.New("acquisition process exited")

// ErrNoSnapshot fails an iteration whose persistence task produced no
// final file.
var ErrNoSnapshot = errors.New("no final snapshot written")

// Archiver uploads final snapshots; *archive.Archiver implements it.
type Archiver interface {
	Upload(ctx context.Context, object archive.Object) (archive.Receipt, error)
}

// Ledger records finished iterations; *runledger.Ledger implements it.
type Ledger interface {
	Add(ctx context.Context, record runledger.Record) error
}

// Config configures a Coordinator.
type Config struct {
	// Settings supplies addresses, intervals and output paths.
	Settings *config.Config

	// Process is the acquisition command. The coordinator adds the
	// ingestion address to its environment and fills its clock and
	// classifier.
	Process supervisor.Command

	// Email receives the notification; empty disables it.
	Email string

	// StartDelay is waited once before the first iteration of Loop.
	StartDelay time.Duration

	Notifier notify.Notifier
	Archiver Archiver
	Ledger   Ledger
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Logger   *slog.Logger

	// NewRunID defaults to uuid.NewString.
	NewRunID func() string

	// OnPhase, when set, is called on every phase change.
	OnPhase func(runID string, phase Phase)
}

// Result is the outcome of one iteration.
type Result struct {
	RunID     string
	Iteration int
	Phase     Phase

	// Snapshot is the final snapshot; zero when the iteration failed.
	Snapshot persist.Result

	// Err is why the iteration failed; nil when Complete.
	Err error

	// ProcessErr is the acquisition process's own failure, if any. It
	// does not fail the iteration.
	ProcessErr error

	// TaskErrs joins every task failure, including recovered panics.
	TaskErrs error

	// Experiment is the descriptor's experiment name, empty without
	// one.
	Experiment string

	ArchiveKey string
	Devices    int
	StartedAt  time.Time
	EndedAt    time.Time
}

// Coordinator runs iterations one at a time.
type Coordinator struct {
	cfg Config

	mu    sync.Mutex
	phase Phase
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.Process.Path == "" {
		return nil, errors.New("run: process path is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}
	return &Coordinator{cfg: cfg}, nil
}

// Phase returns the phase of the current or most recent iteration.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) setPhase(runID string, phase Phase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
	if c.cfg.OnPhase != nil {
		c.cfg.OnPhase(runID, phase)
	}
}

// Loop runs up to n iterations strictly one after another, each with a
// fresh state, context and listener. It stops early once ctx is
// cancelled and returns every iteration's result.
func (c *Coordinator) Loop(ctx context.Context, n int) []Result {
	logger := c.cfg.Logger
	if c.cfg.StartDelay > 0 {
		logger.Info("experiment starting after delay", "delay", c.cfg.StartDelay)
		select {
		case <-ctx.Done():
			logger.Warn("cancelled before the first iteration")
			return nil
		case <-c.cfg.Clock.After(c.cfg.StartDelay):
		}
	}

	var results []Result
	for iteration := 1; iteration <= n; iteration++ {
		if ctx.Err() != nil {
			logger.Warn("loop cancelled", "completed_iterations", len(results), "requested", n)
			break
		}
		results = append(results, c.RunOnce(ctx, iteration))
	}
	return results
}

// RunOnce runs one iteration to completion.
func (c *Coordinator) RunOnce(ctx context.Context, iteration int) Result {
	runID := c.cfg.NewRunID()
	logger := c.cfg.Logger.With("run_id", runID, "iteration", iteration)
	result := Result{
		RunID:     runID,
		Iteration: iteration,
		StartedAt: c.cfg.Clock.Now(),
	}

	c.setPhase(runID, PhaseRunning)
	logger.Info("run starting")

	c.execute(ctx, logger, &result)

	if result.Err == nil {
		result.Phase = PhaseComplete
	} else {
		result.Phase = PhaseFailed
	}
	result.EndedAt = c.cfg.Clock.Now()
	c.setPhase(runID, result.Phase)

	c.afterRun(ctx, logger, &result)
	return result
}

// execute runs the Running and Draining phases, leaving the outcome in
// result.
func (c *Coordinator) execute(parent context.Context, logger *slog.Logger, result *Result) {
	settings := c.cfg.Settings
	state := runstate.New(c.cfg.Clock, logger.With("component", "state"))
	defer state.Stop()

	runCtx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	persistTask, err := persist.New(persist.Config{
		State:           state,
		OutputDirectory: settings.Output.Directory,
		LatestPath:      settings.LatestPath(),
		RunSuffix:       runstate.FileSuffix(result.StartedAt),
		Interval:        settings.Run.PersistInterval,
		GracePeriod:     settings.Run.GracePeriod,
		Metrics:         c.cfg.Metrics,
		Clock:           c.cfg.Clock,
		Logger:          logger.With("component", "persist"),
	})
	if err != nil {
		result.Err = err
		return
	}

	hub := ingest.NewHub(c.cfg.Metrics)
	server, err := ingest.Listen(runCtx, ingest.ListenConfig{
		Address:      settings.Ingest.Address,
		BindAttempts: settings.Ingest.BindAttempts,
		BindBackoff:  settings.Ingest.BindBackoff,
		GracePeriod:  settings.Run.GracePeriod,
		State:        state,
		Hub:          hub,
		Metrics:      c.cfg.Metrics,
		Clock:        c.cfg.Clock,
		Logger:       logger.With("component", "ingest"),
	})
	if err != nil {
		logger.Error("ingestion endpoint unavailable", "error", err)
		result.Err = err
		return
	}
	address := server.Addr().String()

	var observer *observe.Server
	if settings.Observe.Address != "" {
		observer, err = observe.Listen(runCtx, observe.ServerConfig{
			Address:       settings.Observe.Address,
			RunID:         result.RunID,
			Iteration:     result.Iteration,
			IngestAddress: address,
			State:         state,
			Hub:           hub,
			Interval:      settings.Observe.Interval,
			MaxPoints:     settings.Observe.MaxPoints,
			Clock:         c.cfg.Clock,
			Logger:        logger.With("component", "observe"),
		})
		if err != nil {
			logger.Warn("observation stream disabled for this run", "error", err)
			observer = nil
		}
	}

	// Draining begins when the run context ends, whatever ended it.
	draining := make(chan struct{})
	go func() {
		<-runCtx.Done()
		logger.Info("run draining", "cause", context.Cause(runCtx))
		c.setPhase(result.RunID, PhaseDraining)
		close(draining)
	}()

	tasks := newGroup(cancel, logger)
	tasks.Go("ingest", func() error { return server.Serve(runCtx) })
	reporter := status.New(status.Config{
		State:       state,
		Interval:    settings.Run.ReportInterval,
		GracePeriod: settings.Run.GracePeriod,
		Clock:       c.cfg.Clock,
		Logger:      logger.With("component", "status"),
	})
	tasks.Go("status", func() error { return reporter.Run(runCtx) })
	var snapshot persist.Result
	tasks.Go("persist", func() error {
		var err error
		snapshot, err = persistTask.Run(runCtx)
		return err
	})
	if observer != nil {
		tasks.Go("observe", func() error { return observer.Serve(runCtx) })
	}
	tasks.Go("process", func() error {
		result.ProcessErr = c.supervise(runCtx, cancel, address, logger)
		return nil
	})

	result.TaskErrs = tasks.Wait()
	// The process task always cancels the run before returning.
	<-draining
	result.Devices = len(state.DeviceNames())
	result.Experiment = state.ExperimentName()
	if err := state.Validate(); err != nil {
		logger.Warn("run finished without an experiment descriptor", "error", err)
	}

	if snapshot.Path == "" {
		result.Err = ErrNoSnapshot
		if result.TaskErrs != nil {
			result.Err = fmt.Errorf("%w: %w", ErrNoSnapshot, result.TaskErrs)
		}
		return
	}
	result.Snapshot = snapshot
}

// supervise runs the acquisition process, logging its output, and
// cancels the run when it exits. Process failures are returned for the
// result, not treated as task failures.
func (c *Coordinator) supervise(ctx context.Context, cancel context.CancelCauseFunc, address string, logger *slog.Logger) error {
	command := c.cfg.Process
	command.Env = append(append([]string(nil), command.Env...), supervisor.AddressVariable+"="+address)
	command.Clock = c.cfg.Clock
	if command.KillGrace == 0 {
		command.KillGrace = c.cfg.Settings.Run.KillGrace
	}
	if command.Classifier == nil {
		command.Classifier = supervisor.NewMarkerClassifier(c.cfg.Settings.Run.TracebackMarker)
	}

	processLogger := logger.With("component", "process")
	process, err := supervisor.Start(ctx, command)
	if err != nil {
		processLogger.Error("acquisition process failed to start", "error", err)
		cancel(err)
		return err
	}
	processLogger.Info("acquisition process started", "pid", process.Pid(), "path", command.Path)

	for line := range process.Lines() {
		processLogger.Log(context.Background(), line.Level, line.Text, "stream", line.Stream.String())
	}
	<-process.Done()
	if process.OutputAbandoned() {
		processLogger.Warn("acquisition process exited while a descendant held its output; the process group was killed")
	}

	err = process.Err()
	cancelled := ctx.Err() != nil
	cancel(ErrProcessExited)
	switch {
	case cancelled:
		processLogger.Info("acquisition process stopped", "exit_code", process.ExitCode())
		return nil
	case err != nil:
		processLogger.Error("acquisition process failed", "exit_code", process.ExitCode(), "error", err)
		return err
	default:
		processLogger.Info("acquisition process exited")
		return nil
	}
}

// afterRun notifies, archives, records and counts a finished iteration.
// Failures here are logged and never change the outcome.
func (c *Coordinator) afterRun(ctx context.Context, logger *slog.Logger, result *Result) {
	// The parent may already be cancelled (Ctrl-C); reporting still
	// gets a bounded chance.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if result.Phase == PhaseComplete {
		logger.Info("run complete",
			"path", result.Snapshot.Path,
			"blake3", result.Snapshot.Digest,
			"devices", result.Devices,
		)
	} else {
		logger.Error("run failed", "error", result.Err)
	}

	if c.cfg.Archiver != nil && result.Phase == PhaseComplete {
		receipt, err := c.cfg.Archiver.Upload(reportCtx, archive.Object{
			RunID:  result.RunID,
			Path:   result.Snapshot.Path,
			Digest: result.Snapshot.Digest,
		})
		if err != nil {
			logger.Error("archiving snapshot failed", "error", err)
		} else {
			result.ArchiveKey = receipt.Key
		}
	}

	report := notify.Report{RunID: result.RunID, Path: result.Snapshot.Path, Err: result.Err}
	if err := c.cfg.Notifier.Notify(reportCtx, c.cfg.Email, report); err != nil {
		logger.Error("notification failed", "error", err)
	}

	if c.cfg.Ledger != nil {
		record := runledger.Record{
			RunID:      result.RunID,
			Iteration:  result.Iteration,
			StartedAt:  result.StartedAt,
			EndedAt:    result.EndedAt,
			Outcome:    result.Phase.String(),
			Experiment: result.Experiment,
			Path:       result.Snapshot.Path,
			Digest:     result.Snapshot.Digest,
			ArchiveKey: result.ArchiveKey,
			Devices:    result.Devices,
		}
		switch {
		case result.Err != nil:
			record.Error = result.Err.Error()
		case result.ProcessErr != nil:
			record.Error = "acquisition process: " + result.ProcessErr.Error()
		}
		if err := c.cfg.Ledger.Add(reportCtx, record); err != nil {
			logger.Error("recording run in ledger failed", "error", err)
		}
	}

	c.cfg.Metrics.RunFinished(result.Phase.String(), result.EndedAt.Sub(result.StartedAt).Seconds())
}
