// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package persist writes a run's snapshot to disk on a fixed interval
// and performs the final, authoritative write when the run ends.
//
// Each write produces two files: the per-run file named after the
// experiment and the run's start time, and the "latest" file at a fixed
// path that always holds the most recent snapshot of whichever run is
// in progress. Both are replaced atomically, so a reader never sees a
// partial document.
package persist

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/spcs-instruments/pfex/lib/atomicfile"
	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/metrics"
	"github.com/spcs-instruments/pfex/lib/runstate"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultGracePeriod = 3 * time.Second

	// LatestFilename is the latest file's name inside the output
	// directory when no explicit path is configured.
	LatestFilename = ".pfex_latest.toml"
)

// Config holds the Task's dependencies.
type Config struct {
	State *runstate.State

	// OutputDirectory receives the per-run file. Required.
	OutputDirectory string

	// LatestPath defaults to LatestFilename inside OutputDirectory.
	LatestPath string

	// RunSuffix distinguishes this run's file from other runs of the
	// same experiment; see runstate.FileSuffix.
	RunSuffix string

	// Zero durations take the defaults; a negative GracePeriod disables
	// the shutdown sleep.
	Interval    time.Duration
	GracePeriod time.Duration

	Metrics *metrics.Metrics
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Result describes the final snapshot.
type Result struct {
	// Filename is the per-run file's base name.
	Filename string

	// Path is the per-run file's full path.
	Path string

	// Digest is the BLAKE3-256 of the final document, hex encoded.
	Digest string

	// Size is the final document's length in bytes.
	Size int
}

// Task is the persistence loop of one run.
type Task struct {
	cfg Config

	mu sync.Mutex
	// written is the per-run file the last successful Write produced.
	written string
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Task, error) {
	if cfg.State == nil {
		return nil, errors.New("persist: State is required")
	}
	if cfg.OutputDirectory == "" {
		return nil, errors.New("persist: OutputDirectory is required")
	}
	if cfg.LatestPath == "" {
		cfg.LatestPath = filepath.Join(cfg.OutputDirectory, LatestFilename)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	cfg.GracePeriod = max(cfg.GracePeriod, 0)
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.RunSuffix == "" {
		cfg.RunSuffix = runstate.FileSuffix(cfg.Clock.Now())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Task{cfg: cfg}, nil
}

// Run writes the snapshot every interval until ctx is cancelled. It then
// stamps the experiment's end time, waits out the grace period so late
// lines still land, and writes the final snapshot. The first write
// failure ends the task with an error.
func (t *Task) Run(ctx context.Context) (Result, error) {
	ticker := t.cfg.Clock.NewTicker(t.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return t.finish()
		case <-ticker.C:
			if _, err := t.Write(); err != nil {
				ticker.Stop()
				return Result{}, err
			}
		}
	}
}

func (t *Task) finish() (Result, error) {
	if err := t.cfg.State.FinalizeTime(); err != nil {
		t.cfg.Logger.Warn("finalizing run state", "error", err)
	}
	t.cfg.Clock.Sleep(t.cfg.GracePeriod)

	result, err := t.Write()
	if err != nil {
		return Result{}, fmt.Errorf("final snapshot: %w", err)
	}
	t.cfg.Logger.Info("final snapshot written",
		"path", result.Path,
		"bytes", result.Size,
		"blake3", result.Digest,
	)
	return result, nil
}

// Write writes the current snapshot to the per-run file and the latest
// file once. The per-run filename follows the experiment name as it is
// now, so a descriptor arriving mid-run renames subsequent writes; the
// file written under the previous name is then removed.
func (t *Task) Write() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.cfg.Clock.Now()
	filename := runstate.OutputFilename(t.cfg.State.ExperimentName(), t.cfg.RunSuffix)
	path := filepath.Join(t.cfg.OutputDirectory, filename)

	data, err := t.cfg.State.Snapshot()
	if err == nil {
		err = atomicfile.Write(path, data, 0o644)
	}
	if err == nil {
		err = atomicfile.Write(t.cfg.LatestPath, data, 0o644)
	}
	seconds := t.cfg.Clock.Now().Sub(start).Seconds()
	t.cfg.Metrics.SnapshotWritten(len(data), seconds, err)
	if err != nil {
		t.cfg.Logger.Error("snapshot write failed", "path", path, "error", err)
		return Result{}, fmt.Errorf("writing snapshot %s: %w", path, err)
	}

	t.cfg.Logger.Debug("snapshot written", "path", path, "bytes", len(data))
	if t.written != "" && t.written != path {
		t.removeStale(t.written)
	}
	t.written = path

	sum := blake3.Sum256(data)
	return Result{
		Filename: filename,
		Path:     path,
		Digest:   hex.EncodeToString(sum[:]),
		Size:     len(data),
	}, nil
}

// removeStale deletes a per-run file superseded by a rename. Failure
// only leaves an outdated copy behind, so it is logged and not returned.
func (t *Task) removeStale(path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		t.cfg.Logger.Info("removed per-run file written under the previous name", "path", path)
	case errors.Is(err, os.ErrNotExist):
	default:
		t.cfg.Logger.Warn("removing superseded per-run file", "path", path, "error", err)
	}
}
