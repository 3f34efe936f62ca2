// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	prometheustestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spcs-instruments/pfex/lib/archive"
	"github.com/spcs-instruments/pfex/lib/config"
	"github.com/spcs-instruments/pfex/lib/ingest"
	"github.com/spcs-instruments/pfex/lib/metrics"
	"github.com/spcs-instruments/pfex/lib/netutil"
	"github.com/spcs-instruments/pfex/lib/notify"
	"github.com/spcs-instruments/pfex/lib/runledger"
	"github.com/spcs-instruments/pfex/lib/runstate"
	"github.com/spcs-instruments/pfex/lib/supervisor"
)

const helperVariable = "PFEX_HELPER_DAQ"

// TestHelperDAQ is not a test: it is the acquisition process the
// coordinator tests launch, re-executing the test binary.
func TestHelperDAQ(t *testing.T) {
	mode := os.Getenv(helperVariable)
	if mode == "" {
		t.Skip("helper process only")
	}
	if err := helperDAQ(mode); err != nil {
		fmt.Fprintln(os.Stderr, "helper:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helperDAQ(mode string) error {
	ctx := context.Background()
	client, err := ingest.Dial(ctx, os.Getenv(supervisor.AddressVariable))
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.SendExperiment(ctx, runstate.ExperimentInfo{
		Name:                  "Alice",
		Email:                 "alice@lab.example",
		ExperimentName:        "Helper scan",
		ExperimentDescription: "coordinator test",
	}); err != nil {
		return err
	}
	for _, values := range []runstate.Single{{1, 2}, {3}} {
		reply, err := client.SendDevice(ctx, "DAQ1", map[string]any{"gain": 2}, map[string]runstate.Series{"counts": values})
		if err != nil {
			return err
		}
		if reply != ingest.AckDevice {
			return fmt.Errorf("unexpected reply %q", reply)
		}
	}
	fmt.Println("measurements sent")

	switch mode {
	case "hang":
		time.Sleep(time.Hour)
	case "fail":
		fmt.Fprintln(os.Stderr, supervisor.DefaultTracebackMarker)
		fmt.Fprintln(os.Stderr, "ZeroDivisionError: division by zero")
		os.Exit(3)
	}
	return nil
}

func helperCommand(mode string) supervisor.Command {
	return supervisor.Command{
		Path: os.Args[0],
		Args: []string{"-test.run=^TestHelperDAQ$"},
		Env:  []string{helperVariable + "=" + mode},
	}
}

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	settings := config.Default()
	settings.Ingest.Address = "127.0.0.1:0"
	settings.Ingest.BindAttempts = 1
	settings.Run.ReportInterval = 50 * time.Millisecond
	settings.Run.PersistInterval = 50 * time.Millisecond
	settings.Run.GracePeriod = 100 * time.Millisecond
	settings.Run.KillGrace = time.Second
	settings.Output.Directory = t.TempDir()
	settings.Output.LatestPath = ""
	settings.Observe.Address = ""
	return settings
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []notify.Report
}

func (n *recordingNotifier) Notify(_ context.Context, recipient string, report notify.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if recipient != "" {
		n.reports = append(n.reports, report)
	}
	return nil
}

type recordingArchiver struct {
	objects []archive.Object
}

func (a *recordingArchiver) Upload(_ context.Context, object archive.Object) (archive.Receipt, error) {
	a.objects = append(a.objects, object)
	return archive.Receipt{Key: "runs/" + object.RunID + ".zst"}, nil
}

type recordingLedger struct {
	records []runledger.Record
}

func (l *recordingLedger) Add(_ context.Context, record runledger.Record) error {
	l.records = append(l.records, record)
	return nil
}

type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (p *phaseLog) record(_ string, phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *phaseLog) get() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Phase(nil), p.phases...)
}

type harness struct {
	coordinator *Coordinator
	settings    *config.Config
	notifier    *recordingNotifier
	archiver    *recordingArchiver
	ledger      *recordingLedger
	metrics     *metrics.Metrics
	phases      *phaseLog
}

func newHarness(t *testing.T, settings *config.Config, command supervisor.Command) *harness {
	t.Helper()
	h := &harness{
		settings: settings,
		notifier: &recordingNotifier{},
		archiver: &recordingArchiver{},
		ledger:   &recordingLedger{},
		metrics:  metrics.New(),
		phases:   &phaseLog{},
	}
	runs := 0
	coordinator, err := New(Config{
		Settings: settings,
		Process:  command,
		Email:    "alice@lab.example",
		Notifier: h.notifier,
		Archiver: h.archiver,
		Ledger:   h.ledger,
		Metrics:  h.metrics,
		NewRunID: func() string {
			runs++
			return fmt.Sprintf("run-%d", runs)
		},
		OnPhase: h.phases.record,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.coordinator = coordinator
	return h
}

func readSnapshot(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var document map[string]any
	if err := toml.Unmarshal(data, &document); err != nil {
		t.Fatalf("parsing %s: %v", path, err)
	}
	return document
}

func countsIn(t *testing.T, document map[string]any) []any {
	t.Helper()
	devices, _ := document["device"].(map[string]any)
	device, _ := devices["DAQ1"].(map[string]any)
	data, _ := device["data"].(map[string]any)
	counts, _ := data["counts"].([]any)
	return counts
}

func TestRunOnceComplete(t *testing.T) {
	h := newHarness(t, testSettings(t), helperCommand("ok"))

	result := h.coordinator.RunOnce(context.Background(), 1)
	if result.Phase != PhaseComplete {
		t.Fatalf("phase = %v, err = %v, task errors = %v", result.Phase, result.Err, result.TaskErrs)
	}
	if result.ProcessErr != nil {
		t.Errorf("ProcessErr = %v", result.ProcessErr)
	}
	if !strings.HasPrefix(result.Snapshot.Filename, "Helper_scan_") {
		t.Errorf("Filename = %q", result.Snapshot.Filename)
	}
	if result.Experiment != "Helper scan" || result.Devices != 1 {
		t.Errorf("experiment = %q, devices = %d", result.Experiment, result.Devices)
	}

	document := readSnapshot(t, result.Snapshot.Path)
	if counts := countsIn(t, document); len(counts) != 3 {
		t.Errorf("counts = %v, want 3 values", counts)
	}
	experiment := document["experiment"].(map[string]any)
	if experiment["end_time"] == nil || experiment["end_time"] == "" {
		t.Error("end_time not set in the final snapshot")
	}
	latest, err := os.ReadFile(h.settings.LatestPath())
	if err != nil {
		t.Fatalf("latest file: %v", err)
	}
	final, _ := os.ReadFile(result.Snapshot.Path)
	if string(latest) != string(final) {
		t.Error("latest file differs from the final snapshot")
	}

	if phases := h.phases.get(); fmt.Sprint(phases) != "[running draining complete]" {
		t.Errorf("phases = %v", phases)
	}
	if len(h.notifier.reports) != 1 || h.notifier.reports[0].Path != result.Snapshot.Path {
		t.Errorf("notifications = %+v", h.notifier.reports)
	}
	if len(h.archiver.objects) != 1 || h.archiver.objects[0].Digest != result.Snapshot.Digest {
		t.Errorf("archived = %+v", h.archiver.objects)
	}
	if len(h.ledger.records) != 1 {
		t.Fatalf("ledger records = %d", len(h.ledger.records))
	}
	record := h.ledger.records[0]
	if record.Outcome != "complete" || record.Experiment != "Helper scan" || record.ArchiveKey != "runs/run-1.zst" {
		t.Errorf("ledger record = %+v", record)
	}

	series, err := prometheustestutil.GatherAndCount(h.metrics.Registry(), "pfex_runs_total")
	if err != nil {
		t.Fatal(err)
	}
	if series != 1 {
		t.Errorf("pfex_runs_total series = %d, want 1", series)
	}
}

func TestProcessFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t, testSettings(t), helperCommand("fail"))

	result := h.coordinator.RunOnce(context.Background(), 1)
	if result.Phase != PhaseComplete {
		t.Fatalf("phase = %v, err = %v", result.Phase, result.Err)
	}
	var exitErr *exec.ExitError
	if !errors.As(result.ProcessErr, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("ProcessErr = %v, want exit status 3", result.ProcessErr)
	}
	if counts := countsIn(t, readSnapshot(t, result.Snapshot.Path)); len(counts) != 3 {
		t.Errorf("counts = %v", counts)
	}
	if len(h.ledger.records) != 1 || !strings.HasPrefix(h.ledger.records[0].Error, "acquisition process:") {
		t.Errorf("ledger records = %+v, want the process failure noted", h.ledger.records)
	}
}

func TestBindFailureStartsNothing(t *testing.T) {
	holder, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()

	settings := testSettings(t)
	settings.Ingest.Address = holder.Addr().String()
	marker := filepath.Join(t.TempDir(), "started")
	h := newHarness(t, settings, supervisor.Command{Path: "sh", Args: []string{"-c", "touch " + marker}})

	result := h.coordinator.RunOnce(context.Background(), 1)
	if result.Phase != PhaseFailed {
		t.Fatalf("phase = %v, want failed", result.Phase)
	}
	if !netutil.IsAddressInUse(result.Err) {
		t.Errorf("Err = %v, want address in use", result.Err)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("acquisition process ran although binding failed")
	}
	if phases := h.phases.get(); fmt.Sprint(phases) != "[running failed]" {
		t.Errorf("phases = %v", phases)
	}
	if len(h.notifier.reports) != 1 || h.notifier.reports[0].Err == nil {
		t.Errorf("notifications = %+v, want one failure report", h.notifier.reports)
	}
	if len(h.archiver.objects) != 0 {
		t.Error("failed run archived")
	}
	if len(h.ledger.records) != 1 || h.ledger.records[0].Outcome != "failed" {
		t.Errorf("ledger = %+v", h.ledger.records)
	}
}

func TestParentCancelDrainsRun(t *testing.T) {
	settings := testSettings(t)
	h := newHarness(t, settings, helperCommand("hang"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// Cancel once a periodic write shows all measurements arrived.
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			data, err := os.ReadFile(settings.LatestPath())
			if err == nil && strings.Contains(string(data), "3.0") {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	result := h.coordinator.RunOnce(ctx, 1)
	if result.Phase != PhaseComplete {
		t.Fatalf("phase = %v, err = %v", result.Phase, result.Err)
	}
	if result.ProcessErr != nil {
		t.Errorf("ProcessErr = %v, want nil for a cancelled process", result.ProcessErr)
	}
	if counts := countsIn(t, readSnapshot(t, result.Snapshot.Path)); len(counts) != 3 {
		t.Errorf("counts = %v", counts)
	}
}

func TestPersistenceFailureFailsRun(t *testing.T) {
	settings := testSettings(t)
	settings.Output.Directory = filepath.Join(t.TempDir(), "missing")
	h := newHarness(t, settings, helperCommand("hang"))

	done := make(chan Result, 1)
	go func() { done <- h.coordinator.RunOnce(context.Background(), 1) }()

	var result Result
	select {
	case result = <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("run did not drain after the persistence failure")
	}
	if result.Phase != PhaseFailed || !errors.Is(result.Err, ErrNoSnapshot) {
		t.Fatalf("phase = %v, err = %v", result.Phase, result.Err)
	}
	var taskErr *TaskError
	if !errors.As(result.TaskErrs, &taskErr) || taskErr.Task != "persist" {
		t.Errorf("TaskErrs = %v, want a persist failure", result.TaskErrs)
	}
	if len(h.notifier.reports) != 1 || h.notifier.reports[0].Err == nil {
		t.Errorf("notifications = %+v", h.notifier.reports)
	}
}

func TestLoopRunsIterationsSequentially(t *testing.T) {
	h := newHarness(t, testSettings(t), helperCommand("ok"))

	results := h.coordinator.Loop(context.Background(), 2)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, result := range results {
		if result.Phase != PhaseComplete {
			t.Errorf("iteration %d: phase %v, err %v", i+1, result.Phase, result.Err)
		}
		if result.Iteration != i+1 || result.RunID != fmt.Sprintf("run-%d", i+1) {
			t.Errorf("result %d = iteration %d, run %s", i, result.Iteration, result.RunID)
		}
	}
	if !results[1].StartedAt.After(results[0].EndedAt) && !results[1].StartedAt.Equal(results[0].EndedAt) {
		t.Error("second iteration started before the first ended")
	}
	if results[0].Snapshot.Path == results[1].Snapshot.Path {
		t.Error("iterations share a snapshot file")
	}
}

func TestLoopStopsWhenCancelled(t *testing.T) {
	h := newHarness(t, testSettings(t), helperCommand("ok"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if results := h.coordinator.Loop(ctx, 3); len(results) != 0 {
		t.Errorf("cancelled loop ran %d iterations", len(results))
	}

	h.coordinator.cfg.StartDelay = time.Hour
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if results := h.coordinator.Loop(ctx, 1); len(results) != 0 {
		t.Errorf("loop cancelled during the start delay ran %d iterations", len(results))
	}
}

func TestPhaseString(t *testing.T) {
	for phase, want := range map[Phase]string{
		PhaseIdle:     "idle",
		PhaseRunning:  "running",
		PhaseDraining: "draining",
		PhaseComplete: "complete",
		PhaseFailed:   "failed",
		Phase(9):      "Phase(9)",
	} {
		if got := phase.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(phase), got, want)
		}
	}
}
