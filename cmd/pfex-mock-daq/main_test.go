// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/ingest"
	"github.com/spcs-instruments/pfex/lib/runstate"
	"github.com/spcs-instruments/pfex/lib/supervisor"
	"github.com/spcs-instruments/pfex/lib/testutil"
)

// collector is a line-protocol peer that records what it receives.
type collector struct {
	listener net.Listener

	mu    sync.Mutex
	lines []map[string]any
}

func startCollector(t *testing.T) *collector {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	c := &collector{listener: listener}
	t.Cleanup(func() { listener.Close() })
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var line map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				t.Errorf("collector got invalid JSON %q: %v", scanner.Text(), err)
				return
			}
			c.mu.Lock()
			c.lines = append(c.lines, line)
			c.mu.Unlock()
			reply := ingest.AckExperiment
			if _, ok := line["device_name"]; ok {
				reply = ingest.AckDevice
			}
			conn.Write([]byte(reply + "\n"))
		}
	}()
	return c
}

func (c *collector) received() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.lines...)
}

func testPlayer(address string) (player, *bytes.Buffer) {
	logger, _ := testutil.NewLogCapture()
	stderr := &bytes.Buffer{}
	return player{address: address, clock: clock.Real(), logger: logger, stderr: stderr}, stderr
}

func TestParseScenario(t *testing.T) {
	data := []byte(`{
		// Two steps of one scalar device.
		"experiment": {"experiment_name": "Laser scan"},
		"interval": "250ms",
		"steps": 2,
		"devices": [
			{
				"name": "Laser",
				"config": {"wavelength_nm": 632.8},
				"measurements": {
					"power": {"shape": "square", "amplitude": 1, "period": 4},
				},
			},
		],
	}`)
	scenario, err := ParseScenario(data)
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if time.Duration(scenario.Interval) != 250*time.Millisecond {
		t.Errorf("interval = %v", time.Duration(scenario.Interval))
	}
	if scenario.Experiment.ExperimentName != "Laser scan" || len(scenario.Devices) != 1 {
		t.Errorf("scenario = %+v", scenario)
	}
	if scenario.Devices[0].Measurements["power"].Period != 4 {
		t.Errorf("power signal = %+v", scenario.Devices[0].Measurements["power"])
	}
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"no steps", `{"steps": 0}`, "steps"},
		{"bad interval", `{"steps": 1, "interval": 5}`, "duration"},
		{"unnamed device", `{"steps": 1, "devices": [{}]}`, "name is required"},
		{"duplicate device", `{"steps": 1, "devices": [{"name": "A"}, {"name": "A"}]}`, "duplicate"},
		{"unknown shape", `{"steps": 1, "devices": [{"name": "A", "measurements": {"m": {"shape": "saw"}}}]}`, "unknown shape"},
		{"sine without period", `{"steps": 1, "devices": [{"name": "A", "measurements": {"m": {"shape": "sine"}}}]}`, "positive period"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(test.data))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %v, want it to mention %q", err, test.want)
			}
		})
	}
}

func TestReadScenarioMissingFile(t *testing.T) {
	_, err := ReadScenario(filepath.Join(t.TempDir(), "absent.jsonc"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
}

func TestDefaultScenarioIsValid(t *testing.T) {
	if err := DefaultScenario().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSignalAt(t *testing.T) {
	tests := []struct {
		signal Signal
		x      float64
		want   float64
	}{
		{Signal{Shape: "ramp", Offset: 1, Amplitude: 2}, 3, 7},
		{Signal{Shape: "sine", Amplitude: 2, Period: 4}, 1, 2},
		{Signal{Shape: "square", Amplitude: 1, Period: 4}, 1, 1},
		{Signal{Shape: "square", Amplitude: 1, Period: 4}, 3, -1},
		{Signal{Shape: "constant", Offset: 5}, 9, 5},
	}
	for _, test := range tests {
		if got := test.signal.At(test.x); math.Abs(got-test.want) > 1e-9 {
			t.Errorf("%+v.At(%v) = %v, want %v", test.signal, test.x, got, test.want)
		}
	}
}

func TestMeasurementsAt(t *testing.T) {
	scalar := DeviceSpec{Measurements: map[string]Signal{"counts": {Shape: "ramp", Amplitude: 10}}}
	single, ok := scalar.MeasurementsAt(2)["counts"].(runstate.Single)
	if !ok || len(single) != 1 || single[0] != 20 {
		t.Errorf("scalar step = %#v", scalar.MeasurementsAt(2)["counts"])
	}

	spectrum := DeviceSpec{Width: 3, Measurements: map[string]Signal{"s": {Shape: "ramp", Amplitude: 1}}}
	multi, ok := spectrum.MeasurementsAt(1)["s"].(runstate.Multi)
	if !ok || len(multi) != 1 || len(multi[0]) != 3 || multi[0][0] != 1 || multi[0][2] != 3 {
		t.Errorf("spectrum step = %#v", spectrum.MeasurementsAt(1)["s"])
	}
}

func TestPlaySendsScenario(t *testing.T) {
	c := startCollector(t)
	scenario := &Scenario{
		Experiment: &ExperimentSpec{ExperimentName: "Mock scan"},
		Interval:   Duration(time.Millisecond),
		Steps:      3,
		Devices: []DeviceSpec{
			{Name: "DAQ1", Measurements: map[string]Signal{"counts": {Shape: "ramp", Amplitude: 1}}},
			{Name: "Spec", Width: 4, Measurements: map[string]Signal{"s": {Shape: "constant", Offset: 2}}},
		},
	}
	p, _ := testPlayer(c.listener.Addr().String())
	if err := play(context.Background(), scenario, p); err != nil {
		t.Fatalf("play: %v", err)
	}

	lines := c.received()
	if len(lines) != 1+3*2 {
		t.Fatalf("received %d lines, want 7: %v", len(lines), lines)
	}
	info, _ := lines[0]["info"].(map[string]any)
	if info["experiment_name"] != "Mock scan" {
		t.Errorf("first line = %v, want the experiment descriptor", lines[0])
	}
	if lines[5]["device_name"] != "DAQ1" {
		t.Errorf("step 3 first device = %v", lines[5]["device_name"])
	}
	counts := lines[5]["measurements"].(map[string]any)["counts"].([]any)
	if counts[0] != 2.0 {
		t.Errorf("step 3 counts = %v, want [2]", counts)
	}
}

func TestPlayScriptedFailure(t *testing.T) {
	c := startCollector(t)
	scenario := &Scenario{
		Interval:  Duration(time.Millisecond),
		Steps:     5,
		FailAfter: 2,
		Devices:   []DeviceSpec{{Name: "DAQ1"}},
	}
	p, stderr := testPlayer(c.listener.Addr().String())
	err := play(context.Background(), scenario, p)
	if !errors.Is(err, errScenarioFailure) {
		t.Fatalf("play = %v, want errScenarioFailure", err)
	}
	if !strings.HasPrefix(stderr.String(), supervisor.DefaultTracebackMarker) {
		t.Errorf("stderr = %q, want a traceback", stderr.String())
	}
	if got := len(c.received()); got != 2 {
		t.Errorf("received %d lines before failing, want 2", got)
	}
}

func TestPlayDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := listener.Addr().String()
	listener.Close()

	p, _ := testPlayer(address)
	if err := play(context.Background(), DefaultScenario(), p); err == nil {
		t.Fatal("play against a closed port succeeded")
	}
}
