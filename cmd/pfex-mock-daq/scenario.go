// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/spcs-instruments/pfex/lib/runstate"
)

// Scenario scripts one acquisition: an optional experiment descriptor
// followed by Steps rounds of device updates, one every Interval.
type Scenario struct {
	Experiment *ExperimentSpec `json:"experiment"`
	Interval   Duration        `json:"interval"`
	Steps      int             `json:"steps"`
	Devices    []DeviceSpec    `json:"devices"`

	// FailAfter, when positive, makes the mock print a traceback to
	// stderr and exit non-zero after that many steps.
	FailAfter int `json:"fail_after"`
}

// ExperimentSpec is the descriptor sent before the first step.
type ExperimentSpec struct {
	Name                  string `json:"name"`
	Email                 string `json:"email"`
	ExperimentName        string `json:"experiment_name"`
	ExperimentDescription string `json:"experiment_description"`
}

// DeviceSpec is one simulated instrument.
type DeviceSpec struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`

	// Width > 0 sends each measurement as a row of Width points (a
	// spectrum) instead of one scalar per step.
	Width int `json:"width"`

	Measurements map[string]Signal `json:"measurements"`
}

// Signal generates one value per step (and per point within a row).
type Signal struct {
	// Shape is ramp, sine, square or constant.
	Shape     string  `json:"shape"`
	Offset    float64 `json:"offset"`
	Amplitude float64 `json:"amplitude"`

	// Period is in steps for sine and square; ramp ignores it and
	// climbs by Amplitude per step.
	Period float64 `json:"period"`
}

// Duration reads a Go duration string from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// DefaultScenario is used when no scenario file is given.
func DefaultScenario() *Scenario {
	return &Scenario{
		Experiment: &ExperimentSpec{
			Name:                  "Mock Operator",
			Email:                 "operator@example.com",
			ExperimentName:        "Mock scan",
			ExperimentDescription: "Scripted acquisition from pfex-mock-daq",
		},
		Interval: Duration(200 * time.Millisecond),
		Steps:    25,
		Devices: []DeviceSpec{
			{
				Name:   "DAQ1",
				Config: map[string]any{"gain": 2, "channel": "A"},
				Measurements: map[string]Signal{
					"counts":  {Shape: "ramp", Amplitude: 10},
					"voltage": {Shape: "sine", Amplitude: 1.5, Period: 12},
				},
			},
			{
				Name:   "Spectrometer",
				Config: map[string]any{"integration_ms": 100},
				Width:  16,
				Measurements: map[string]Signal{
					"spectrum": {Shape: "sine", Offset: 5, Amplitude: 2, Period: 16},
				},
			},
		},
	}
}

// ParseScenario reads JSONC (comments and trailing commas allowed).
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := json.Unmarshal(jsonc.ToJSON(data), &scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// ReadScenario reads and parses the scenario file at path.
func ReadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenario, nil
}

// Validate reports every problem at once.
func (s *Scenario) Validate() error {
	var errs []error
	if s.Steps < 1 {
		errs = append(errs, errors.New("steps must be at least 1"))
	}
	if s.Interval < 0 {
		errs = append(errs, errors.New("interval must not be negative"))
	}
	if s.FailAfter < 0 {
		errs = append(errs, errors.New("fail_after must not be negative"))
	}
	seen := map[string]bool{}
	for index, device := range s.Devices {
		if device.Name == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: name is required", index))
		}
		if seen[device.Name] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate name %q", index, device.Name))
		}
		seen[device.Name] = true
		if device.Width < 0 {
			errs = append(errs, fmt.Errorf("device %q: width must not be negative", device.Name))
		}
		for name, signal := range device.Measurements {
			switch signal.Shape {
			case "ramp", "constant":
			case "sine", "square":
				if signal.Period <= 0 {
					errs = append(errs, fmt.Errorf("device %q measurement %q: %s needs a positive period", device.Name, name, signal.Shape))
				}
			default:
				errs = append(errs, fmt.Errorf("device %q measurement %q: unknown shape %q", device.Name, name, signal.Shape))
			}
		}
	}
	return errors.Join(errs...)
}

// At is the signal's value at position x.
func (s Signal) At(x float64) float64 {
	switch s.Shape {
	case "ramp":
		return s.Offset + s.Amplitude*x
	case "sine":
		return s.Offset + s.Amplitude*math.Sin(2*math.Pi*x/s.Period)
	case "square":
		if math.Mod(x, s.Period) < s.Period/2 {
			return s.Offset + s.Amplitude
		}
		return s.Offset - s.Amplitude
	default:
		return s.Offset
	}
}

// MeasurementsAt builds the device's update for one step.
func (d DeviceSpec) MeasurementsAt(step int) map[string]runstate.Series {
	out := make(map[string]runstate.Series, len(d.Measurements))
	for name, signal := range d.Measurements {
		if d.Width == 0 {
			out[name] = runstate.Single{signal.At(float64(step))}
			continue
		}
		row := make([]float64, d.Width)
		for point := range row {
			row[point] = signal.At(float64(step + point))
		}
		out[name] = runstate.Multi{row}
	}
	return out
}
