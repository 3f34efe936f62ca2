// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExperimentKey is the entity name used for a descriptor whose operator
// name is empty.
const ExperimentKey = "experiment"

type wireDevice struct {
	DeviceName   *string                    `json:"device_name"`
	DeviceConfig *map[string]any            `json:"device_config"`
	Measurements map[string]json.RawMessage `json:"measurements"`
}

type wireExperiment struct {
	StartTime *string   `json:"start_time"`
	EndTime   *string   `json:"end_time"`
	Info      *wireInfo `json:"info"`
}

type wireInfo struct {
	Name                  *string `json:"name"`
	Email                 *string `json:"email"`
	ExperimentName        *string `json:"experiment_name"`
	ExperimentDescription *string `json:"experiment_description"`
}

// DecodeLine decodes one instrument line. It returns the entity name
// (device_name for devices, info.name for the descriptor, which only
// labels logs and published line events) and the entity.
// Every field of the shape must be present except the descriptor's
// start_time and end_time; unknown fields are ignored. On failure the
// error is a *DecodeError.
func DecodeLine(line []byte) (string, Entity, error) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		var discard any
		return "", nil, &DecodeError{Syntax: json.Unmarshal(line, &discard)}
	}

	device, deviceErr := decodeDevice(line)
	if deviceErr == nil {
		return device.Name, device, nil
	}

	experiment, experimentErr := decodeExperiment(line)
	if experimentErr == nil {
		name := experiment.Info.Name
		if name == "" {
			name = ExperimentKey
		}
		return name, experiment, nil
	}

	return "", nil, &DecodeError{Device: deviceErr, Experiment: experimentErr}
}

func decodeDevice(line []byte) (*Device, error) {
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()
	var wire wireDevice
	if err := decoder.Decode(&wire); err != nil {
		return nil, err
	}

	switch {
	case wire.DeviceName == nil:
		return nil, errors.New("missing device_name")
	case *wire.DeviceName == "":
		return nil, errors.New("empty device_name")
	case wire.DeviceConfig == nil:
		return nil, errors.New("missing device_config")
	case wire.Measurements == nil:
		return nil, errors.New("missing measurements")
	}

	measurements := make(map[string]Series, len(wire.Measurements))
	for name, raw := range wire.Measurements {
		series, err := decodeSeries(raw)
		if err != nil {
			return nil, fmt.Errorf("measurement %q: %w", name, err)
		}
		measurements[name] = series
	}

	config := make(map[string]any, len(*wire.DeviceConfig))
	for key, value := range *wire.DeviceConfig {
		if normalized, ok := normalizeConfigValue(value); ok {
			config[key] = normalized
		}
	}

	return &Device{
		Name:         *wire.DeviceName,
		Config:       config,
		Measurements: measurements,
	}, nil
}

var errSeriesShape = errors.New("expected an array of numbers or an array of arrays of numbers")

// decodeSeries accepts [number...] as Single and [[number...]...] as
// Multi. An empty array is Single. Nulls anywhere are rejected.
func decodeSeries(raw json.RawMessage) (Series, error) {
	var flat []*float64
	if err := json.Unmarshal(raw, &flat); err == nil && flat != nil {
		single := make(Single, len(flat))
		for i, value := range flat {
			if value == nil {
				return nil, errSeriesShape
			}
			single[i] = *value
		}
		return single, nil
	}

	var nested [][]*float64
	if err := json.Unmarshal(raw, &nested); err == nil && nested != nil {
		multi := make(Multi, len(nested))
		for i, inner := range nested {
			if inner == nil {
				return nil, errSeriesShape
			}
			multi[i] = make([]float64, len(inner))
			for j, value := range inner {
				if value == nil {
					return nil, errSeriesShape
				}
				multi[i][j] = *value
			}
		}
		return multi, nil
	}

	return nil, errSeriesShape
}

// normalizeConfigValue converts a UseNumber-decoded JSON value into the
// types TOML can carry: integral numbers become int64, the rest float64,
// and nulls are dropped (ok is false).
func normalizeConfigValue(value any) (any, bool) {
	switch typed := value.(type) {
	case nil:
		return nil, false
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return integer, true
		}
		float, err := typed.Float64()
		if err != nil {
			return typed.String(), true
		}
		return float, true
	case map[string]any:
		normalized := make(map[string]any, len(typed))
		for key, element := range typed {
			if converted, ok := normalizeConfigValue(element); ok {
				normalized[key] = converted
			}
		}
		return normalized, true
	case []any:
		normalized := make([]any, 0, len(typed))
		for _, element := range typed {
			if converted, ok := normalizeConfigValue(element); ok {
				normalized = append(normalized, converted)
			}
		}
		return normalized, true
	default:
		return typed, true
	}
}

func decodeExperiment(line []byte) (*Experiment, error) {
	var wire wireExperiment
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, err
	}
	if wire.Info == nil {
		return nil, errors.New("missing info")
	}

	var missing []string
	fields := map[string]*string{
		"name":                   wire.Info.Name,
		"email":                  wire.Info.Email,
		"experiment_name":        wire.Info.ExperimentName,
		"experiment_description": wire.Info.ExperimentDescription,
	}
	for field, value := range fields {
		if value == nil {
			missing = append(missing, "info."+field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing %v", missing)
	}

	experiment := &Experiment{
		Info: ExperimentInfo{
			Name:                  *wire.Info.Name,
			Email:                 *wire.Info.Email,
			ExperimentName:        *wire.Info.ExperimentName,
			ExperimentDescription: *wire.Info.ExperimentDescription,
		},
	}
	if wire.StartTime != nil {
		experiment.StartTime = *wire.StartTime
	}
	if wire.EndTime != nil {
		experiment.EndTime = *wire.EndTime
	}
	return experiment, nil
}
