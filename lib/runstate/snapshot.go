// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/spcs-instruments/pfex/lib/atomicfile"
)

// DataTable is the sub-table of each device that holds its
// measurements. A config key with the same name is not rendered.
const DataTable = "data"

type snapshotDocument struct {
	Experiment *snapshotExperiment       `toml:"experiment,omitempty"`
	Device     map[string]map[string]any `toml:"device,omitempty"`
}

type snapshotExperiment struct {
	StartTime string       `toml:"start_time"`
	EndTime   string       `toml:"end_time"`
	Info      snapshotInfo `toml:"info"`
}

type snapshotInfo struct {
	Name                  string `toml:"name"`
	Email                 string `toml:"email"`
	ExperimentName        string `toml:"experiment_name"`
	ExperimentDescription string `toml:"experiment_description"`
}

// documentLocked copies the state into its TOML shape. Called with s.mu held;
// nothing in the result aliases the state.
func (s *State) documentLocked() snapshotDocument {
	var document snapshotDocument

	if experiment := s.experiment; experiment != nil {
		document.Experiment = &snapshotExperiment{
			StartTime: experiment.StartTime,
			EndTime:   experiment.EndTime,
			Info: snapshotInfo{
				Name:                  experiment.Info.Name,
				Email:                 experiment.Info.Email,
				ExperimentName:        experiment.Info.ExperimentName,
				ExperimentDescription: experiment.Info.ExperimentDescription,
			},
		}
	}

	for name, device := range s.devices {
		if document.Device == nil {
			document.Device = make(map[string]map[string]any)
		}
		table := cloneConfig(device.Config)
		data := make(map[string]any, len(device.Measurements))
		for measurement, series := range device.Measurements {
			switch values := series.clone().(type) {
			case Single:
				data[measurement] = []float64(values)
			case Multi:
				data[measurement] = [][]float64(values)
			}
		}
		table[DataTable] = data
		document.Device[name] = table
	}
	return document
}

// Snapshot renders the complete, untruncated state as a TOML document
// with an experiment table (omitted until a descriptor arrives) and a
// device table holding each device's config keys and data sub-table.
func (s *State) Snapshot() ([]byte, error) {
	s.mu.Lock()
	document := s.documentLocked()
	s.mu.Unlock()

	data, err := toml.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// WriteSnapshot atomically replaces path with the current snapshot.
func (s *State) WriteSnapshot(path string) error {
	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data, 0o644)
}
