// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// LoadData reads a snapshot file back as device name to measurement name
// to series. Device config keys and the experiment table are skipped; a
// device without a data sub-table maps to an empty set of measurements.
//
// An empty array loads as an empty Single, whichever variant wrote it.
// Integers are accepted wherever a value is expected.
func LoadData(path string) (map[string]map[string]Series, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	var document struct {
		Device map[string]map[string]any `toml:"device"`
	}
	if err := toml.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("parsing results %s: %w", path, err)
	}

	data := make(map[string]map[string]Series, len(document.Device))
	for name, table := range document.Device {
		measurements := make(map[string]Series)
		if raw, ok := table[DataTable]; ok {
			entries, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("device %q: %s is not a table", name, DataTable)
			}
			for measurement, value := range entries {
				series, err := loadSeries(value)
				if err != nil {
					return nil, fmt.Errorf("device %q measurement %q: %w", name, measurement, err)
				}
				measurements[measurement] = series
			}
		}
		data[name] = measurements
	}
	return data, nil
}

// loadSeries is decodeSeries for the generic values go-toml produces:
// arrays are []any, numbers int64 or float64.
func loadSeries(value any) (Series, error) {
	elements, ok := value.([]any)
	if !ok {
		return nil, errSeriesShape
	}
	if len(elements) == 0 {
		return Single{}, nil
	}

	if _, nested := elements[0].([]any); !nested {
		single := make(Single, len(elements))
		for i, element := range elements {
			number, ok := loadNumber(element)
			if !ok {
				return nil, errSeriesShape
			}
			single[i] = number
		}
		return single, nil
	}

	multi := make(Multi, len(elements))
	for i, element := range elements {
		inner, ok := element.([]any)
		if !ok {
			return nil, errSeriesShape
		}
		multi[i] = make([]float64, len(inner))
		for j, value := range inner {
			number, ok := loadNumber(value)
			if !ok {
				return nil, errSeriesShape
			}
			multi[i][j] = number
		}
	}
	return multi, nil
}

func loadNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}
