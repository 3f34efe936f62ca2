// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

// Kind distinguishes the two entity variants.
type Kind int

const (
	KindDevice Kind = iota + 1
	KindExperiment
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindExperiment:
		return "experiment"
	default:
		return "unknown"
	}
}

// Entity is a named record in the run state. The only implementations
// are *Device and *Experiment.
type Entity interface {
	Kind() Kind
	clone() Entity
}

// Device is one instrument: its configuration as reported by the
// acquisition script and the measurements it has produced so far.
type Device struct {
	Name string

	// Config values are string, bool, int64, float64, []any or
	// map[string]any. Nulls never appear.
	Config map[string]any

	Measurements map[string]Series
}

// Kind returns KindDevice.
func (d *Device) Kind() Kind { return KindDevice }

func (d *Device) clone() Entity {
	measurements := make(map[string]Series, len(d.Measurements))
	for name, series := range d.Measurements {
		measurements[name] = series.clone()
	}
	return &Device{
		Name:         d.Name,
		Config:       cloneConfig(d.Config),
		Measurements: measurements,
	}
}

// Experiment is the run's descriptor. EndTime stays empty until the run
// is finalized.
type Experiment struct {
	StartTime string
	EndTime   string
	Info      ExperimentInfo
}

// ExperimentInfo names the experiment and the operator running it.
type ExperimentInfo struct {
	Name                  string
	Email                 string
	ExperimentName        string
	ExperimentDescription string
}

// Kind returns KindExperiment.
func (e *Experiment) Kind() Kind { return KindExperiment }

func (e *Experiment) clone() Entity {
	copied := *e
	return &copied
}

// SeriesKind distinguishes the two measurement series variants.
type SeriesKind int

const (
	KindSingle SeriesKind = iota + 1
	KindMulti
)

func (k SeriesKind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// Series is the append-only history of one measurement. The only
// implementations are Single and Multi.
type Series interface {
	Kind() SeriesKind

	// Len is the number of appended elements: values for Single,
	// inner sequences for Multi.
	Len() int

	// Points is the total number of values recorded.
	Points() int

	// Last returns the most recently recorded value.
	Last() (float64, bool)

	clone() Series
}

// Single is a flat sequence of values, one per reading.
type Single []float64

func (s Single) Kind() SeriesKind { return KindSingle }
func (s Single) Len() int         { return len(s) }
func (s Single) Points() int      { return len(s) }

func (s Single) Last() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

func (s Single) clone() Series { return append(Single(nil), s...) }

// Multi is a sequence of sequences: each inner slice is one complete
// acquisition such as a spectrum or a trace.
type Multi [][]float64

func (m Multi) Kind() SeriesKind { return KindMulti }
func (m Multi) Len() int         { return len(m) }

func (m Multi) Points() int {
	total := 0
	for _, inner := range m {
		total += len(inner)
	}
	return total
}

func (m Multi) Last() (float64, bool) {
	if len(m) == 0 {
		return 0, false
	}
	return Single(m[len(m)-1]).Last()
}

func (m Multi) clone() Series {
	copied := make(Multi, len(m))
	for i, inner := range m {
		copied[i] = append([]float64(nil), inner...)
	}
	return copied
}

func cloneConfig(config map[string]any) map[string]any {
	copied := make(map[string]any, len(config))
	for key, value := range config {
		copied[key] = cloneValue(value)
	}
	return copied
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneConfig(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, element := range typed {
			copied[i] = cloneValue(element)
		}
		return copied
	default:
		return value
	}
}
