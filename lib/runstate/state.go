// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spcs-instruments/pfex/lib/clock"
)

// State is the shared state of one run iteration. All methods are safe
// for concurrent use.
type State struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*Device

	// experiment is the descriptor, nil until one arrives. It is kept
	// apart from devices, so an operator and a device may share a name.
	experiment *Experiment

	// recent maps a device to the measurement its latest update
	// touched, for Summaries.
	recent map[string]string

	finalized   bool
	finalizedAt time.Time
	running     bool
}

// New returns an empty, running State.
func New(clk clock.Clock, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &State{
		clock:   clk,
		logger:  logger,
		devices: make(map[string]*Device),
		recent:  make(map[string]string),
		running: true,
	}
}

// Update applies one decoded entity under name.
//
// A device merges into an existing device measurement by measurement:
// Single series are extended, Multi series gain the new inner
// sequences, and a measurement whose variant disagrees with the stored
// one is dropped with an error log (the returned error wraps one
// *MergeConflictError per drop) while the others still apply. The stored
// config is kept. A device under a new name is inserted as is.
//
// The first experiment descriptor is inserted with start_time set to now
// when it arrived without one. Later descriptors are ignored with a
// warning and ErrDuplicateExperiment. For a descriptor, name only labels
// log records: devices and the descriptor do not share a namespace.
func (s *State) Update(name string, incoming Entity) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch entity := incoming.(type) {
	case *Device:
		return s.updateDevice(name, entity)
	case *Experiment:
		return s.insertExperiment(name, entity, now)
	default:
		return fmt.Errorf("updating %q: unsupported entity type %T", name, incoming)
	}
}

func (s *State) updateDevice(name string, incoming *Device) error {
	stored, present := s.devices[name]
	if !present {
		device := incoming.clone().(*Device)
		device.Name = name
		s.devices[name] = device
		if latest := latestMeasurement(device.Measurements); latest != "" {
			s.recent[name] = latest
		}
		return nil
	}

	var conflicts []error
	applied := make(map[string]Series, len(incoming.Measurements))
	for _, measurement := range sortedKeys(incoming.Measurements) {
		update := incoming.Measurements[measurement]
		current, exists := stored.Measurements[measurement]
		if !exists {
			stored.Measurements[measurement] = update.clone()
			applied[measurement] = update
			continue
		}

		merged, ok := appendSeries(current, update)
		if !ok {
			conflict := &MergeConflictError{
				Entity:      name,
				Measurement: measurement,
				Stored:      current.Kind(),
				Incoming:    update.Kind(),
			}
			s.logger.Error("measurement variant mismatch, update dropped",
				"entity", name,
				"measurement", measurement,
				"stored", conflict.Stored.String(),
				"incoming", conflict.Incoming.String(),
			)
			conflicts = append(conflicts, conflict)
			continue
		}
		stored.Measurements[measurement] = merged
		applied[measurement] = update
	}

	if latest := latestMeasurement(applied); latest != "" {
		s.recent[name] = latest
	}
	return errors.Join(conflicts...)
}

// appendSeries concatenates update onto current when both are the same
// variant.
func appendSeries(current, update Series) (Series, bool) {
	switch stored := current.(type) {
	case Single:
		values, ok := update.(Single)
		if !ok {
			return nil, false
		}
		return append(stored, values...), true
	case Multi:
		sequences, ok := update.(Multi)
		if !ok {
			return nil, false
		}
		for _, inner := range sequences {
			stored = append(stored, append([]float64(nil), inner...))
		}
		return stored, true
	default:
		return nil, false
	}
}

// latestMeasurement picks the measurement whose last value Summaries
// reports: the last name, in sorted order, that carries any values.
func latestMeasurement(measurements map[string]Series) string {
	names := sortedKeys(measurements)
	for i := len(names) - 1; i >= 0; i-- {
		if _, ok := measurements[names[i]].Last(); ok {
			return names[i]
		}
	}
	return ""
}

func (s *State) insertExperiment(name string, incoming *Experiment, now time.Time) error {
	if s.experiment != nil {
		s.logger.Warn("cannot create multiple experiment descriptors per run",
			"entity", name,
			"existing", s.experiment.Info.Name,
		)
		return ErrDuplicateExperiment
	}

	experiment := incoming.clone().(*Experiment)
	if experiment.StartTime == "" {
		experiment.StartTime = FormatTimestamp(now)
	}
	// end_time belongs to finalization. A descriptor arriving after it
	// takes the recorded instant.
	experiment.EndTime = ""
	if s.finalized {
		experiment.EndTime = FormatTimestamp(s.finalizedAt)
	}

	s.experiment = experiment
	s.logger.Info("experiment descriptor recorded",
		"entity", name,
		"experiment", experiment.Info.ExperimentName,
	)
	return nil
}

// FinalizeTime stamps end_time on the descriptor with the current time.
// It succeeds once per run; later calls return ErrAlreadyFinalized. With
// no descriptor the instant is still recorded (a descriptor arriving
// afterwards adopts it) and ErrNoExperiment is returned.
func (s *State) FinalizeTime() error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrAlreadyFinalized
	}
	s.finalized = true
	s.finalizedAt = now

	if s.experiment == nil {
		return ErrNoExperiment
	}
	s.experiment.EndTime = FormatTimestamp(now)
	return nil
}

// Validate fails with a *ValidationError exactly when no experiment
// descriptor is present.
func (s *State) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.experiment == nil {
		return &ValidationError{Reason: fmt.Sprintf("no experiment descriptor (%d devices recorded)", len(s.devices))}
	}
	return nil
}

// ExperimentName returns the descriptor's experiment name, or "" when
// there is no descriptor.
func (s *State) ExperimentName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.experiment == nil {
		return ""
	}
	return s.experiment.Info.ExperimentName
}

// Experiment returns a copy of the descriptor.
func (s *State) Experiment() (Experiment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.experiment == nil {
		return Experiment{}, false
	}
	return *s.experiment, true
}

// DeviceNames returns the device names in sorted order.
func (s *State) DeviceNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.devices) == 0 {
		return nil
	}
	return sortedKeys(s.devices)
}

// Series returns a copy of one measurement's history.
func (s *State) Series(device, measurement string) (Series, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.devices[device]
	if !ok {
		return nil, false
	}
	series, ok := stored.Measurements[measurement]
	if !ok {
		return nil, false
	}
	return series.clone(), true
}

// Len returns the number of entities: the devices plus the descriptor,
// when there is one.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.experiment != nil {
		return len(s.devices) + 1
	}
	return len(s.devices)
}

// DeviceSummary is the per-device line of a status report.
type DeviceSummary struct {
	Name string

	// Points counts every recorded value across all measurements.
	Points int

	// Measurement is the measurement LatestValue came from. Empty when
	// the device has reported no values yet.
	Measurement string
	LatestValue float64
}

// Summaries returns one summary per device in name order.
func (s *State) Summaries() []DeviceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []DeviceSummary
	for name, device := range s.devices {
		summary := DeviceSummary{Name: name}
		for _, series := range device.Measurements {
			summary.Points += series.Points()
		}
		if measurement, ok := s.recent[name]; ok {
			if value, ok := device.Measurements[measurement].Last(); ok {
				summary.Measurement = measurement
				summary.LatestValue = value
			}
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// Running reports the liveness flag. It is true from New until Stop.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop clears the liveness flag.
func (s *State) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
