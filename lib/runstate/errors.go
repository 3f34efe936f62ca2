// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runstate

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateExperiment is returned by Update when a second
	// experiment descriptor arrives. The first one is kept.
	ErrDuplicateExperiment = errors.New("cannot create multiple experiment descriptors per run")

	// ErrAlreadyFinalized is returned by the second FinalizeTime call.
	ErrAlreadyFinalized = errors.New("run already finalized")

	// ErrNoExperiment is returned by FinalizeTime when there is no
	// descriptor to stamp.
	ErrNoExperiment = errors.New("no experiment descriptor")
)

// MergeConflictError reports one measurement update that was dropped
// because its series variant disagreed with the stored one.
type MergeConflictError struct {
	Entity      string
	Measurement string
	Stored      SeriesKind
	Incoming    SeriesKind
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("device %q measurement %q: stored as %s, update is %s; update dropped",
		e.Entity, e.Measurement, e.Stored, e.Incoming)
}

// ValidationError is returned by Validate when the state is not a
// complete run record.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "run state invalid: " + e.Reason
}

// DecodeError is returned by DecodeLine when a line matches neither
// entity shape. Reply text for the sender is Error().
type DecodeError struct {
	// Syntax is set when the line is not JSON at all.
	Syntax error

	Device     error
	Experiment error
}

func (e *DecodeError) Error() string {
	if e.Syntax != nil {
		return fmt.Sprintf("invalid JSON: %v", e.Syntax)
	}
	return fmt.Sprintf("not a device record (%v) and not an experiment record (%v)", e.Device, e.Experiment)
}

func (e *DecodeError) Unwrap() []error {
	if e.Syntax != nil {
		return []error{e.Syntax}
	}
	return []error{e.Device, e.Experiment}
}
