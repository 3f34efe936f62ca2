// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package runstate holds the in-memory state of one experiment run: the
// experiment descriptor and every device's measurement history.
//
// A [State] is created when a run iteration starts and discarded when it
// ends. The ingestion server mutates it through [State.Update]; the status
// reporter, persistence task and observation stream read it. One mutex
// covers the whole state. It is never held across I/O: snapshot
// documents are built under the lock and encoded afterwards.
//
// # Entities
//
// An [Entity] is either a [*Device] or an [*Experiment]. A run holds at
// most one experiment descriptor and any number of devices, keyed by
// device name. The descriptor is held apart from the devices, so a device
// may carry the operator's name. Device measurements are [Series] values, either [Single]
// (a flat sequence) or [Multi] (a sequence of sequences, one per
// acquisition). The variant a measurement is first seen with is fixed
// for the run; an update that disagrees is dropped for that measurement
// only and reported as a [*MergeConflictError].
//
// # Wire decoding
//
// [DecodeLine] turns one JSON line from an instrument into a name and an
// Entity. The line carries no type tag: the device shape is tried first,
// then the experiment shape.
//
// # Snapshots
//
// [State.Snapshot] renders the full state as TOML; [State.WriteSnapshot]
// replaces a file with it atomically. [State.LatestTruncated] is a lossy
// display projection for viewers and is never persisted. [LoadData] reads
// the measurement data back out of a snapshot file.
package runstate
