// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest serves the instrument line protocol.
//
// Acquisition scripts connect over TCP and write one JSON document per
// line. Each line is decoded with runstate.DecodeLine, applied to the
// run's state and answered with a single text line:
//
//	Device measurements recorded
//	Experiment configuration processed
//	Invalid format: <diagnostic>
//
// A rejected line changes nothing and leaves the connection open.
// Every decoded line is also published on a [Hub] so observers (the
// observation stream, tests) can follow the raw traffic without touching
// the state lock.
//
// [Listen] binds the endpoint, retrying with exponential backoff while
// the address is still held by the previous run iteration. [Server.Serve]
// runs the accept loop until its context is cancelled, then stops
// accepting and gives open connections the grace period to finish on
// their own. Connections still open after that are left alone.
//
// [Client] speaks the same protocol from the instrument side.
package ingest
