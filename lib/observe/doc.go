// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe streams a live view of a run to pfex-view.
//
// The stream is a sequence of framed messages (protocol.go): one byte of
// type, a four-byte big-endian payload length, then a CBOR payload. On
// connect the server sends a [Hello] and an immediate [Snapshot], then a
// Snapshot every interval and a [LineEvent] for each instrument line the
// ingestion hub publishes. When the run ends the server sends an [End]
// and closes the connection; the viewer reconnects for the next
// iteration.
//
// Snapshots carry the display projection from
// runstate.State.LatestTruncated, never the full series, so frame size
// stays bounded however long the run.
package observe
