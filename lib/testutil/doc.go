// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the helpers shared by pfex package tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so individual tests never call time.After themselves; they are
// the only wall-clock timeouts in the suite and exist purely to turn a
// hang into a failure.
//
// [NewLogCapture] returns a logger whose records can be inspected, for
// tests asserting that a merge conflict or duplicate descriptor was
// reported at the right level.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
