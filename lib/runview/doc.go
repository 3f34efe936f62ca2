// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package runview is the terminal viewer for a running experiment. It
// follows a pfex observation endpoint across runs (reconnecting when a
// run ends and the next begins) and renders the device table, a
// sparkline per measurement of the selected device, and the stream of
// accepted instrument lines.
//
// [Follow] owns the connection and turns it into a channel of
// [Event]s; [Model] is the bubbletea model that consumes them.
package runview
