// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package run coordinates one experiment run iteration and the loop over
// iterations.
//
// An iteration moves Idle → Running → Draining → Complete or Failed.
// Starting it binds the ingestion endpoint first; only once that
// succeeds are the ingestion server, status reporter, persistence task,
// optional observation server and the acquisition process started, all
// sharing one cancellable context. The iteration drains exactly once:
// when the process exits, when any task fails, or when the parent
// context is cancelled. Draining joins every task, recovering panics,
// and the iteration is Complete when the persistence task produced a
// final snapshot. Notification, archiving, the ledger and metrics follow
// the join.
package run
