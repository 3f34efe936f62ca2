// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs the data-acquisition process of a run.
//
// The child is started in its own process group with the ingestion
// address in its environment (AddressVariable). Its stdout and stderr
// are split into lines and each line is given a log level by a
// [Classifier]; the caller consumes them from [Process.Lines]. When the
// context passed to [Start] is cancelled the whole group receives
// SIGTERM, then SIGKILL once the kill grace period has passed.
package supervisor
