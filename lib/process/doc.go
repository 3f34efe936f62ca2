// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the pfex
// binaries: the raw stderr report used when run() fails, before or after
// the structured logger exists.
package process
