// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the pfex binaries.
//
// Release builds inject [Version], [GitCommit] and [BuildTime] with
// -ldflags -X. Development builds fall back to the VCS revision the Go
// toolchain stamps into the binary.
package version
