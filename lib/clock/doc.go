// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every pfex
// component that ticks, sleeps, or stamps records.
//
// The status reporter and persistence task run on fixed intervals and
// honour a grace period after the shutdown signal; the run state stamps
// experiment start and end times. All of them take a [Clock] instead of
// calling the time package, so tests can drive a whole run with [Fake]:
//
//	fakeClock := clock.Fake(epoch)
//	go task.Run(ctx)
//	fakeClock.WaitForTimers(1)          // task registered its ticker
//	fakeClock.Advance(5 * time.Second)  // one tick, deterministically
//
// Production wiring passes [Real].
package clock
