// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import "time"

// HeatDecayDuration is how long a row glows after an update. Heat
// decays linearly from 1 to 0 over it.
const HeatDecayDuration = 2 * time.Second

// HeatTickInterval is the re-render interval while anything is hot.
const HeatTickInterval = 100 * time.Millisecond

// HeatTracker records when each row last changed.
type HeatTracker struct {
	ignited map[string]time.Time
}

// NewHeatTracker returns an empty tracker.
func NewHeatTracker() *HeatTracker {
	return &HeatTracker{ignited: make(map[string]time.Time)}
}

// Ignite marks id as changed at now, restarting its decay.
func (tracker *HeatTracker) Ignite(id string, now time.Time) {
	tracker.ignited[id] = now
}

// Heat is 1 at ignition and 0 once HeatDecayDuration has passed or
// for rows never ignited.
func (tracker *HeatTracker) Heat(id string, now time.Time) float64 {
	at, ok := tracker.ignited[id]
	if !ok {
		return 0
	}
	elapsed := now.Sub(at)
	if elapsed >= HeatDecayDuration {
		return 0
	}
	return 1 - float64(elapsed)/float64(HeatDecayDuration)
}

// HasHot reports whether any row is still glowing, forgetting the rows
// that have cooled.
func (tracker *HeatTracker) HasHot(now time.Time) bool {
	hot := false
	for id, at := range tracker.ignited {
		if now.Sub(at) < HeatDecayDuration {
			hot = true
			continue
		}
		delete(tracker.ignited, id)
	}
	return hot
}
