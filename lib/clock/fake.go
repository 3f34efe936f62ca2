// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock reading initial. Time only moves when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a manually advanced Clock. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingWake
	changed *sync.Cond
}

// pendingWake is one registered After, Sleep or ticker deadline.
type pendingWake struct {
	deadline time.Time
	channel  chan time.Time
	// period is non-zero for tickers, which are re-armed after firing.
	period  time.Duration
	stopped bool
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot wake d from now.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.pending = append(c.pending, &pendingWake{deadline: c.now.Add(d), channel: channel})
	c.changed.Broadcast()
	return channel
}

// NewTicker registers a periodic wake every d.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	wake := &pendingWake{
		deadline: c.now.Add(d),
		channel:  make(chan time.Time, 1),
		period:   d,
	}
	c.pending = append(c.pending, wake)
	c.changed.Broadcast()

	return &Ticker{
		C: wake.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			wake.stopped = true
		},
	}
}

// Sleep blocks until the clock has been advanced past d from now.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every wake whose
// deadline is reached, earliest first. A ticker spanning several
// periods fires once per period; ticks that find its channel full are
// dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, wake := range due {
			select {
			case wake.channel <- target:
			default:
			}
		}
	}
}

// takeDue removes the wakes due at or before target, re-arming tickers
// for their next period.
func (c *FakeClock) takeDue(target time.Time) []*pendingWake {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*pendingWake
	for _, wake := range c.pending {
		switch {
		case wake.stopped:
		case wake.deadline.After(target):
			keep = append(keep, wake)
		default:
			due = append(due, wake)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, wake := range due {
		if wake.period > 0 {
			wake.deadline = wake.deadline.Add(wake.period)
			keep = append(keep, wake)
		}
	}
	c.pending = keep
	return due
}

// WaitForTimers blocks until at least n wakes are registered. Tests use
// it to close the race between a goroutine arming a ticker or sleep and
// the test advancing the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered, unstopped wakes.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, wake := range c.pending {
		if !wake.stopped {
			count++
		}
	}
	return count
}
