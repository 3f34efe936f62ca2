// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/spcs-instruments/pfex/lib/metrics"
	"github.com/spcs-instruments/pfex/lib/runstate"
)

// DefaultSubscriberBuffer is the channel capacity Subscribe uses when
// asked for zero.
const DefaultSubscriberBuffer = 256

// Line is one decoded instrument line as published on a Hub.
type Line struct {
	// Sequence numbers lines in publish order starting at 1; a
	// subscriber sees a gap when it dropped lines.
	Sequence uint64

	Kind     runstate.Kind
	Name     string
	Raw      []byte
	Received time.Time
}

// Hub fans published lines out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the line.
type Hub struct {
	metrics *metrics.Metrics

	sequence atomic.Uint64
	dropped  atomic.Uint64

	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
}

// NewHub returns an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics:     m,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscription receives lines published after it was created.
type Subscription struct {
	// C delivers lines. It is closed by Close.
	C <-chan Line

	hub     *Hub
	events  chan Line
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a subscriber with the given buffer size.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	events := make(chan Line, buffer)
	subscription := &Subscription{C: events, hub: h, events: events}

	h.mu.Lock()
	h.subscribers[subscription] = struct{}{}
	h.mu.Unlock()
	return subscription
}

// Close unregisters the subscription and closes C. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s)
		s.hub.mu.Unlock()
		close(s.events)
	})
}

// Dropped returns how many lines this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Publish assigns line the next sequence number and offers it to every
// subscriber.
func (h *Hub) Publish(line Line) {
	line.Sequence = h.sequence.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for subscriber := range h.subscribers {
		select {
		case subscriber.events <- line:
		default:
			subscriber.dropped.Add(1)
			h.dropped.Add(1)
			h.metrics.HubDropped()
		}
	}
}

// Dropped returns the total number of missed deliveries.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
