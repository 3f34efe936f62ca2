// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package runview

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/observe"
)

// DefaultRetryInterval is the pause between connection attempts.
const DefaultRetryInterval = time.Second

// EventKind distinguishes connection changes from frames.
type EventKind int

const (
	EventConnected EventKind = iota
	EventFrame
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventFrame:
		return "frame"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one thing that happened on the followed endpoint.
type Event struct {
	Kind EventKind

	// Frame is set for EventFrame.
	Frame observe.Frame

	// Err is why the connection was lost or could not be made. It is
	// nil when the server ended the stream cleanly.
	Err error
}

// FollowConfig configures Follow.
type FollowConfig struct {
	Address       string
	RetryInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Follow connects to the observation endpoint and reports what it
// sees until ctx is cancelled, reconnecting after every disconnect.
// The returned channel is closed when Follow stops.
func Follow(ctx context.Context, cfg FollowConfig) <-chan Event {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		send := func(event Event) bool {
			select {
			case events <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			client, err := observe.Dial(ctx, cfg.Address)
			if err == nil {
				if !send(Event{Kind: EventConnected}) {
					client.Close()
					return
				}
				err = stream(ctx, client, send)
			}
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				cfg.Logger.Debug("observation stream lost", "address", cfg.Address, "error", err)
			}
			if !send(Event{Kind: EventDisconnected, Err: err}) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-cfg.Clock.After(cfg.RetryInterval):
			}
		}
	}()
	return events
}

var errStopped = errors.New("follow stopped")

// stream forwards frames until the server ends the stream, the
// connection fails or ctx is cancelled.
func stream(ctx context.Context, client *observe.Client, send func(Event) bool) error {
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	for {
		frame, err := client.Next()
		if err != nil {
			return err
		}
		if !send(Event{Kind: EventFrame, Frame: frame}) {
			return errStopped
		}
		if _, ok := frame.(*observe.End); ok {
			return nil
		}
	}
}
