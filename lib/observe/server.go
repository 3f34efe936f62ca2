// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/ingest"
	"github.com/spcs-instruments/pfex/lib/netutil"
	"github.com/spcs-instruments/pfex/lib/runstate"
)

const (
	DefaultInterval  = time.Second
	DefaultMaxPoints = 100

	// writeTimeout bounds one frame write so a stalled viewer cannot
	// hold its stream goroutine past the end of the run.
	writeTimeout = 5 * time.Second

	// EndRunFinished is the End reason sent when the run's context is
	// cancelled.
	EndRunFinished = "run finished"
)

// ServerConfig configures Listen.
type ServerConfig struct {
	Address string

	RunID         string
	Iteration     int
	IngestAddress string

	State *runstate.State

	// Hub feeds LineEvents. Optional.
	Hub *ingest.Hub

	Interval  time.Duration
	MaxPoints int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server streams observation frames to any number of viewers.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	started  time.Time
	streams  sync.WaitGroup
}

// Listen binds the observation endpoint.
func Listen(ctx context.Context, cfg ServerConfig) (*Server, error) {
	if cfg.State == nil {
		return nil, errors.New("observe: State is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = DefaultMaxPoints
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("binding observation endpoint %s: %w", cfg.Address, err)
	}
	return &Server{cfg: cfg, listener: listener, started: cfg.Clock.Now()}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts viewers until ctx is cancelled, then sends every open
// stream an End frame and waits for the streams to finish.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	var serveErr error
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = fmt.Errorf("accepting viewers: %w", err)
			}
			break
		}
		s.streams.Add(1)
		go func() {
			defer s.streams.Done()
			defer conn.Close()
			s.stream(ctx, conn)
		}()
	}
	s.streams.Wait()
	return serveErr
}

func (s *Server) stream(ctx context.Context, conn net.Conn) {
	logger := s.cfg.Logger.With("viewer", conn.RemoteAddr().String())
	logger.Info("viewer connected")

	var lines <-chan ingest.Line
	var subscription *ingest.Subscription
	if s.cfg.Hub != nil {
		subscription = s.cfg.Hub.Subscribe(0)
		defer subscription.Close()
		lines = subscription.C
	}

	send := func(frame Frame) bool {
		message, err := EncodeFrame(frame)
		if err == nil {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = WriteMessage(conn, message)
		}
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				logger.Warn("observation stream ended", "error", err)
			}
			return false
		}
		return true
	}

	hello := &Hello{
		RunID:         s.cfg.RunID,
		Iteration:     s.cfg.Iteration,
		IngestAddress: s.cfg.IngestAddress,
		StartedMillis: s.started.UnixMilli(),
		MaxPoints:     s.cfg.MaxPoints,
	}
	var sequence uint64
	if !send(hello) || !send(s.snapshot(&sequence, subscription)) {
		return
	}

	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			send(s.snapshot(&sequence, subscription))
			send(&End{Reason: EndRunFinished})
			logger.Info("viewer stream closed")
			return
		case <-ticker.C:
			if !send(s.snapshot(&sequence, subscription)) {
				return
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			event := &LineEvent{
				Sequence:       line.Sequence,
				Kind:           line.Kind.String(),
				Name:           line.Name,
				Size:           len(line.Raw),
				ReceivedMillis: line.Received.UnixMilli(),
			}
			if !send(event) {
				return
			}
		}
	}
}

func (s *Server) snapshot(sequence *uint64, subscription *ingest.Subscription) *Snapshot {
	*sequence++
	summaries := s.cfg.State.Summaries()
	devices := make([]DeviceSummary, len(summaries))
	for i, summary := range summaries {
		devices[i] = DeviceSummary{
			Name:        summary.Name,
			Points:      summary.Points,
			Measurement: summary.Measurement,
			LatestValue: summary.LatestValue,
		}
	}
	snapshot := &Snapshot{
		Sequence:   *sequence,
		TimeMillis: s.cfg.Clock.Now().UnixMilli(),
		Experiment: s.cfg.State.ExperimentName(),
		Devices:    devices,
		Latest:     s.cfg.State.LatestTruncated(s.cfg.MaxPoints),
	}
	if subscription != nil {
		snapshot.Dropped = subscription.Dropped()
	}
	return snapshot
}
