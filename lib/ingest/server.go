// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/metrics"
	"github.com/spcs-instruments/pfex/lib/netutil"
	"github.com/spcs-instruments/pfex/lib/runstate"
)

// Replies written back to instruments, without the trailing newline.
const (
	AckDevice     = "Device measurements recorded"
	AckExperiment = "Experiment configuration processed"
	InvalidPrefix = "Invalid format: "
)

const (
	// DefaultAddress is the fixed local endpoint acquisition scripts
	// expect.
	DefaultAddress = "127.0.0.1:7676"

	// DefaultGracePeriod is how long open connections get after the
	// run is cancelled.
	DefaultGracePeriod = 3 * time.Second

	defaultBindAttempts = 5
	defaultBindBackoff  = 100 * time.Millisecond

	// maxLineSize bounds one instrument line. A Multi update carrying
	// a few long spectra fits comfortably.
	maxLineSize = 16 * 1024 * 1024
)

// ListenConfig configures Listen and the Server it returns.
type ListenConfig struct {
	// Address defaults to DefaultAddress.
	Address string

	// BindAttempts and BindBackoff control the retry while the
	// address is in use. Defaults: 5 attempts, 100ms doubling.
	BindAttempts int
	BindBackoff  time.Duration

	// GracePeriod defaults to DefaultGracePeriod. Negative means no
	// wait at all.
	GracePeriod time.Duration

	State *runstate.State

	// Hub receives every decoded line. Optional.
	Hub *Hub

	Metrics *metrics.Metrics
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Server is a bound ingestion endpoint for one run iteration.
type Server struct {
	listener    net.Listener
	state       *runstate.State
	hub         *Hub
	metrics     *metrics.Metrics
	clock       clock.Clock
	logger      *slog.Logger
	gracePeriod time.Duration

	// active tracks connection handlers so shutdown can wait for them
	// within the grace period.
	active sync.WaitGroup
	open   atomic.Int64
}

// Listen binds the ingestion endpoint. While the address is in use it
// retries with exponential backoff; any other failure, or exhausting
// the attempts, is returned at once.
func Listen(ctx context.Context, cfg ListenConfig) (*Server, error) {
	if cfg.State == nil {
		return nil, errors.New("ingest: State is required")
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.BindAttempts <= 0 {
		cfg.BindAttempts = defaultBindAttempts
	}
	if cfg.BindBackoff <= 0 {
		cfg.BindBackoff = defaultBindBackoff
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	listener, err := bind(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener:    listener,
		state:       cfg.State,
		hub:         cfg.Hub,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		gracePeriod: max(cfg.GracePeriod, 0),
	}, nil
}

func bind(ctx context.Context, cfg ListenConfig) (net.Listener, error) {
	var listenConfig net.ListenConfig
	backoff := cfg.BindBackoff

	for attempt := 1; ; attempt++ {
		listener, err := listenConfig.Listen(ctx, "tcp", cfg.Address)
		if err == nil {
			return listener, nil
		}
		if !netutil.IsAddressInUse(err) || attempt == cfg.BindAttempts {
			return nil, fmt.Errorf("binding ingest endpoint %s: %w", cfg.Address, err)
		}

		cfg.Logger.Warn("ingest address in use, retrying",
			"address", cfg.Address,
			"attempt", attempt,
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("binding ingest endpoint %s: %w", cfg.Address, ctx.Err())
		case <-cfg.Clock.After(backoff):
		}
		backoff *= 2
	}
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// OpenConnections returns the number of connections being served.
func (s *Server) OpenConnections() int { return int(s.open.Load()) }

// Serve accepts connections until ctx is cancelled. It then closes the
// listener, waits up to the grace period for open connections to end
// and returns nil. Connections still open are not closed.
func (s *Server) Serve(ctx context.Context) error {
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopWatch:
		}
		s.listener.Close()
	}()

	s.logger.Info("ingest server listening", "address", s.listener.Addr().String())

	var acceptErr error
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn("accept failed", "error", err)
				continue
			}
			acceptErr = fmt.Errorf("accepting on %s: %w", s.listener.Addr(), err)
			break
		}

		s.active.Add(1)
		s.open.Add(1)
		go func() {
			defer s.active.Done()
			defer s.open.Add(-1)
			s.handleConnection(conn)
		}()
	}

	s.drain()
	return acceptErr
}

func (s *Server) drain() {
	finished := make(chan struct{})
	go func() {
		s.active.Wait()
		close(finished)
	}()

	s.logger.Info("ingest server stopped accepting", "open_connections", s.OpenConnections())
	select {
	case <-finished:
		s.logger.Info("ingest connections drained")
	case <-s.clock.After(s.gracePeriod):
		s.logger.Warn("grace period elapsed with connections still open",
			"open_connections", s.OpenConnections(),
			"grace_period", s.gracePeriod,
		)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	logger.Info("instrument connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		reply := s.process(line, logger)
		if _, err := conn.Write(reply); err != nil {
			if !netutil.IsExpectedCloseError(err) {
				logger.Error("writing reply failed", "error", err)
			}
			return
		}
	}

	if err := scanner.Err(); err != nil && !netutil.IsExpectedCloseError(err) {
		logger.Error("reading from instrument failed", "error", err)
		return
	}
	logger.Info("instrument disconnected")
}

// process applies one non-blank line and returns the reply, newline
// included.
func (s *Server) process(line []byte, logger *slog.Logger) []byte {
	name, entity, err := runstate.DecodeLine(line)
	if err != nil {
		s.metrics.LineProcessed(metrics.LineInvalid)
		logger.Warn("rejected instrument line", "error", err)
		return []byte(InvalidPrefix + singleLine(err.Error()) + "\n")
	}

	if err := s.state.Update(name, entity); err != nil {
		s.recordUpdateError(err)
	}

	if s.hub != nil {
		s.hub.Publish(Line{
			Kind:     entity.Kind(),
			Name:     name,
			Raw:      bytes.Clone(line),
			Received: s.clock.Now(),
		})
	}

	switch entity.Kind() {
	case runstate.KindExperiment:
		s.metrics.LineProcessed(metrics.LineExperiment)
		logger.Info("experiment configuration processed", "entity", name)
		return []byte(AckExperiment + "\n")
	default:
		s.metrics.LineProcessed(metrics.LineDevice)
		logger.Debug("device measurements recorded", "entity", name)
		return []byte(AckDevice + "\n")
	}
}

// recordUpdateError counts a refused or partial update. The state has
// already logged it.
func (s *Server) recordUpdateError(err error) {
	var conflict *runstate.MergeConflictError
	switch {
	case errors.As(err, &conflict):
		s.metrics.UpdateError("merge_conflict")
	case errors.Is(err, runstate.ErrDuplicateExperiment):
		s.metrics.UpdateError("duplicate_experiment")
	default:
		s.metrics.UpdateError("other")
	}
}

func singleLine(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}
