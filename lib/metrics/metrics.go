// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines pfex's Prometheus instruments.
//
// Every instrument lives on a private registry created by [New], so tests
// build as many independent sets as they like. Recording methods accept a
// nil *Metrics and do nothing, which lets library code record
// unconditionally while tests that do not care pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Line outcomes for LineProcessed.
const (
	LineDevice     = "device"
	LineExperiment = "experiment"
	LineInvalid    = "invalid"
)

// Metrics is the set of pfex instruments.
type Metrics struct {
	registry *prometheus.Registry

	lines           *prometheus.CounterVec
	updateErrors    *prometheus.CounterVec
	connections     prometheus.Gauge
	hubDropped      prometheus.Counter
	snapshotWrites  *prometheus.CounterVec
	snapshotSeconds prometheus.Histogram
	snapshotBytes   prometheus.Gauge
	runs            *prometheus.CounterVec
	runSeconds      prometheus.Histogram
}

// New creates the instruments on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pfex_ingest_lines_total",
			Help: "Instrument lines received, by decoded kind.",
		}, []string{"kind"}),
		updateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pfex_state_update_errors_total",
			Help: "State updates refused or partially dropped, by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pfex_ingest_connections",
			Help: "Instrument connections currently open.",
		}),
		hubDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfex_hub_dropped_lines_total",
			Help: "Accepted lines not delivered to a slow observer.",
		}),
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pfex_snapshot_writes_total",
			Help: "Snapshot writes, by result.",
		}, []string{"result"}),
		snapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pfex_snapshot_write_seconds",
			Help:    "Time to encode and write one snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pfex_snapshot_bytes",
			Help: "Size of the most recent snapshot.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pfex_runs_total",
			Help: "Finished run iterations, by outcome.",
		}, []string{"outcome"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pfex_run_seconds",
			Help:    "Wall time of a run iteration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
	}

	m.registry.MustRegister(
		m.lines,
		m.updateErrors,
		m.connections,
		m.hubDropped,
		m.snapshotWrites,
		m.snapshotSeconds,
		m.snapshotBytes,
		m.runs,
		m.runSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the instruments are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// LineProcessed counts one received line; kind is LineDevice,
// LineExperiment or LineInvalid.
func (m *Metrics) LineProcessed(kind string) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(kind).Inc()
}

// UpdateError counts one refused or partially applied state update.
func (m *Metrics) UpdateError(reason string) {
	if m == nil {
		return
	}
	m.updateErrors.WithLabelValues(reason).Inc()
}

// ConnectionOpened and ConnectionClosed track open instrument
// connections.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// HubDropped counts lines an observer missed.
func (m *Metrics) HubDropped() {
	if m == nil {
		return
	}
	m.hubDropped.Inc()
}

// SnapshotWritten records one snapshot write attempt.
func (m *Metrics) SnapshotWritten(size int, seconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotWrites.WithLabelValues("error").Inc()
		return
	}
	m.snapshotWrites.WithLabelValues("ok").Inc()
	m.snapshotSeconds.Observe(seconds)
	m.snapshotBytes.Set(float64(size))
}

// RunFinished records one run iteration's outcome and duration.
func (m *Metrics) RunFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runSeconds.Observe(seconds)
}
