// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package metrics records operational counters for the synchronization core.

Two implementations exist:

  - NoOpMetrics: in-memory atomics, no export. Default for CLI runs and
    tests.
  - PrometheusMetrics: full Prometheus export for long-running sessions
    where the daemon scrapes the client.

The interface is small on purpose: the core records outcomes, it does not
decide how they are aggregated.
*/
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric namespace and subsystem names.
const (
	metricsNamespace = "envis"

	subsystemSync      = "sync"
	subsystemDownloads = "downloads"
)

// Recorder receives outcome events from the synchronization core.
//
// Implementations must be safe for concurrent use; reconciliation loops
// call these from many goroutines.
type Recorder interface {
	// RecordToggle records a settled activation toggle.
	RecordToggle(success bool)

	// RecordRollback records an optimistic flip that had to be restored.
	RecordRollback(reason string)

	// RecordPoll records one reconciliation poll of the given kind
	// ("download", "runtime", "activation").
	RecordPoll(kind string)

	// RecordStalePoll records a poll result discarded by the clock guard.
	RecordStalePoll(kind string)

	// RecordDownloadBytes records transfer progress observed for a task.
	RecordDownloadBytes(bytes int64)

	// RecordSwitch records a completed environment switch.
	RecordSwitch(activated bool, serviceFailures int)
}

// =============================================================================
// No-op Implementation
// =============================================================================

// NoOpMetrics tracks totals in memory without export.
type NoOpMetrics struct {
	toggles    atomic.Int64
	rollbacks  atomic.Int64
	polls      atomic.Int64
	stalePolls atomic.Int64
	bytes      atomic.Int64
	switches   atomic.Int64
}

// Compile-time interface satisfaction check.
var _ Recorder = (*NoOpMetrics)(nil)

// NewNoOpMetrics creates an in-memory recorder.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// RecordToggle records a settled activation toggle.
func (m *NoOpMetrics) RecordToggle(success bool) { m.toggles.Add(1) }

// RecordRollback records a restored optimistic flip.
func (m *NoOpMetrics) RecordRollback(reason string) { m.rollbacks.Add(1) }

// RecordPoll records one reconciliation poll.
func (m *NoOpMetrics) RecordPoll(kind string) { m.polls.Add(1) }

// RecordStalePoll records a discarded poll result.
func (m *NoOpMetrics) RecordStalePoll(kind string) { m.stalePolls.Add(1) }

// RecordDownloadBytes records observed transfer progress.
func (m *NoOpMetrics) RecordDownloadBytes(bytes int64) { m.bytes.Add(bytes) }

// RecordSwitch records a completed environment switch.
func (m *NoOpMetrics) RecordSwitch(activated bool, serviceFailures int) { m.switches.Add(1) }

// Rollbacks returns the total rollback count (test helper).
func (m *NoOpMetrics) Rollbacks() int64 { return m.rollbacks.Load() }

// StalePolls returns the total discarded poll count (test helper).
func (m *NoOpMetrics) StalePolls() int64 { return m.stalePolls.Load() }

// =============================================================================
// Prometheus Implementation
// =============================================================================

// PrometheusMetrics exports core counters to a Prometheus registry.
type PrometheusMetrics struct {
	togglesTotal    *prometheus.CounterVec
	rollbacksTotal  *prometheus.CounterVec
	pollsTotal      *prometheus.CounterVec
	stalePollsTotal *prometheus.CounterVec
	downloadBytes   prometheus.Counter
	switchesTotal   *prometheus.CounterVec
}

// Compile-time interface satisfaction check.
var _ Recorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the Prometheus recorder. Call Register
// before recording.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		togglesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystemSync,
				Name:      "toggles_total",
				Help:      "Settled activation toggles by outcome",
			},
			[]string{"outcome"},
		),
		rollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystemSync,
				Name:      "rollbacks_total",
				Help:      "Optimistic flips restored after backend failure",
			},
			[]string{"reason"},
		),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystemSync,
				Name:      "polls_total",
				Help:      "Reconciliation polls by kind",
			},
			[]string{"kind"},
		),
		stalePollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystemSync,
				Name:      "stale_polls_total",
				Help:      "Poll results discarded by the logical clock guard",
			},
			[]string{"kind"},
		),
		downloadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystemDownloads,
				Name:      "bytes_total",
				Help:      "Download progress bytes observed",
			},
		),
		switchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystemSync,
				Name:      "switches_total",
				Help:      "Environment switches by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all collectors with the given registerer.
func (m *PrometheusMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.togglesTotal, m.rollbacksTotal, m.pollsTotal,
		m.stalePollsTotal, m.downloadBytes, m.switchesTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordToggle records a settled activation toggle.
func (m *PrometheusMetrics) RecordToggle(success bool) {
	m.togglesTotal.WithLabelValues(outcomeLabel(success)).Inc()
}

// RecordRollback records a restored optimistic flip.
func (m *PrometheusMetrics) RecordRollback(reason string) {
	m.rollbacksTotal.WithLabelValues(reason).Inc()
}

// RecordPoll records one reconciliation poll.
func (m *PrometheusMetrics) RecordPoll(kind string) {
	m.pollsTotal.WithLabelValues(kind).Inc()
}

// RecordStalePoll records a discarded poll result.
func (m *PrometheusMetrics) RecordStalePoll(kind string) {
	m.stalePollsTotal.WithLabelValues(kind).Inc()
}

// RecordDownloadBytes records observed transfer progress.
func (m *PrometheusMetrics) RecordDownloadBytes(bytes int64) {
	if bytes > 0 {
		m.downloadBytes.Add(float64(bytes))
	}
}

// RecordSwitch records a completed environment switch.
func (m *PrometheusMetrics) RecordSwitch(activated bool, serviceFailures int) {
	m.switchesTotal.WithLabelValues(outcomeLabel(activated)).Inc()
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
