// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring support
// conversations. Metrics include:
//   - Turn counters and latency (by phase and outcome)
//   - Tool call counters (by tool and dispatch status)
//   - Poll attempt histograms per run
//   - Phase transition counters
//   - Active session and dropped history gauges/counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics so components can run without
// instrumentation in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "fieldassist"

// Turn outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeRunFailed   = "run_failed"
	OutcomeTimeout     = "timeout"
	OutcomeEngineError = "engine_error"
)

// Metrics holds all Prometheus metrics for conversation handling.
//
// # Fields
//
//   - TurnsTotal: Counter of turns by phase and outcome
//   - TurnDurationSeconds: Histogram of turn latency by phase
//   - ToolCallsTotal: Counter of tool calls by tool and status
//   - PollAttempts: Histogram of status polls per turn by phase
//   - PhaseTransitionsTotal: Counter of transitions by from and to
//   - ActiveSessions: Gauge of sessions held in memory
//   - HistoryDroppedTotal: Counter of history rows dropped on a full queue
type Metrics struct {
	TurnsTotal            *prometheus.CounterVec
	TurnDurationSeconds   *prometheus.HistogramVec
	ToolCallsTotal        *prometheus.CounterVec
	ToolDurationSeconds   *prometheus.HistogramVec
	PollAttempts          *prometheus.HistogramVec
	PhaseTransitionsTotal *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
	HistoryDroppedTotal   prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg.
//
// # Inputs
//
//   - reg: Registerer to use. Pass prometheus.DefaultRegisterer in
//     production and prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "turns_total",
				Help:      "Total conversation turns by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "turn_duration_seconds",
				Help:      "Wall time of a conversation turn in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"phase"},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_calls_total",
				Help:      "Total tool calls by tool and dispatch status",
			},
			[]string{"tool", "status"},
		),

		ToolDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "tool_duration_seconds",
				Help:      "Tool call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"tool"},
		),

		PollAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "poll_attempts",
				Help:      "Run status polls needed per turn",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"phase"},
		),

		PhaseTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "phase_transitions_total",
				Help:      "Total phase transitions by source and target phase",
			},
			[]string{"from", "to"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Number of sessions held in memory",
			},
		),

		HistoryDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "history_dropped_total",
				Help:      "Conversation history rows dropped because the write queue was full",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(phase, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(phase, outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// RecordToolCall records one dispatched tool call. Its signature matches
// dispatch.Observer.
func (m *Metrics) RecordToolCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolDurationSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordPolls records the number of status polls one run needed.
func (m *Metrics) RecordPolls(phase string, attempts int) {
	if m == nil {
		return
	}
	m.PollAttempts.WithLabelValues(phase).Observe(float64(attempts))
}

// RecordTransition counts a phase change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.PhaseTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordHistoryDropped counts one dropped history row.
func (m *Metrics) RecordHistoryDropped() {
	if m == nil {
		return
	}
	m.HistoryDroppedTotal.Inc()
}
