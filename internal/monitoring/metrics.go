// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - turns/successes/failures/partials: exchange outcomes
//   - retries/trims:                     retry policy activity
//   - tool_calls/tool_failures:          invoker activity
//
// Served as JSON on the gateway's /stats endpoint.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	turns        atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	partials     atomic.Int64
	retries      atomic.Int64
	trims        atomic.Int64
	toolCalls    atomic.Int64
	toolFailures atomic.Int64
	connections  atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordTurn records a finished exchange.
func (mc *MetricsCollector) RecordTurn(event *TurnEvent) {
	mc.turns.Add(1)
	switch event.Outcome {
	case OutcomeSuccess:
		mc.successes.Add(1)
	case OutcomePartial:
		mc.partials.Add(1)
	default:
		mc.failures.Add(1)
	}
}

// RecordRetry records one retried provider call.
func (mc *MetricsCollector) RecordRetry() { mc.retries.Add(1) }

// RecordTrim records one retry-driven context trim.
func (mc *MetricsCollector) RecordTrim() { mc.trims.Add(1) }

// RecordToolCall records a completed tool call.
func (mc *MetricsCollector) RecordToolCall(_ string, success bool, _ time.Duration) {
	mc.toolCalls.Add(1)
	if !success {
		mc.toolFailures.Add(1)
	}
}

// RecordConnection records an accepted protocol connection.
func (mc *MetricsCollector) RecordConnection() { mc.connections.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"turns":         mc.turns.Load(),
		"successes":     mc.successes.Load(),
		"failures":      mc.failures.Load(),
		"partials":      mc.partials.Load(),
		"retries":       mc.retries.Load(),
		"trims":         mc.trims.Load(),
		"tool_calls":    mc.toolCalls.Load(),
		"tool_failures": mc.toolFailures.Load(),
		"connections":   mc.connections.Load(),
	}
}
