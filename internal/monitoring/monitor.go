// Package monitoring - monitor.go fans events out to every sink.
package monitoring

import "time"

// Monitor bundles the sinks the runtime reports to. Nil sinks are skipped.
type Monitor struct {
	Metrics *MetricsCollector
	Tracker *Tracker
	Audit   *AuditLog
	Alerts  *AlertManager
}

// NewMonitor builds the sinks from configuration. The audit log is opened
// only when enabled.
func NewMonitor(logger *Logger, telemetry TelemetryConfig, audit AuditConfig, alerts AlertConfig) (*Monitor, error) {
	tracker, err := NewTracker(telemetry)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		Metrics: NewMetricsCollector(),
		Tracker: tracker,
		Alerts:  NewAlertManager(logger, alerts),
	}
	if audit.Enabled && audit.Path != "" {
		if m.Audit, err = OpenAuditLog(audit.Path); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordTurn forwards a finished exchange to every sink.
func (m *Monitor) RecordTurn(event *TurnEvent) {
	if m.Metrics != nil {
		m.Metrics.RecordTurn(event)
	}
	if m.Tracker != nil {
		m.Tracker.RecordTurn(event)
	}
	if m.Audit != nil {
		m.Audit.RecordTurn(event)
	}
	if m.Alerts != nil {
		m.Alerts.RecordTurn(event)
	}
}

// RecordRetry counts a retried provider call.
func (m *Monitor) RecordRetry() {
	if m.Metrics != nil {
		m.Metrics.RecordRetry()
	}
}

// RecordTrim counts a retry-driven context trim.
func (m *Monitor) RecordTrim() {
	if m.Metrics != nil {
		m.Metrics.RecordTrim()
	}
}

// RecordToolCall counts a completed tool call.
func (m *Monitor) RecordToolCall(name string, success bool, d time.Duration) {
	if m.Metrics != nil {
		m.Metrics.RecordToolCall(name, success, d)
	}
}

// Close flushes and closes sinks that hold resources.
func (m *Monitor) Close() error {
	if m.Tracker != nil {
		m.Tracker.Close()
	}
	if m.Audit != nil {
		return m.Audit.Close()
	}
	return nil
}
