// Monitoring configuration - logging, telemetry, audit and alert settings.
//
// DESIGN: Separates logging (zerolog) from telemetry (JSONL files) and the
// turn audit (SQLite). Logging is for operators, telemetry and the audit
// are for analytics/debugging.
package config

import (
	"fmt"
	"time"

	"github.com/compresr/agent-runtime/internal/monitoring"
)

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	// Logging settings
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path

	// Telemetry settings
	TelemetryEnabled bool   `yaml:"telemetry_enabled"` // Enable turn telemetry
	TelemetryPath    string `yaml:"telemetry_path"`    // Path to telemetry JSONL file
	LogToStdout      bool   `yaml:"log_to_stdout"`     // Also log telemetry to stdout

	// Turn audit
	AuditEnabled bool   `yaml:"audit_enabled"` // Record one row per turn
	AuditPath    string `yaml:"audit_path"`    // SQLite database file

	// Alerts
	SlowTurnThreshold time.Duration `yaml:"slow_turn_threshold"` // Flag turns slower than this
}

// Validate checks the monitoring settings.
func (m MonitoringConfig) Validate() error {
	switch m.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("monitoring.log_level: unknown level %q", m.LogLevel)
	}
	switch m.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("monitoring.log_format: unknown format %q", m.LogFormat)
	}
	if m.TelemetryEnabled && m.TelemetryPath == "" {
		return fmt.Errorf("monitoring.telemetry_path is required when telemetry is enabled")
	}
	if m.AuditEnabled && m.AuditPath == "" {
		return fmt.Errorf("monitoring.audit_path is required when the audit is enabled")
	}
	return nil
}

// LoggerConfig converts the logging settings.
func (m MonitoringConfig) LoggerConfig() monitoring.LoggerConfig {
	return monitoring.LoggerConfig{Level: m.LogLevel, Format: m.LogFormat, Output: m.LogOutput}
}

// TelemetryConfig converts the telemetry settings.
func (m MonitoringConfig) TelemetryConfig() monitoring.TelemetryConfig {
	return monitoring.TelemetryConfig{Enabled: m.TelemetryEnabled, LogPath: m.TelemetryPath, LogToStdout: m.LogToStdout}
}

// AuditConfig converts the audit settings.
func (m MonitoringConfig) AuditConfig() monitoring.AuditConfig {
	return monitoring.AuditConfig{Enabled: m.AuditEnabled, Path: m.AuditPath}
}

// AlertConfig converts the alert settings.
func (m MonitoringConfig) AlertConfig() monitoring.AlertConfig {
	return monitoring.AlertConfig{SlowTurnThreshold: m.SlowTurnThreshold}
}
