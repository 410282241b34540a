// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by orchestrator/, gateway/ and cmd/.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - TurnOutcome:  How an exchange ended
//   - TurnEvent:    Telemetry data for each exchange
//   - Config types: LoggerConfig, TelemetryConfig, AuditConfig, AlertConfig
package monitoring

import "time"

// =============================================================================
// TURN OUTCOMES
// =============================================================================

// TurnOutcome classifies how one exchange ended.
type TurnOutcome string

const (
	OutcomeSuccess TurnOutcome = "success"
	OutcomePartial TurnOutcome = "partial"
	OutcomeFailed  TurnOutcome = "failed"
	OutcomeTimeout TurnOutcome = "timeout"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// TurnEvent captures one user exchange, from the user message to the reply
// or failure. It never carries conversation text.
type TurnEvent struct {
	RequestID    string      `json:"request_id"`
	SessionID    string      `json:"session_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model,omitempty"`
	Attempts     int         `json:"attempts"`
	Retries      int         `json:"retries"`
	Trims        int         `json:"trims"`
	ToolRounds   int         `json:"tool_rounds"`
	ToolCalls    int         `json:"tool_calls"`
	InputTokens  int         `json:"input_tokens,omitempty"`
	OutputTokens int         `json:"output_tokens,omitempty"`
	TotalTokens  int         `json:"total_tokens,omitempty"`
	LatencyMs    int64       `json:"latency_ms"`
	Outcome      TurnOutcome `json:"outcome"`
	Error        string      `json:"error,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AuditConfig configures the SQLite turn audit.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	SlowTurnThreshold time.Duration `yaml:"slow_turn_threshold"`
}
