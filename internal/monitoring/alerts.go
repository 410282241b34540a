// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagSlowTurn:          Warn when an exchange exceeds the threshold
//   - FlagTurnFailed:        Error when an exchange fails after retries
//   - FlagProviderError:     Warn on each failed provider attempt
//   - FlagPanic:             Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger            *Logger
	slowTurnThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.SlowTurnThreshold
	if threshold == 0 {
		threshold = 30 * time.Second
	}
	return &AlertManager{logger: logger, slowTurnThreshold: threshold}
}

// RecordTurn raises the alerts a finished exchange warrants.
func (am *AlertManager) RecordTurn(event *TurnEvent) {
	latency := time.Duration(event.LatencyMs) * time.Millisecond
	am.FlagSlowTurn(event.RequestID, latency, event.Provider)
	if event.Outcome == OutcomeFailed || event.Outcome == OutcomeTimeout {
		am.FlagTurnFailed(event.RequestID, event.Provider, event.Attempts, event.Error)
	}
}

// FlagSlowTurn logs when an exchange exceeds the threshold.
func (am *AlertManager) FlagSlowTurn(requestID string, latency time.Duration, provider string) {
	if latency < am.slowTurnThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("provider", provider).
		Msg("slow_turn")
}

// FlagTurnFailed logs an exchange that failed for good.
func (am *AlertManager) FlagTurnFailed(requestID, provider string, attempts int, errMsg string) {
	am.logger.Error().
		Str("request_id", requestID).
		Str("provider", provider).
		Int("attempts", attempts).
		Str("error", errMsg).
		Msg("turn_failed")
}

// FlagProviderError logs one failed provider attempt.
func (am *AlertManager) FlagProviderError(requestID, provider string, attempt int, err error) {
	am.logger.Warn().
		Str("request_id", requestID).
		Str("provider", provider).
		Int("attempt", attempt).
		Err(err).
		Msg("provider_error")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}
