// Package monitoring - audit.go persists turn metadata to SQLite.
//
// DESIGN: One row per exchange in a local database file, for offline
// inspection of retries, trims and latency. Only TurnEvent fields are
// stored; conversation text never leaves memory and nothing is read back
// into a session.
package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	recorded_at   TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT,
	attempts      INTEGER NOT NULL,
	retries       INTEGER NOT NULL,
	trims         INTEGER NOT NULL,
	tool_rounds   INTEGER NOT NULL,
	tool_calls    INTEGER NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens  INTEGER NOT NULL,
	latency_ms    INTEGER NOT NULL,
	outcome       TEXT NOT NULL,
	error         TEXT
);
CREATE INDEX IF NOT EXISTS turns_session ON turns(session_id);
`

// AuditLog writes TurnEvents to a SQLite database.
type AuditLog struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenAuditLog opens (creating if needed) the database at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// RecordTurn inserts one row. Failures are logged, never returned, so the
// audit cannot fail an exchange.
func (a *AuditLog) RecordTurn(event *TurnEvent) {
	if err := a.Insert(context.Background(), event); err != nil {
		log.Error().Err(err).Str("request_id", event.RequestID).Msg("audit: failed to record turn")
	}
}

// Insert writes one row.
func (a *AuditLog) Insert(ctx context.Context, e *TurnEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO turns (request_id, session_id, recorded_at, provider, model, attempts, retries, trims,
			tool_rounds, tool_calls, input_tokens, output_tokens, total_tokens, latency_ms, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.SessionID, ts.UTC().Format(time.RFC3339Nano), e.Provider, e.Model,
		e.Attempts, e.Retries, e.Trims, e.ToolRounds, e.ToolCalls,
		e.InputTokens, e.OutputTokens, e.TotalTokens, e.LatencyMs, string(e.Outcome), e.Error)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Recent returns up to limit rows for a session, newest first. An empty
// sessionID matches every session.
func (a *AuditLog) Recent(ctx context.Context, sessionID string, limit int) ([]TurnEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.QueryContext(ctx, `
		SELECT request_id, session_id, recorded_at, provider, COALESCE(model, ''), attempts, retries, trims,
			tool_rounds, tool_calls, input_tokens, output_tokens, total_tokens, latency_ms, outcome, COALESCE(error, '')
		FROM turns
		WHERE ? = '' OR session_id = ?
		ORDER BY id DESC
		LIMIT ?`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnEvent
	for rows.Next() {
		var (
			e       TurnEvent
			ts      string
			outcome string
		)
		if err := rows.Scan(&e.RequestID, &e.SessionID, &ts, &e.Provider, &e.Model, &e.Attempts, &e.Retries,
			&e.Trims, &e.ToolRounds, &e.ToolCalls, &e.InputTokens, &e.OutputTokens, &e.TotalTokens,
			&e.LatencyMs, &outcome, &e.Error); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Outcome = TurnOutcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
