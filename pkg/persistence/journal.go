// Package persistence provides the SQLite-backed session journal. Every
// debug session and every attempt is recorded so a session can be
// audited or reported on after the fact.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"connectorwiz/pkg/history"
	"connectorwiz/pkg/logx"
)

// Journal records debug sessions and their attempts in SQLite.
type Journal struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("journal")
	logger.Debug("journal opened at %s", path)

	return &Journal{db: db, logger: logger}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			workflow_kind  TEXT NOT NULL,
			started_at     TIMESTAMP NOT NULL,
			finished_at    TIMESTAMP,
			final_state    TEXT,
			outcome        TEXT,
			override       INTEGER NOT NULL DEFAULT 0,
			attempt_count  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			session_id      TEXT NOT NULL REFERENCES sessions(id),
			idx             INTEGER NOT NULL,
			code            TEXT NOT NULL,
			error_logs      TEXT NOT NULL,
			reasoning       TEXT NOT NULL,
			visible_output  TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			confidence      TEXT NOT NULL,
			is_timeout      INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_session ON attempts(session_id)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// BeginSession records the start of a debug session.
func (j *Journal) BeginSession(sessionID, workflowKind string) error {
	_, err := j.db.Exec(
		`INSERT INTO sessions (id, workflow_kind, started_at) VALUES (?, ?, ?)`,
		sessionID, workflowKind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordAttempt persists one attempt of a session.
func (j *Journal) RecordAttempt(sessionID string, attempt *history.Attempt) error {
	_, err := j.db.Exec(
		`INSERT INTO attempts
			(session_id, idx, code, error_logs, reasoning, visible_output, outcome, confidence, is_timeout, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		attempt.Index,
		attempt.CodeSnapshot,
		attempt.ErrorLogs,
		strings.Join(attempt.ReasoningTrace, "\n"),
		strings.Join(attempt.VisibleOutput, "\n"),
		string(attempt.Classification.Outcome),
		string(attempt.Classification.Confidence),
		boolToInt(attempt.IsTimeout),
		attempt.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to record attempt %d: %w", attempt.Index, err)
	}

	_, err = j.db.Exec(
		`UPDATE sessions SET attempt_count = attempt_count + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to bump attempt count: %w", err)
	}
	return nil
}

// FinishSession records the terminal state of a session. override marks
// a success forced by the operator rather than the classifier.
func (j *Journal) FinishSession(sessionID, finalState, outcome string, override bool) error {
	res, err := j.db.Exec(
		`UPDATE sessions SET finished_at = ?, final_state = ?, outcome = ?, override = ? WHERE id = ?`,
		time.Now().UTC(), finalState, outcome, boolToInt(override), sessionID)
	if err != nil {
		return fmt.Errorf("failed to record session finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// SessionRecord is a stored session row.
type SessionRecord struct {
	ID           string
	WorkflowKind string
	StartedAt    time.Time
	FinishedAt   *time.Time
	FinalState   string
	Outcome      string
	Override     bool
	AttemptCount int
}

// AttemptRecord is a stored attempt row.
type AttemptRecord struct {
	Index         int
	Code          string
	ErrorLogs     string
	Reasoning     string
	VisibleOutput string
	Outcome       string
	Confidence    string
	IsTimeout     bool
	CreatedAt     time.Time
}

// Session loads one session row by ID.
func (j *Journal) Session(sessionID string) (*SessionRecord, error) {
	row := j.db.QueryRow(
		`SELECT id, workflow_kind, started_at, finished_at, final_state, outcome, override, attempt_count
		 FROM sessions WHERE id = ?`, sessionID)

	var rec SessionRecord
	var finished sql.NullTime
	var finalState, outcome sql.NullString
	var override int
	if err := row.Scan(&rec.ID, &rec.WorkflowKind, &rec.StartedAt, &finished,
		&finalState, &outcome, &override, &rec.AttemptCount); err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	rec.FinalState = finalState.String
	rec.Outcome = outcome.String
	rec.Override = override != 0
	return &rec, nil
}

// Attempts loads all attempts of a session in order.
func (j *Journal) Attempts(sessionID string) ([]AttemptRecord, error) {
	rows, err := j.db.Query(
		`SELECT idx, code, error_logs, reasoning, visible_output, outcome, confidence, is_timeout, created_at
		 FROM attempts WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts for %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var isTimeout int
		if err := rows.Scan(&rec.Index, &rec.Code, &rec.ErrorLogs, &rec.Reasoning,
			&rec.VisibleOutput, &rec.Outcome, &rec.Confidence, &isTimeout, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		rec.IsTimeout = isTimeout != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempt rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
