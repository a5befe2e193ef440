package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	request_id          TEXT PRIMARY KEY,
	provider            TEXT NOT NULL,
	upstream_model      TEXT NOT NULL,
	requested_alias     TEXT NOT NULL,
	input_tokens        INTEGER NOT NULL,
	output_tokens       INTEGER NOT NULL,
	cached_input_tokens INTEGER NOT NULL,
	reasoning_tokens    INTEGER NOT NULL,
	cost_usd            REAL NOT NULL,
	energy_wh           REAL NOT NULL,
	created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	provider   TEXT NOT NULL,
	class      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS debug_logs (
	request_id                     TEXT PRIMARY KEY,
	raw_request                    BLOB,
	transformed_request            BLOB,
	raw_response                   BLOB,
	transformed_response           BLOB,
	raw_response_snapshot          BLOB,
	transformed_response_snapshot  BLOB,
	created_at                     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS classifier_log (
	request_id             TEXT PRIMARY KEY,
	tier                   TEXT NOT NULL,
	score                  REAL NOT NULL,
	confidence             REAL NOT NULL,
	method                 TEXT NOT NULL,
	reasoning              TEXT NOT NULL,
	signals                TEXT NOT NULL,
	agentic_score          REAL NOT NULL,
	has_structured_output  INTEGER NOT NULL,
	resolved_alias         TEXT NOT NULL,
	created_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS config_snapshots (
	name       TEXT PRIMARY KEY,
	config     BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLiteStore is the default embedded implementation of Store, backed by
// modernc.org/sqlite (pure-Go, no cgo, matching the rest of this module's
// build simplicity).
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path and ensures the §6
// schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// The embedded driver does not handle concurrent writers well; a single
	// connection serializes writes exactly the way spec.md §5 says the
	// store's own concurrency discipline may ("callers do not assume
	// serializability" -- so a lone connection is conforming, not just
	// convenient).
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, rec UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO usage
			(request_id, provider, upstream_model, requested_alias, input_tokens,
			 output_tokens, cached_input_tokens, reasoning_tokens, cost_usd, energy_wh, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.UpstreamModel, rec.RequestedAlias,
		rec.InputTokens, rec.OutputTokens, rec.CachedInputTokens, rec.ReasoningTokens,
		rec.CostUSD, rec.EnergyWh, timeOrNow(rec.CreatedAt))
	return err
}

func (s *SQLiteStore) RecordError(ctx context.Context, rec ErrorRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO errors (request_id, provider, class, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.Class, rec.Message, timeOrNow(rec.CreatedAt))
	return err
}

func (s *SQLiteStore) RecordClassifierLog(ctx context.Context, rec ClassifierLogRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO classifier_log
			(request_id, tier, score, confidence, method, reasoning, signals,
			 agentic_score, has_structured_output, resolved_alias, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Tier, rec.Score, rec.Confidence, rec.Method, rec.Reasoning,
		rec.Signals, rec.AgenticScore, boolToInt(rec.HasStructuredOutput), rec.ResolvedAlias,
		timeOrNow(rec.CreatedAt))
	return err
}

func (s *SQLiteStore) SaveDebugLog(ctx context.Context, rec DebugLogRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO debug_logs
			(request_id, raw_request, transformed_request, raw_response, transformed_response,
			 raw_response_snapshot, transformed_response_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.RawRequest, rec.TransformedRequest, rec.RawResponse, rec.TransformedResponse,
		rec.RawResponseSnapshot, rec.TransformedResponseSnapshot, timeOrNow(rec.CreatedAt))
	return err
}

func (s *SQLiteStore) ListDebugLogs(ctx context.Context, limit int) ([]DebugLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, raw_request, transformed_request, raw_response, transformed_response,
		       raw_response_snapshot, transformed_response_snapshot, created_at
		FROM debug_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DebugLogRecord
	for rows.Next() {
		var rec DebugLogRecord
		if err := rows.Scan(&rec.RequestID, &rec.RawRequest, &rec.TransformedRequest,
			&rec.RawResponse, &rec.TransformedResponse, &rec.RawResponseSnapshot,
			&rec.TransformedResponseSnapshot, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDebugLog(ctx context.Context, requestID string) (*DebugLogRecord, error) {
	var rec DebugLogRecord
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, raw_request, transformed_request, raw_response, transformed_response,
		       raw_response_snapshot, transformed_response_snapshot, created_at
		FROM debug_logs WHERE request_id = ?`, requestID)

	err := row.Scan(&rec.RequestID, &rec.RawRequest, &rec.TransformedRequest,
		&rec.RawResponse, &rec.TransformedResponse, &rec.RawResponseSnapshot,
		&rec.TransformedResponseSnapshot, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) DeleteDebugLog(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM debug_logs WHERE request_id = ?`, requestID)
	return err
}

func (s *SQLiteStore) SaveConfigSnapshot(ctx context.Context, rec ConfigSnapshotRecord) error {
	now := timeOrNow(rec.UpdatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_snapshots (name, config, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		rec.Name, rec.Config, timeOrNow(rec.CreatedAt), now)
	return err
}

func (s *SQLiteStore) LoadConfigSnapshot(ctx context.Context, name string) (*ConfigSnapshotRecord, error) {
	var rec ConfigSnapshotRecord
	row := s.db.QueryRowContext(ctx, `
		SELECT name, config, created_at, updated_at FROM config_snapshots WHERE name = ?`, name)

	err := row.Scan(&rec.Name, &rec.Config, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
