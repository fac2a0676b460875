// Package store persists turn summaries for back-office analytics.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"estate-assistant/internal/domain"
)

// maxQuestionRunes bounds the stored copy of the visitor's question.
const maxQuestionRunes = 500

// timeLayout is fixed-width so started_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteTurnStore implements domain.TurnRecorder using SQLite.
type SQLiteTurnStore struct {
	db *sql.DB
}

var _ domain.TurnRecorder = (*SQLiteTurnStore)(nil)

// NewSQLiteTurnStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteTurnStore(dbPath string) (*SQLiteTurnStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &SQLiteTurnStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id            TEXT PRIMARY KEY,
			request_id    TEXT NOT NULL DEFAULT '',
			started_at    TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			path          TEXT NOT NULL DEFAULT '',
			forced_search INTEGER NOT NULL DEFAULT 0,
			tool_calls    INTEGER NOT NULL DEFAULT 0,
			searches      INTEGER NOT NULL DEFAULT 0,
			latency_ms    INTEGER NOT NULL DEFAULT 0,
			question      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_turns_started_at ON turns (started_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteTurnStore) Close() error {
	return s.db.Close()
}

// RecordTurn implements domain.TurnRecorder.
func (s *SQLiteTurnStore) RecordTurn(ctx context.Context, rec domain.TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, request_id, started_at, outcome, path, forced_search, tool_calls, searches, latency_ms, question)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.StartedAt.UTC().Format(timeLayout),
		string(rec.Outcome), string(rec.Path), boolToInt(rec.ForcedSearch),
		rec.ToolCalls, rec.Searches, rec.Latency.Milliseconds(), clip(rec.Question, maxQuestionRunes),
	)
	if err != nil {
		return domain.NewDomainError("TurnStore.RecordTurn", domain.ErrLedgerWrite, err.Error())
	}
	return nil
}

// RecentTurns implements domain.TurnRecorder. Newest first.
func (s *SQLiteTurnStore) RecentTurns(ctx context.Context, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, started_at, outcome, path, forced_search, tool_calls, searches, latency_ms, question
		 FROM turns ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []domain.TurnRecord
	for rows.Next() {
		rec, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanTurn(rows *sql.Rows) (*domain.TurnRecord, error) {
	var (
		rec       domain.TurnRecord
		startedAt string
		outcome   string
		path      string
		forced    int
		latencyMS int64
	)
	if err := rows.Scan(&rec.ID, &rec.RequestID, &startedAt, &outcome, &path, &forced,
		&rec.ToolCalls, &rec.Searches, &latencyMS, &rec.Question); err != nil {
		return nil, fmt.Errorf("scan turn: %w", err)
	}
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = t
	rec.Outcome = domain.Outcome(outcome)
	rec.Path = domain.ResponsePath(path)
	rec.ForcedSearch = forced != 0
	rec.Latency = time.Duration(latencyMS) * time.Millisecond
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
