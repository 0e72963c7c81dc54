package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/sink"
	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

// timeLayout is RFC 3339 with fixed-width fractional seconds. Stored
// timestamps are always UTC, so lexicographic order over the column
// equals time order and SQL range comparisons work on the raw strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists delivery and run records in SQLite. Multiple service
// goroutines write concurrently; WAL plus the busy timeout handle the
// contention, and the connection pool is capped at one to serialize
// writes (SQLite limitation). No additional locking on top.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and if needed initializes) an audit database.
func Open(path string) (*Store, error) {
	// _busy_timeout: wait up to 5 seconds if the database is locked.
	// _journal_mode=WAL: write-ahead logging for concurrent access.
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS deliveries (
			run_id TEXT,
			source TEXT,
			target TEXT,
			status TEXT,
			created_at TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create deliveries table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			service TEXT,
			trigger_type TEXT,
			output TEXT,
			tokens_in INTEGER,
			tokens_out INTEGER,
			tokens_total INTEGER,
			tool_calls INTEGER,
			duration_ms INTEGER,
			success INTEGER,
			error TEXT,
			created_at TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database path this store was opened with.
func (s *Store) Path() string { return s.path }

// RecordDelivery appends one delivery record. Append-only: a record is
// written once per routing attempt and never updated. Failures are
// swallowed and logged, per the audit contract.
func (s *Store) RecordDelivery(ctx context.Context, record sink.DeliveryRecord) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO deliveries (run_id, source, target, status, created_at) VALUES (?, ?, ?, ?, ?)",
		record.RunID, record.Source, record.Target, string(record.Status),
		record.Time.UTC().Format(timeLayout))
	if err != nil {
		slog.Error("Failed to record delivery", "run_id", record.RunID, "error", err)
	}
}

// LogRun appends one run record. Never raises.
func (s *Store) LogRun(ctx context.Context, service, runID string, triggerType trigger.Type, result agent.RunResult) {
	success := 0
	if result.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, service, trigger_type, output, tokens_in, tokens_out,
			tokens_total, tool_calls, duration_ms, success, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, service, string(triggerType), result.Output,
		result.TokensIn, result.TokensOut, result.TokensTotal,
		result.ToolCalls, result.DurationMS, success, result.Error,
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		slog.Error("Failed to record run", "service", service, "run_id", runID, "error", err)
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
