// Package storage persists invocation audit records in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shazaibn/nanobus/pkg/engine"
)

// AuditLog records every handled invocation in a local SQLite database. It
// implements engine.Recorder; write failures are logged and swallowed so the
// audit path can never fail an invocation.
type AuditLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditLog opens (or creates) the audit database at path and applies the
// schema.
func NewAuditLog(path string, logger *slog.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	log := &AuditLog{db: db, logger: logger}
	if err := log.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

func (a *AuditLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		interface TEXT NOT NULL,
		method TEXT NOT NULL,
		failure_kind TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		invoked_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_route ON invocations(interface, method);
	CREATE INDEX IF NOT EXISTS idx_invocations_invoked_at ON invocations(invoked_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// Record implements engine.Recorder.
func (a *AuditLog) Record(ctx context.Context, record engine.InvocationRecord) {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO invocations (id, interface, method, failure_kind, duration_ms, invoked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, record.ID, record.Interface, record.Method, string(record.Kind),
		record.Duration.Milliseconds(), record.At)
	if err != nil {
		a.logger.Warn("audit record write failed",
			"invocation_id", record.ID,
			"error", err,
		)
	}
}

// Invocation is one persisted audit entry.
type Invocation struct {
	ID          string
	Interface   string
	Method      string
	FailureKind string
	DurationMS  int64
	InvokedAt   time.Time
}

// Recent returns the most recent invocations, newest first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, interface, method, failure_kind, duration_ms, invoked_at
		FROM invocations ORDER BY invoked_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var results []Invocation
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(&inv.ID, &inv.Interface, &inv.Method, &inv.FailureKind, &inv.DurationMS, &inv.InvokedAt); err != nil {
			return nil, err
		}
		results = append(results, inv)
	}
	return results, rows.Err()
}

// Get returns a single invocation by id.
func (a *AuditLog) Get(ctx context.Context, id string) (*Invocation, error) {
	var inv Invocation
	err := a.db.QueryRowContext(ctx, `
		SELECT id, interface, method, failure_kind, duration_ms, invoked_at
		FROM invocations WHERE id = ?
	`, id).Scan(&inv.ID, &inv.Interface, &inv.Method, &inv.FailureKind, &inv.DurationMS, &inv.InvokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invocation %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
