// Package sqlite persists update cycle history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS update_cycles (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	trigger     TEXT NOT NULL,
	run_time    INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	files       INTEGER NOT NULL DEFAULT 0,
	tiles       INTEGER NOT NULL DEFAULT 0,
	release_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS update_cycles_started_at ON update_cycles (started_at);
`

// Store provides SQLite-backed cycle history.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the history database at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordCycle persists one finished cycle.
func (s *Store) RecordCycle(ctx context.Context, rec domain.CycleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("cycle id is required")
	}
	if rec.Outcome == "" {
		return errors.New("outcome is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO update_cycles (
	id,
	trigger,
	run_time,
	started_at,
	finished_at,
	outcome,
	error,
	files,
	tiles,
	release_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.ID,
		string(rec.Trigger),
		rec.RunTime.UTC().UnixMilli(),
		rec.StartedAt.UTC().UnixMilli(),
		rec.FinishedAt.UTC().UnixMilli(),
		rec.Outcome,
		rec.Error,
		rec.Files,
		rec.Tiles,
		rec.ReleaseID,
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// ListCycles lists newest-first cycle records.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	trigger,
	run_time,
	started_at,
	finished_at,
	outcome,
	error,
	files,
	tiles,
	release_id
FROM update_cycles
ORDER BY started_at DESC, seq DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	records := make([]domain.CycleRecord, 0, limit)
	for rows.Next() {
		var (
			rec                          domain.CycleRecord
			trigger                      string
			runTime, started, finishedAt int64
		)
		if err := rows.Scan(
			&rec.ID,
			&trigger,
			&runTime,
			&started,
			&finishedAt,
			&rec.Outcome,
			&rec.Error,
			&rec.Files,
			&rec.Tiles,
			&rec.ReleaseID,
		); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		rec.Trigger = domain.Trigger(trigger)
		rec.RunTime = time.UnixMilli(runTime).UTC()
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.FinishedAt = time.UnixMilli(finishedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return records, nil
}
