// Package journal keeps a SQLite record of dispatched commands.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/ipcmux/internal/protocol"
	"github.com/mattjoyce/ipcmux/internal/storage"
)

// timeLayout is fixed width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store writes journal entries to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the journal database at path and
// ensures required tables exist.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS command_log (
  id          TEXT PRIMARY KEY,
  worker      TEXT NOT NULL,
  channel_id  INTEGER NOT NULL,
  preview     BLOB,
  bytes       INTEGER NOT NULL,
  status      INTEGER NOT NULL,
  reply_bytes INTEGER NOT NULL,
  started_at  TEXT NOT NULL,
  duration_us INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS command_log_worker_started_idx ON command_log(worker, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap journal: %w", err)
		}
	}
	return nil
}

// Record stores e, assigning an ID if it has none.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO command_log (id, worker, channel_id, preview, bytes, status, reply_bytes, started_at, duration_us)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.Worker, int64(e.ChannelID), e.Preview, e.Bytes, int(e.Status), e.ReplySize,
		e.StartedAt.UTC().Format(timeLayout), e.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty worker matches all workers.
func (s *Store) Recent(ctx context.Context, worker string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, worker, channel_id, preview, bytes, status, reply_bytes, started_at, duration_us
FROM command_log
WHERE (? = '' OR worker = ?)
ORDER BY started_at DESC
LIMIT ?;`, worker, worker, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			channelID  int64
			status     int
			startedAt  string
			durationUS int64
		)
		if err := rows.Scan(&e.ID, &e.Worker, &channelID, &e.Preview, &e.Bytes, &status, &e.ReplySize, &startedAt, &durationUS); err != nil {
			return nil, fmt.Errorf("scan command_log: %w", err)
		}
		e.ChannelID = uint64(channelID)
		e.Status = protocol.Status(status)
		e.Duration = time.Duration(durationUS) * time.Microsecond
		if e.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than retention and returns how many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, "DELETE FROM command_log WHERE started_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune command_log: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
