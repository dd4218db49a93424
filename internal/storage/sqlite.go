// Package storage opens the SQLite databases used by ipcmux.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path.
//
// The database is configured for a single writer: one open connection, WAL
// journaling and a busy timeout. Callers create their own tables.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []struct{ stmt, what string }{
		{"PRAGMA busy_timeout = 5000;", "set busy_timeout"},
		{"PRAGMA journal_mode = WAL;", "set journal_mode"},
		{"PRAGMA synchronous = NORMAL;", "set synchronous"},
	} {
		if _, err := db.ExecContext(pctx, pragma.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma.what, err)
		}
	}
	return db, nil
}
