package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/lexigen/internal/store"
	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	expires_at INTEGER NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS cache_entries_expires_at_idx ON cache_entries (expires_at);
CREATE INDEX IF NOT EXISTS cache_entries_provider_idx ON cache_entries (provider);

CREATE TABLE IF NOT EXISTS credentials (
	service TEXT NOT NULL,
	key TEXT NOT NULL,
	sealed BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (service, key)
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. SQLite allows one writer, so the pool is limited to a single
// connection; this also keeps an in-memory database alive and shared.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

// mapError marks errors that mean the database cannot be used at all.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "no such table") ||
		strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return err
}

func unixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}
