package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/lexigen/internal/cache"
)

// CacheStore is a cache.Store kept in a SQLite table.
type CacheStore struct {
	db *sql.DB
}

// NewCacheStore creates a CacheStore over a database opened with Open.
func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

var _ cache.Store = (*CacheStore)(nil)

func (s *CacheStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	var (
		e       cache.Entry
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, data, expires_at, provider, method FROM cache_entries WHERE key = ?`, key,
	).Scan(&e.Key, &e.Data, &expires, &e.Provider, &e.Method)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", mapError(err))
	}
	e.ExpiresAt = time.Unix(0, expires).UTC()
	return &e, nil
}

func (s *CacheStore) Put(ctx context.Context, e cache.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, data, expires_at, provider, method)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET data = excluded.data, expires_at = excluded.expires_at,
			provider = excluded.provider, method = excluded.method`,
		e.Key, e.Data, unixNano(e.ExpiresAt), e.Provider, e.Method)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", mapError(err))
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", mapError(err))
	}
	return nil
}

func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return s.execCount(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, unixNano(now))
}

func (s *CacheStore) DeleteProvider(ctx context.Context, provider string) (int, error) {
	return s.execCount(ctx, `DELETE FROM cache_entries WHERE provider = ?`, provider)
}

func (s *CacheStore) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	return s.execCount(ctx, `
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY expires_at ASC LIMIT ?
		)`, n)
}

func (s *CacheStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", mapError(err))
	}
	return n, nil
}

func (s *CacheStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", mapError(err))
	}
	return nil
}

func (s *CacheStore) execCount(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache delete failed: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
