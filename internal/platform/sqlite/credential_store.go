package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/lexigen/internal/store"
)

// CredentialStore keeps sealed secrets keyed by (service, key). It never
// sees plaintext; sealing is the vault's job.
type CredentialStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewCredentialStore creates a CredentialStore over a database opened with Open.
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db, now: time.Now}
}

// Put inserts or replaces a sealed secret.
func (s *CredentialStore) Put(ctx context.Context, service, key string, sealed []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (service, key, sealed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (service, key) DO UPDATE
		SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		service, key, sealed, unixNano(s.now()))
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", mapError(err))
	}
	return nil
}

// Get returns the sealed secret or store.ErrNotFound.
func (s *CredentialStore) Get(ctx context.Context, service, key string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT sealed FROM credentials WHERE service = ? AND key = ?`, service, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", mapError(err))
	}
	return sealed, nil
}

// Delete removes a secret. Deleting a missing secret returns store.ErrNotFound.
func (s *CredentialStore) Delete(ctx context.Context, service, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE service = ? AND key = ?`, service, key)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Keys lists the keys stored for service.
func (s *CredentialStore) Keys(ctx context.Context, service string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM credentials WHERE service = ? ORDER BY key`, service)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
