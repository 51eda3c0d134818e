package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
)

// PostgresDeferredStore implements the store.DeferredStore interface.
type PostgresDeferredStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDeferredStore creates a new PostgreSQL implementation of the DeferredStore interface.
func NewPostgresDeferredStore(db store.DBTX, logger *slog.Logger) *PostgresDeferredStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDeferredStore{
		db:     db,
		logger: logger.With(slog.String("component", "deferred_store")),
	}
}

var _ store.DeferredStore = (*PostgresDeferredStore)(nil)

const deferredColumns = `id, kind, payload, retry_count, max_retries, last_error, created_at`

func scanDeferred(row rowScanner) (*domain.DeferredRequest, error) {
	var (
		r       domain.DeferredRequest
		kind    string
		payload []byte
	)
	if err := row.Scan(&r.ID, &kind, &payload, &r.RetryCount, &r.MaxRetries, &r.LastError, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Kind = domain.GenerationKind(kind)
	r.Payload = payload
	return &r, nil
}

// Add implements store.DeferredStore.Add
func (s *PostgresDeferredStore) Add(ctx context.Context, r *domain.DeferredRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deferred_requests (`+deferredColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, string(r.Kind), []byte(r.Payload), r.RetryCount, r.MaxRetries, r.LastError, r.CreatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to add deferred request",
			slog.String("error", err.Error()),
			slog.String("deferred_id", r.ID.String()))
		return store.NewStoreError("deferred_request", "add", "insert failed", MapError(err))
	}
	return nil
}

// Get implements store.DeferredStore.Get
func (s *PostgresDeferredStore) Get(ctx context.Context, id uuid.UUID) (*domain.DeferredRequest, error) {
	r, err := scanDeferred(s.db.QueryRowContext(ctx,
		`SELECT `+deferredColumns+` FROM deferred_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDeferredNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("deferred_request", "get", "query failed", MapError(err))
	}
	return r, nil
}

// List implements store.DeferredStore.List
func (s *PostgresDeferredStore) List(ctx context.Context) ([]*domain.DeferredRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deferredColumns+` FROM deferred_requests ORDER BY created_at ASC`)
	if err != nil {
		return nil, store.NewStoreError("deferred_request", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.DeferredRequest
	for rows.Next() {
		r, err := scanDeferred(rows)
		if err != nil {
			return nil, store.NewStoreError("deferred_request", "list", "scan failed", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("deferred_request", "list", "iteration failed", MapError(err))
	}
	return out, nil
}

// Remove implements store.DeferredStore.Remove
func (s *PostgresDeferredStore) Remove(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deferred_requests WHERE id = $1`, id)
	if err != nil {
		return store.NewStoreError("deferred_request", "remove", "delete failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrDeferredNotFound)
}

// MarkAttempt implements store.DeferredStore.MarkAttempt
func (s *PostgresDeferredStore) MarkAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deferred_requests
		SET retry_count = retry_count + 1, last_error = $2
		WHERE id = $1`, id, lastError)
	if err != nil {
		return store.NewStoreError("deferred_request", "mark_attempt", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrDeferredNotFound)
}

// DeleteExpired implements store.DeferredStore.DeleteExpired
func (s *PostgresDeferredStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deferred_requests WHERE retry_count >= max_retries`)
	if err != nil {
		return 0, store.NewStoreError("deferred_request", "delete_expired", "delete failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
