package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
)

// PostgresResultStore implements the store.ResultStore interface
// using a PostgreSQL database as the storage backend.
type PostgresResultStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresResultStore creates a new PostgreSQL implementation of the ResultStore interface.
func NewPostgresResultStore(db store.DBTX, logger *slog.Logger) *PostgresResultStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresResultStore{
		db:     db,
		logger: logger.With(slog.String("component", "result_store")),
	}
}

var _ store.ResultStore = (*PostgresResultStore)(nil)

// Save implements store.ResultStore.Save. A later result for the same
// item replaces the earlier one, so a ready result overwrites a placeholder.
func (s *PostgresResultStore) Save(ctx context.Context, r *domain.GenerationResult) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_results (user_id, fingerprint, item_id, content, provider, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, fingerprint, item_id) DO UPDATE
		SET content = EXCLUDED.content,
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at`,
		r.UserID,
		r.Fingerprint,
		r.ItemID,
		[]byte(r.Content),
		r.Provider,
		string(r.Status),
		r.CreatedAt,
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to save result",
			slog.String("error", err.Error()),
			slog.String("fingerprint", r.Fingerprint),
			slog.String("item_id", r.ItemID))
		return store.NewStoreError("generation_result", "save", "upsert failed", MapError(err))
	}
	return nil
}

// ReadyItems implements store.ResultStore.ReadyItems
func (s *PostgresResultStore) ReadyItems(
	ctx context.Context,
	userID uuid.UUID,
	fingerprint string,
	itemIDs []string,
) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	wanted, err := json.Marshal(itemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item ids: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id
		FROM generation_results
		WHERE user_id = $1 AND fingerprint = $2 AND status = 'ready'
			AND item_id IN (SELECT jsonb_array_elements_text($3::jsonb))`,
		userID, fingerprint, wanted)
	if err != nil {
		return nil, store.NewStoreError("generation_result", "ready_items", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ready []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewStoreError("generation_result", "ready_items", "scan failed", err)
		}
		ready = append(ready, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("generation_result", "ready_items", "iteration failed", MapError(err))
	}
	return ready, nil
}

// List implements store.ResultStore.List
func (s *PostgresResultStore) List(ctx context.Context, userID uuid.UUID, fingerprint string) ([]*domain.GenerationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, fingerprint, item_id, content, provider, status, created_at
		FROM generation_results
		WHERE user_id = $1 AND fingerprint = $2
		ORDER BY created_at ASC, item_id ASC`,
		userID, fingerprint)
	if err != nil {
		return nil, store.NewStoreError("generation_result", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var results []*domain.GenerationResult
	for rows.Next() {
		var (
			r       domain.GenerationResult
			content []byte
			status  string
		)
		if err := rows.Scan(&r.UserID, &r.Fingerprint, &r.ItemID, &content, &r.Provider, &status, &r.CreatedAt); err != nil {
			return nil, store.NewStoreError("generation_result", "list", "scan failed", err)
		}
		r.Content = json.RawMessage(content)
		r.Status = domain.ResultStatus(status)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("generation_result", "list", "iteration failed", MapError(err))
	}
	return results, nil
}
