package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
)

// PostgresLedgerStore implements the store.LedgerStore interface.
// Each period is a single upsert, so concurrent writers never lose an update.
type PostgresLedgerStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresLedgerStore creates a new PostgreSQL implementation of the LedgerStore interface.
func NewPostgresLedgerStore(db store.DBTX, logger *slog.Logger) *PostgresLedgerStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLedgerStore{
		db:     db,
		logger: logger.With(slog.String("component", "ledger_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ store.LedgerStore = (*PostgresLedgerStore)(nil)

// Increment implements store.LedgerStore.Increment. On a *sql.DB the
// upserts share one transaction; on a caller's *sql.Tx they join it.
func (s *PostgresLedgerStore) Increment(
	ctx context.Context,
	provider string,
	periods []string,
	delta domain.UsageDelta,
) ([]*domain.UsageLedgerEntry, error) {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return s.upsert(ctx, s.db, provider, periods, delta)
	}

	var entries []*domain.UsageLedgerEntry
	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		entries, err = s.upsert(ctx, tx, provider, periods, delta)
		return err
	})
	if err != nil {
		var storeErr *store.StoreError
		if !errors.As(err, &storeErr) {
			err = store.NewStoreError("usage_ledger", "increment", "transaction failed", MapError(err))
		}
		return nil, err
	}
	return entries, nil
}

func (s *PostgresLedgerStore) upsert(
	ctx context.Context,
	q store.DBTX,
	provider string,
	periods []string,
	delta domain.UsageDelta,
) ([]*domain.UsageLedgerEntry, error) {
	now := s.now()
	out := make([]*domain.UsageLedgerEntry, 0, len(periods))
	for _, period := range periods {
		var e domain.UsageLedgerEntry
		err := q.QueryRowContext(ctx, `
			INSERT INTO usage_ledger (provider, period, cost, tokens, requests, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (provider, period) DO UPDATE
			SET cost = usage_ledger.cost + EXCLUDED.cost,
				tokens = usage_ledger.tokens + EXCLUDED.tokens,
				requests = usage_ledger.requests + EXCLUDED.requests,
				updated_at = EXCLUDED.updated_at
			RETURNING provider, period, cost, tokens, requests, updated_at`,
			provider, period, delta.Cost, delta.Tokens, delta.Requests, now,
		).Scan(&e.Provider, &e.Period, &e.Cost, &e.Tokens, &e.Requests, &e.UpdatedAt)
		if err != nil {
			return nil, store.NewStoreError("usage_ledger", "increment", "upsert failed", MapError(err))
		}
		out = append(out, &e)
	}
	return out, nil
}

// Get implements store.LedgerStore.Get
func (s *PostgresLedgerStore) Get(ctx context.Context, provider, period string) (*domain.UsageLedgerEntry, error) {
	e := domain.UsageLedgerEntry{Provider: provider, Period: period}
	err := s.db.QueryRowContext(ctx, `
		SELECT cost, tokens, requests, updated_at
		FROM usage_ledger
		WHERE provider = $1 AND period = $2`,
		provider, period,
	).Scan(&e.Cost, &e.Tokens, &e.Requests, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &e, nil
	}
	if err != nil {
		return nil, store.NewStoreError("usage_ledger", "get", "query failed", MapError(err))
	}
	return &e, nil
}
