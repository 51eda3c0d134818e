package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
)

const jobColumns = `id, user_id, fingerprint, item_ids, params, retry_count, max_retries,
	status, last_error, run_after, created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.GenerationJob, error) {
	var (
		job      domain.GenerationJob
		itemIDs  []byte
		params   []byte
		status   string
		runAfter time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Fingerprint,
		&itemIDs,
		&params,
		&job.RetryCount,
		&job.MaxRetries,
		&status,
		&job.LastError,
		&runAfter,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemIDs, &job.ItemIDs); err != nil {
		return nil, fmt.Errorf("failed to decode item ids: %w", err)
	}
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.RunAfter = runAfter
	return &job, nil
}

func (s *PostgresJobStore) queryOne(ctx context.Context, op, query string, args ...any) (*domain.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("generation_job", op, "query failed", MapError(err))
	}
	return job, nil
}

// missingOrLost distinguishes a conditional write that matched no row
// because the job is gone from one that lost a race.
func (s *PostgresJobStore) missingOrLost(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM generation_jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return store.NewStoreError("generation_job", "exists", "query failed", MapError(err))
	}
	if !exists {
		return store.ErrJobNotFound
	}
	return store.ErrClaimLost
}

func (s *PostgresJobStore) execConditional(ctx context.Context, id uuid.UUID, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return store.NewStoreError("generation_job", op, "update failed", MapError(err))
	}
	if err := CheckRowsAffected(result, store.ErrClaimLost); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			return s.missingOrLost(ctx, id)
		}
		return err
	}
	return nil
}

// Create implements store.JobStore.Create
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.GenerationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	itemIDs, err := json.Marshal(job.ItemIDs)
	if err != nil {
		return fmt.Errorf("failed to encode item ids: %w", err)
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		job.UserID,
		job.Fingerprint,
		itemIDs,
		params,
		job.RetryCount,
		job.MaxRetries,
		string(job.Status),
		job.LastError,
		job.RunAfter,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		mapped := MapError(err)
		if errors.Is(mapped, store.ErrActiveJobExists) {
			s.logger.DebugContext(ctx, "active job already exists",
				slog.String("fingerprint", job.Fingerprint))
			return mapped
		}
		s.logger.ErrorContext(ctx, "failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return store.NewStoreError("generation_job", "create", "insert failed", mapped)
	}
	return nil
}

// Get implements store.JobStore.Get
func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	return s.queryOne(ctx, "get", `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
}

// FindActive implements store.JobStore.FindActive
func (s *PostgresJobStore) FindActive(ctx context.Context, fingerprint string) (*domain.GenerationJob, error) {
	return s.queryOne(ctx, "find_active", `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE fingerprint = $1 AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1`, fingerprint)
}

// ListByFingerprint implements store.JobStore.ListByFingerprint
func (s *PostgresJobStore) ListByFingerprint(ctx context.Context, fingerprint string) ([]*domain.GenerationJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE fingerprint = $1
		ORDER BY created_at DESC`, fingerprint)
	if err != nil {
		return nil, store.NewStoreError("generation_job", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, store.NewStoreError("generation_job", "list", "scan failed", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("generation_job", "list", "iteration failed", MapError(err))
	}
	return jobs, nil
}

// OldestPending implements store.JobStore.OldestPending
func (s *PostgresJobStore) OldestPending(ctx context.Context, now time.Time) (*domain.GenerationJob, error) {
	return s.queryOne(ctx, "oldest_pending", `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status = 'pending' AND run_after <= $1
		ORDER BY created_at ASC
		LIMIT 1`, now)
}

// Claim implements store.JobStore.Claim. The conditional update is the
// only cross-process lock: exactly one caller sees the returned row.
func (s *PostgresJobStore) Claim(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE generation_jobs
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns, id, s.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingOrLost(ctx, id)
	}
	if err != nil {
		return nil, store.NewStoreError("generation_job", "claim", "update failed", MapError(err))
	}
	return job, nil
}

// UpdateStatus implements store.JobStore.UpdateStatus
func (s *PostgresJobStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.JobStatus,
	retryCount int,
	lastError string,
) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, from, to)
	}
	return s.execConditional(ctx, id, "update_status", `
		UPDATE generation_jobs
		SET status = $3, retry_count = $4, last_error = $5, updated_at = $6
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), retryCount, lastError, s.now())
}

// Requeue implements store.JobStore.Requeue
func (s *PostgresJobStore) Requeue(
	ctx context.Context,
	id uuid.UUID,
	retryCount int,
	lastError string,
	runAfter time.Time,
) error {
	return s.execConditional(ctx, id, "requeue", `
		UPDATE generation_jobs
		SET status = 'pending', retry_count = $2, last_error = $3, run_after = $4, updated_at = $5
		WHERE id = $1 AND status = 'processing'`,
		id, retryCount, lastError, runAfter, s.now())
}

// AppendItems implements store.JobStore.AppendItems
func (s *PostgresJobStore) AppendItems(ctx context.Context, id uuid.UUID, itemIDs []string) error {
	encoded, err := json.Marshal(itemIDs)
	if err != nil {
		return fmt.Errorf("failed to encode item ids: %w", err)
	}
	return s.execConditional(ctx, id, "append_items", `
		UPDATE generation_jobs
		SET item_ids = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`,
		id, encoded, s.now())
}

// ResetStale implements store.JobStore.ResetStale
func (s *PostgresJobStore) ResetStale(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = 'pending', updated_at = $2
		WHERE status = 'processing' AND updated_at < $1`,
		olderThan, s.now())
	if err != nil {
		return 0, store.NewStoreError("generation_job", "reset_stale", "update failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteFailedBefore implements store.JobStore.DeleteFailedBefore
func (s *PostgresJobStore) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_jobs WHERE status = 'failed' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, store.NewStoreError("generation_job", "delete_failed", "delete failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Delete implements store.JobStore.Delete
func (s *PostgresJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM generation_jobs WHERE id = $1`, id)
	if err != nil {
		return store.NewStoreError("generation_job", "delete", "delete failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrJobNotFound)
}
