package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
)

// JobStore persists generation jobs. Status changes are conditional writes:
// an update only applies when the stored status still matches the expected
// one, which is what lets several drainers share one table without locks.
type JobStore interface {
	// Create inserts a new job. It returns ErrActiveJobExists when another
	// pending or processing job already owns the fingerprint.
	Create(ctx context.Context, job *domain.GenerationJob) error

	// Get returns the job with the given ID or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)

	// FindActive returns the most recent job for fingerprint whose status is
	// not failed, or ErrJobNotFound.
	FindActive(ctx context.Context, fingerprint string) (*domain.GenerationJob, error)

	// ListByFingerprint returns every job for fingerprint, newest first.
	ListByFingerprint(ctx context.Context, fingerprint string) ([]*domain.GenerationJob, error)

	// OldestPending returns the pending job with the earliest creation time
	// among those whose RunAfter is not later than now, or ErrJobNotFound.
	OldestPending(ctx context.Context, now time.Time) (*domain.GenerationJob, error)

	// Claim atomically moves a pending job to processing and returns the
	// updated row. It returns ErrClaimLost if the job was no longer pending.
	Claim(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)

	// UpdateStatus moves a job from one status to another, recording the
	// retry count and last error. It returns ErrClaimLost when the stored
	// status is not from.
	UpdateStatus(
		ctx context.Context,
		id uuid.UUID,
		from, to domain.JobStatus,
		retryCount int,
		lastError string,
	) error

	// Requeue moves a processing job back to pending for another attempt,
	// recording the new retry count, the error and the earliest time it may
	// run. It returns ErrClaimLost when the job is no longer processing.
	Requeue(
		ctx context.Context,
		id uuid.UUID,
		retryCount int,
		lastError string,
		runAfter time.Time,
	) error

	// AppendItems replaces the item list of a pending job. It returns
	// ErrClaimLost when the job is no longer pending.
	AppendItems(ctx context.Context, id uuid.UUID, itemIDs []string) error

	// ResetStale moves processing jobs not updated since olderThan back to
	// pending and returns how many were reset.
	ResetStale(ctx context.Context, olderThan time.Time) (int, error)

	// DeleteFailedBefore removes failed jobs last updated before cutoff.
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Delete removes a job by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ResultStore persists per-item generation results.
type ResultStore interface {
	// Save inserts or replaces the result for (user, fingerprint, item).
	Save(ctx context.Context, result *domain.GenerationResult) error

	// ReadyItems returns the subset of itemIDs that already have a ready
	// result for the user and fingerprint.
	ReadyItems(ctx context.Context, userID uuid.UUID, fingerprint string, itemIDs []string) ([]string, error)

	// List returns all results stored for a user and fingerprint.
	List(ctx context.Context, userID uuid.UUID, fingerprint string) ([]*domain.GenerationResult, error)
}
