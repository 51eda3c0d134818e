package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/events"
	"github.com/phrazzld/lexigen/internal/generation"
	"github.com/phrazzld/lexigen/internal/redact"
	"github.com/phrazzld/lexigen/internal/store"
)

const (
	eventSource = "job_queue"

	// maxEnqueueAttempts bounds how often Enqueue re-reads after losing a
	// race with a drainer or another enqueue.
	maxEnqueueAttempts = 3
)

// QueueConfig tunes a JobQueue.
type QueueConfig struct {
	// StaleAfter is how long a job may sit in processing before it is
	// presumed abandoned and reset to pending.
	StaleAfter time.Duration

	// FailedRetention is how long failed jobs are kept before cleanup.
	FailedRetention time.Duration

	// MaxRetries is used for requests that do not set their own.
	MaxRetries int
}

// DefaultQueueConfig returns a 5 minute staleness threshold, one hour of
// failed-job retention and three retries.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		StaleAfter:      5 * time.Minute,
		FailedRetention: time.Hour,
		MaxRetries:      3,
	}
}

// QueueOption customizes a JobQueue.
type QueueOption func(*JobQueue)

// WithQueueClock replaces the time source.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *JobQueue) { q.now = now }
}

// WithQueuePublisher sets the status event sink.
func WithQueuePublisher(p events.Publisher) QueueOption {
	return func(q *JobQueue) {
		if p != nil {
			q.events = p
		}
	}
}

// JobQueue persists and executes generation jobs.
type JobQueue struct {
	jobs      store.JobStore
	results   store.ResultStore
	generator generation.Generator
	config    QueueConfig
	logger    *slog.Logger
	events    events.Publisher
	now       func() time.Time
	waker     Waker
}

// NewJobQueue creates a JobQueue.
func NewJobQueue(
	jobs store.JobStore,
	results store.ResultStore,
	generator generation.Generator,
	config QueueConfig,
	logger *slog.Logger,
	opts ...QueueOption,
) (*JobQueue, error) {
	if jobs == nil || results == nil || generator == nil {
		return nil, errors.New("job queue needs a job store, a result store and a generator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultQueueConfig()
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.FailedRetention <= 0 {
		config.FailedRetention = defaults.FailedRetention
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}

	q := &JobQueue{
		jobs:      jobs,
		results:   results,
		generator: generator,
		config:    config,
		logger:    logger.With("component", "job_queue"),
		events:    events.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
		waker:     nopWaker{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// SetWaker registers the component to notify when work becomes available.
func (q *JobQueue) SetWaker(w Waker) {
	if w == nil {
		w = nopWaker{}
	}
	q.waker = w
}

// Enqueue makes sure a job covers every requested item that has no ready
// result yet. At most one pending or processing job exists per fingerprint:
// new items extend a pending job, and a fresh processing job is left alone.
func (q *JobQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.GenerationJob, Outcome, error) {
	if req.Fingerprint == "" || len(req.ItemIDs) == 0 {
		return nil, "", fmt.Errorf("%w: fingerprint and items are required", ErrInvalidEnqueue)
	}
	if req.Params.Kind != "" && !req.Params.Kind.Valid() {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidEnqueue, domain.ErrInvalidKind)
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = q.config.MaxRetries
	}

	remaining, err := q.missingItems(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if len(remaining) == 0 {
		q.logger.DebugContext(ctx, "all items already generated",
			slog.String("fingerprint", req.Fingerprint))
		return nil, OutcomeSatisfied, nil
	}

	var lastErr error
	for range maxEnqueueAttempts {
		job, outcome, err := q.enqueueOnce(ctx, req, remaining)
		if err == nil {
			if outcome == OutcomeCreated || outcome == OutcomeMerged {
				q.waker.Wake()
			}
			return job, outcome, nil
		}
		if !errors.Is(err, store.ErrClaimLost) && !errors.Is(err, store.ErrActiveJobExists) {
			return nil, "", err
		}
		lastErr = err
		q.logger.DebugContext(ctx, "enqueue lost a race, retrying",
			slog.String("fingerprint", req.Fingerprint),
			slog.String("error", err.Error()))
	}
	return nil, "", fmt.Errorf("failed to enqueue %s: %w", req.Fingerprint, lastErr)
}

func (q *JobQueue) missingItems(ctx context.Context, req EnqueueRequest) ([]string, error) {
	wanted := domain.MergeItemIDs(nil, req.ItemIDs)
	ready, err := q.results.ReadyItems(ctx, req.UserID, req.Fingerprint, wanted)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing results: %w", err)
	}
	return slices.DeleteFunc(wanted, func(id string) bool {
		return slices.Contains(ready, id)
	}), nil
}

func (q *JobQueue) enqueueOnce(
	ctx context.Context,
	req EnqueueRequest,
	remaining []string,
) (*domain.GenerationJob, Outcome, error) {
	existing, err := q.jobs.FindActive(ctx, req.Fingerprint)
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		existing = nil
	case err != nil:
		return nil, "", fmt.Errorf("failed to look up active job: %w", err)
	}

	if existing != nil && existing.Status == domain.JobStatusProcessing {
		if !existing.IsStale(q.now(), q.config.StaleAfter) {
			return existing, OutcomeInProgress, nil
		}
		q.logger.InfoContext(ctx, "resetting stale job",
			slog.String("job_id", existing.ID.String()),
			slog.Time("updated_at", existing.UpdatedAt))
		if err := q.jobs.UpdateStatus(ctx, existing.ID, domain.JobStatusProcessing, domain.JobStatusPending,
			existing.RetryCount, "reset after being stuck in processing"); err != nil {
			return nil, "", err
		}
		existing.Status = domain.JobStatusPending
	}

	if existing != nil && existing.Status == domain.JobStatusPending {
		merged := domain.MergeItemIDs(existing.ItemIDs, remaining)
		if len(merged) == len(existing.ItemIDs) {
			return existing, OutcomeUnchanged, nil
		}
		if err := q.jobs.AppendItems(ctx, existing.ID, merged); err != nil {
			return nil, "", err
		}
		existing.ItemIDs = merged
		q.logger.InfoContext(ctx, "merged items into pending job",
			slog.String("job_id", existing.ID.String()),
			slog.Int("item_count", len(merged)))
		return existing, OutcomeMerged, nil
	}

	job, err := domain.NewGenerationJob(req.UserID, req.Fingerprint, remaining, req.Params, req.MaxRetries)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidEnqueue, err)
	}
	job.CreatedAt, job.UpdatedAt, job.RunAfter = q.now(), q.now(), q.now()
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, "", err
	}
	q.logger.InfoContext(ctx, "created generation job",
		slog.String("job_id", job.ID.String()),
		slog.String("fingerprint", job.Fingerprint),
		slog.Int("item_count", len(job.ItemIDs)))
	return job, OutcomeCreated, nil
}

// DrainOnce resets stuck jobs, then claims and runs the oldest runnable
// pending job. It reports whether there may be more work: true after a job
// ran or a claim was lost to another drainer, false when nothing is pending.
func (q *JobQueue) DrainOnce(ctx context.Context) (bool, error) {
	if _, err := q.ResetStale(ctx); err != nil {
		return false, err
	}

	next, err := q.jobs.OldestPending(ctx, q.now())
	if errors.Is(err, store.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to select pending job: %w", err)
	}

	job, err := q.jobs.Claim(ctx, next.ID)
	if errors.Is(err, store.ErrClaimLost) || errors.Is(err, store.ErrJobNotFound) {
		q.logger.DebugContext(ctx, "job claimed by another drainer",
			slog.String("job_id", next.ID.String()))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", next.ID, err)
	}

	q.run(ctx, job)
	return true, nil
}

// Drain runs DrainOnce until nothing is left to do or ctx is done.
func (q *JobQueue) Drain(ctx context.Context) (int, error) {
	ran := 0
	for ctx.Err() == nil {
		more, err := q.DrainOnce(ctx)
		if err != nil {
			return ran, err
		}
		if !more {
			return ran, nil
		}
		ran++
	}
	return ran, ctx.Err()
}

// ResetStale moves jobs stuck in processing back to pending.
func (q *JobQueue) ResetStale(ctx context.Context) (int, error) {
	n, err := q.jobs.ResetStale(ctx, q.now().Add(-q.config.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale jobs: %w", err)
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "reset stale jobs", slog.Int("count", n))
		q.waker.Wake()
	}
	return n, nil
}

func (q *JobQueue) run(ctx context.Context, job *domain.GenerationJob) {
	logger := q.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("fingerprint", job.Fingerprint),
		slog.Int("retry_count", job.RetryCount))
	logger.InfoContext(ctx, "processing job", slog.Int("item_count", len(job.ItemIDs)))
	events.Emit(ctx, q.events, events.TaskStarted, eventSource, job.ID.String(),
		map[string]any{"fingerprint": job.Fingerprint, "items": len(job.ItemIDs)})

	generated, err := q.execute(ctx, job, logger)
	// Status writes must land even when the drain context is being cancelled.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		q.release(writeCtx, job, logger)
		return
	}
	if err != nil {
		q.fail(writeCtx, job, err, logger)
		return
	}

	if err := q.jobs.UpdateStatus(writeCtx, job.ID, domain.JobStatusProcessing, domain.JobStatusCompleted,
		job.RetryCount, ""); err != nil {
		logger.ErrorContext(ctx, "failed to mark job completed", slog.String("error", err.Error()))
		return
	}
	logger.InfoContext(ctx, "job completed", slog.Int("generated", generated))
	events.Emit(ctx, q.events, events.TaskCompleted, eventSource, job.ID.String(),
		map[string]any{"fingerprint": job.Fingerprint, "generated": generated})
}

// execute generates every item that lacks a ready result, persisting each
// result as soon as it exists. An item that fails to generate gets a
// placeholder result; only store failures and cancellation fail the job.
func (q *JobQueue) execute(ctx context.Context, job *domain.GenerationJob, logger *slog.Logger) (int, error) {
	ready, err := q.results.ReadyItems(ctx, job.UserID, job.Fingerprint, job.ItemIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load existing results: %w", err)
	}

	generated := 0
	for _, itemID := range job.ItemIDs {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		if slices.Contains(ready, itemID) {
			continue
		}

		result := &domain.GenerationResult{
			UserID:      job.UserID,
			Fingerprint: job.Fingerprint,
			ItemID:      itemID,
			Status:      domain.ResultStatusReady,
			CreatedAt:   q.now(),
		}
		content, providerName, genErr := q.generator.GenerateItem(ctx, job, itemID)
		if genErr != nil {
			logger.WarnContext(ctx, "item generation failed, storing placeholder",
				slog.String("item_id", itemID),
				slog.String("error", redact.Error(genErr)))
			result.Status = domain.ResultStatusPlaceholder
			result.Content = domain.PlaceholderContent(itemID, genErr)
		} else {
			result.Content = content
			result.Provider = providerName
			generated++
		}

		if err := q.results.Save(ctx, result); err != nil {
			return generated, fmt.Errorf("failed to save result for item %s: %w", itemID, err)
		}
	}
	return generated, nil
}

// release hands an interrupted job back to pending without charging a retry.
// Results already saved are kept, so the next attempt resumes where this one
// stopped.
func (q *JobQueue) release(ctx context.Context, job *domain.GenerationJob, logger *slog.Logger) {
	if err := q.jobs.Requeue(ctx, job.ID, job.RetryCount, job.LastError, q.now()); err != nil {
		logger.ErrorContext(ctx, "failed to release interrupted job", slog.String("error", err.Error()))
		return
	}
	logger.InfoContext(ctx, "job interrupted, released to pending")
}

// fail records a job-level failure. With retries left the job goes back to
// pending, runnable after the backoff delay; otherwise it ends failed.
func (q *JobQueue) fail(ctx context.Context, job *domain.GenerationJob, cause error, logger *slog.Logger) {
	msg := redact.Error(cause)

	if job.CanRetry() {
		delay := Backoff(job.RetryCount)
		err := q.jobs.Requeue(ctx, job.ID, job.RetryCount+1, msg, q.now().Add(delay))
		if err == nil {
			logger.WarnContext(ctx, "job failed, retry scheduled",
				slog.String("error", msg),
				slog.Duration("delay", delay))
			q.waker.WakeAfter(delay)
			return
		}
		logger.ErrorContext(ctx, "failed to requeue job", slog.String("error", err.Error()))
		return
	}

	if err := q.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed,
		job.RetryCount, msg); err != nil {
		logger.ErrorContext(ctx, "failed to mark job failed", slog.String("error", err.Error()))
		return
	}
	logger.ErrorContext(ctx, "job failed, retries exhausted", slog.String("error", msg))
	events.Emit(ctx, q.events, events.TaskFailed, eventSource, job.ID.String(),
		map[string]any{"fingerprint": job.Fingerprint, "error": msg})
}

// CleanupFailed deletes failed jobs older than the retention window.
func (q *JobQueue) CleanupFailed(ctx context.Context) (int, error) {
	n, err := q.jobs.DeleteFailedBefore(ctx, q.now().Add(-q.config.FailedRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up failed jobs: %w", err)
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "purged failed jobs", slog.Int("count", n))
	}
	return n, nil
}

// RetryFailed deletes a failed job and enqueues its items again with the
// original parameters.
func (q *JobQueue) RetryFailed(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, Outcome, error) {
	job, err := q.jobs.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != domain.JobStatusFailed {
		return nil, "", fmt.Errorf("%w: %s is %s", ErrJobNotFailed, id, job.Status)
	}
	if err := q.jobs.Delete(ctx, id); err != nil {
		return nil, "", fmt.Errorf("failed to delete failed job: %w", err)
	}
	return q.Enqueue(ctx, EnqueueRequest{
		UserID:      job.UserID,
		Fingerprint: job.Fingerprint,
		ItemIDs:     job.ItemIDs,
		Params:      job.Params,
		MaxRetries:  job.MaxRetries,
	})
}

// Status returns the jobs for fingerprint and the user's results for it.
func (q *JobQueue) Status(ctx context.Context, userID uuid.UUID, fingerprint string) (*StatusReport, error) {
	jobs, err := q.jobs.ListByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs = slices.DeleteFunc(jobs, func(j *domain.GenerationJob) bool { return j.UserID != userID })
	results, err := q.results.List(ctx, userID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return &StatusReport{Fingerprint: fingerprint, Jobs: jobs, Results: results}, nil
}

// Job returns a job by ID.
func (q *JobQueue) Job(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	return q.jobs.Get(ctx, id)
}
