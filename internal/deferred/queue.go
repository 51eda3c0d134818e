package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/redact"
	"github.com/phrazzld/lexigen/internal/store"
)

// DefaultMaxRetries is used when AddRequest is given no retry budget.
const DefaultMaxRetries = 5

// ErrInvalidPayload is returned by AddRequest for payloads that are not JSON.
var ErrInvalidPayload = errors.New("deferred payload must be valid JSON")

// Option customizes a Queue.
type Option func(*Queue)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithDefaultMaxRetries sets the budget used when AddRequest gets none.
func WithDefaultMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.defaultMaxRetries = n
		}
	}
}

// Queue holds deferred requests.
type Queue struct {
	store             store.DeferredStore
	logger            *slog.Logger
	now               func() time.Time
	defaultMaxRetries int
}

// NewQueue creates a Queue over s.
func NewQueue(s store.DeferredStore, logger *slog.Logger, opts ...Option) (*Queue, error) {
	if s == nil {
		return nil, errors.New("deferred store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		store:             s,
		logger:            logger.With("component", "deferred_queue"),
		now:               func() time.Time { return time.Now().UTC() },
		defaultMaxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// AddRequest stores payload for a later retry and returns its ID.
func (q *Queue) AddRequest(
	ctx context.Context,
	kind domain.GenerationKind,
	payload json.RawMessage,
	maxRetries int,
) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return uuid.Nil, ErrInvalidPayload
	}
	if maxRetries <= 0 {
		maxRetries = q.defaultMaxRetries
	}

	req := &domain.DeferredRequest{
		ID:         uuid.New(),
		Kind:       kind,
		Payload:    payload,
		CreatedAt:  q.now(),
		MaxRetries: maxRetries,
	}
	if err := q.store.Add(ctx, req); err != nil {
		return uuid.Nil, fmt.Errorf("failed to defer request: %w", err)
	}
	q.logger.InfoContext(ctx, "request deferred",
		slog.String("deferred_id", req.ID.String()),
		slog.String("kind", string(kind)),
		slog.Int("max_retries", maxRetries))
	return req.ID, nil
}

// Get returns one deferred request.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*domain.DeferredRequest, error) {
	return q.store.Get(ctx, id)
}

// GetPendingRequests returns every stored request, oldest first.
func (q *Queue) GetPendingRequests(ctx context.Context) ([]*domain.DeferredRequest, error) {
	reqs, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list deferred requests: %w", err)
	}
	return reqs, nil
}

// GetRetryableRequests returns the requests due for another attempt.
func (q *Queue) GetRetryableRequests(ctx context.Context) ([]*domain.DeferredRequest, error) {
	reqs, err := q.GetPendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	now := q.now()
	due := reqs[:0]
	for _, r := range reqs {
		if r.IsRetryable(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// RemoveRequest deletes a request, typically after it succeeded.
func (q *Queue) RemoveRequest(ctx context.Context, id uuid.UUID) error {
	if err := q.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove deferred request %s: %w", id, err)
	}
	return nil
}

// MarkAttempt records a failed retry.
func (q *Queue) MarkAttempt(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = redact.Error(cause)
	}
	if err := q.store.MarkAttempt(ctx, id, msg); err != nil {
		return fmt.Errorf("failed to mark attempt on deferred request %s: %w", id, err)
	}
	return nil
}

// CleanupExpiredRequests removes requests whose retry budget is spent.
func (q *Queue) CleanupExpiredRequests(ctx context.Context) (int, error) {
	n, err := q.store.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up deferred requests: %w", err)
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "expired deferred requests removed", slog.Int("count", n))
	}
	return n, nil
}
