package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
)

// Backoff bounds
const (
	BaseRetryDelay = time.Second
	MaxRetryDelay  = 30 * time.Second
)

// Queue errors
var (
	// ErrInvalidEnqueue is returned for requests without a fingerprint or items.
	ErrInvalidEnqueue = errors.New("invalid enqueue request")

	// ErrJobNotFailed is returned by RetryFailed for jobs that are not failed.
	ErrJobNotFailed = errors.New("job is not failed")
)

// Backoff returns the delay before retry attempt k (0-indexed):
// min(1s * 2^k, 30s).
func Backoff(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	if k >= 5 {
		return MaxRetryDelay
	}
	return min(BaseRetryDelay<<k, MaxRetryDelay)
}

// EnqueueRequest asks for content for a set of items sharing a fingerprint.
type EnqueueRequest struct {
	UserID      uuid.UUID
	Fingerprint string
	ItemIDs     []string
	Params      domain.GenerationParams
	// MaxRetries of zero uses the queue default.
	MaxRetries int
}

// Outcome describes what Enqueue did.
type Outcome string

// Enqueue outcomes
const (
	// OutcomeSatisfied: every item already has a ready result.
	OutcomeSatisfied Outcome = "satisfied"
	// OutcomeCreated: a new pending job was created.
	OutcomeCreated Outcome = "created"
	// OutcomeMerged: new items were added to an existing pending job.
	OutcomeMerged Outcome = "merged"
	// OutcomeUnchanged: the pending job already covered every item.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeInProgress: a fresh processing job already owns the fingerprint.
	OutcomeInProgress Outcome = "in_progress"
)

// StatusReport is everything known about one fingerprint for one user.
type StatusReport struct {
	Fingerprint string                     `json:"fingerprint"`
	Jobs        []*domain.GenerationJob    `json:"jobs"`
	Results     []*domain.GenerationResult `json:"results"`
}

// Waker is notified when jobs become available to drain.
type Waker interface {
	// Wake requests a drain as soon as possible.
	Wake()
	// WakeAfter requests a drain once d has elapsed.
	WakeAfter(d time.Duration)
}

type nopWaker struct{}

func (nopWaker) Wake()                   {}
func (nopWaker) WakeAfter(time.Duration) {}
