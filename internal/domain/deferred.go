package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeferredRequest is a request that exhausted every provider and waits for
// a backoff-scheduled retry.
type DeferredRequest struct {
	ID         uuid.UUID       `json:"id"`
	Kind       GenerationKind  `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
}

// maxRetryShift keeps 2^shift minutes inside time.Duration's range.
const maxRetryShift = 27

// RetryDelay is the minimum age a request must reach before its next retry:
// 2^RetryCount minutes, capped near 255 years.
func (r *DeferredRequest) RetryDelay() time.Duration {
	shift := min(max(r.RetryCount, 0), maxRetryShift)
	return time.Duration(1<<shift) * time.Minute
}

// IsRetryable reports whether the request is due for another attempt at now.
func (r *DeferredRequest) IsRetryable(now time.Time) bool {
	return r.RetryCount < r.MaxRetries && now.Sub(r.CreatedAt) >= r.RetryDelay()
}

// IsExpired reports whether the request has used its whole retry budget.
func (r *DeferredRequest) IsExpired() bool {
	return r.RetryCount >= r.MaxRetries
}
