package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// GenerationKind names the kind of content a request produces.
type GenerationKind string

// Supported generation kinds
const (
	KindTranslation GenerationKind = "translation"
	KindStory       GenerationKind = "story"
	KindCloze       GenerationKind = "cloze"
	KindLookup      GenerationKind = "lookup"
)

// Valid reports whether k is a known generation kind.
func (k GenerationKind) Valid() bool {
	switch k {
	case KindTranslation, KindStory, KindCloze, KindLookup:
		return true
	}
	return false
}

// Validation errors for GenerationJob
var (
	ErrEmptyJobID          = errors.New("job ID cannot be empty")
	ErrEmptyJobFingerprint = errors.New("job fingerprint cannot be empty")
	ErrEmptyJobItems       = errors.New("job must contain at least one item")
	ErrInvalidJobStatus    = errors.New("invalid job status")
	ErrInvalidKind         = errors.New("invalid generation kind")
	ErrNegativeRetries     = errors.New("retry counters cannot be negative")
)

// GenerationParams carries the locale and level parameters shared by every
// item of a job.
type GenerationParams struct {
	SourceLang string         `json:"source_lang"`
	TargetLang string         `json:"target_lang"`
	Level      string         `json:"level"`
	Kind       GenerationKind `json:"kind"`
}

// GenerationJob is a durable request to generate content for an ordered set
// of items that share a content fingerprint.
type GenerationJob struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	Fingerprint string           `json:"fingerprint"`
	ItemIDs     []string         `json:"item_ids"`
	Params      GenerationParams `json:"params"`
	RetryCount  int              `json:"retry_count"`
	MaxRetries  int              `json:"max_retries"`
	Status      JobStatus        `json:"status"`
	LastError   string           `json:"last_error,omitempty"`
	// RunAfter is the earliest time a pending job may be claimed. Retries
	// push it forward by the backoff delay.
	RunAfter  time.Time `json:"run_after"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewGenerationJob creates a pending job with a fresh ID. Duplicate item IDs
// are dropped, keeping the first occurrence.
func NewGenerationJob(
	userID uuid.UUID,
	fingerprint string,
	itemIDs []string,
	params GenerationParams,
	maxRetries int,
) (*GenerationJob, error) {
	now := time.Now().UTC()
	job := &GenerationJob{
		ID:          uuid.New(),
		UserID:      userID,
		Fingerprint: fingerprint,
		ItemIDs:     MergeItemIDs(nil, itemIDs),
		Params:      params,
		MaxRetries:  maxRetries,
		Status:      JobStatusPending,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks if the job has valid data.
func (j *GenerationJob) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}
	if j.Fingerprint == "" {
		return ErrEmptyJobFingerprint
	}
	if len(j.ItemIDs) == 0 {
		return ErrEmptyJobItems
	}
	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}
	if j.Params.Kind != "" && !j.Params.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, j.Params.Kind)
	}
	if j.RetryCount < 0 || j.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	return nil
}

// CanRetry reports whether the job still has retry budget.
func (j *GenerationJob) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IsTerminal reports whether the job has reached a state it will not leave
// on its own.
func (j *GenerationJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || (j.Status == JobStatusFailed && !j.CanRetry())
}

// IsStale reports whether a processing job has not been touched for longer
// than threshold and is presumed abandoned.
func (j *GenerationJob) IsStale(now time.Time, threshold time.Duration) bool {
	return j.Status == JobStatusProcessing && now.Sub(j.UpdatedAt) > threshold
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Resetting a stale processing job to pending is permitted.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusPending
	case JobStatusFailed:
		return to == JobStatusPending
	}
	return false
}

// MergeItemIDs appends the items from add that are not already present in
// existing, preserving order.
func MergeItemIDs(existing, add []string) []string {
	merged := slices.Clone(existing)
	for _, id := range add {
		if id == "" || slices.Contains(merged, id) {
			continue
		}
		merged = append(merged, id)
	}
	return merged
}

func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
