package domain

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewGenerationJob(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	params := GenerationParams{SourceLang: "en", TargetLang: "es", Level: "A2", Kind: KindStory}

	job, err := NewGenerationJob(userID, "h1", []string{"p1", "p2", "p1"}, params, 3)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if job.ID == uuid.Nil {
		t.Error("Expected non-nil UUID")
	}
	if job.Status != JobStatusPending {
		t.Errorf("Expected status %s, got %s", JobStatusPending, job.Status)
	}
	if !slices.Equal(job.ItemIDs, []string{"p1", "p2"}) {
		t.Errorf("Expected duplicate items to be dropped, got %v", job.ItemIDs)
	}
	if job.RetryCount != 0 || job.MaxRetries != 3 {
		t.Errorf("Unexpected retry counters %d/%d", job.RetryCount, job.MaxRetries)
	}

	if _, err := NewGenerationJob(userID, "", []string{"p1"}, params, 3); err != ErrEmptyJobFingerprint {
		t.Errorf("Expected %v, got %v", ErrEmptyJobFingerprint, err)
	}
	if _, err := NewGenerationJob(userID, "h1", nil, params, 3); err != ErrEmptyJobItems {
		t.Errorf("Expected %v, got %v", ErrEmptyJobItems, err)
	}
	params.Kind = "poem"
	if _, err := NewGenerationJob(userID, "h1", []string{"p1"}, params, 3); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Expected %v, got %v", ErrInvalidKind, err)
	}
}

func TestGenerationJobTerminalAndStale(t *testing.T) {
	t.Parallel()

	now := time.Now()
	job := &GenerationJob{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}
	if job.IsTerminal() {
		t.Error("Failed job with retries left should not be terminal")
	}
	job.RetryCount = 3
	if !job.IsTerminal() {
		t.Error("Failed job without retries left should be terminal")
	}

	job = &GenerationJob{Status: JobStatusProcessing, UpdatedAt: now.Add(-6 * time.Minute)}
	if !job.IsStale(now, 5*time.Minute) {
		t.Error("Processing job untouched for 6m should be stale")
	}
	job.UpdatedAt = now.Add(-time.Minute)
	if job.IsStale(now, 5*time.Minute) {
		t.Error("Recently updated job should not be stale")
	}
	job.Status = JobStatusPending
	job.UpdatedAt = now.Add(-time.Hour)
	if job.IsStale(now, 5*time.Minute) {
		t.Error("Pending jobs are never stale")
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusPending, true},
		{JobStatusFailed, JobStatusPending, true},
		{JobStatusCompleted, JobStatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMergeItemIDs(t *testing.T) {
	t.Parallel()

	got := MergeItemIDs([]string{"a", "b"}, []string{"b", "c", "", "a", "d"})
	if !slices.Equal(got, []string{"a", "b", "c", "d"}) {
		t.Errorf("Unexpected merge result %v", got)
	}
}
