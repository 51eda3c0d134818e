package task

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
)

// MemoryJobStore is an in-memory store.JobStore. Its mutex gives each
// method the same all-or-nothing conditional-write semantics as the SQL
// statements in the Postgres store.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.GenerationJob
	now  func() time.Time
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[uuid.UUID]*domain.GenerationJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for updated_at.
func (s *MemoryJobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func cloneJob(j *domain.GenerationJob) *domain.GenerationJob {
	c := *j
	c.ItemIDs = slices.Clone(j.ItemIDs)
	return &c
}

func isActive(status domain.JobStatus) bool {
	return status == domain.JobStatusPending || status == domain.JobStatusProcessing
}

// Create implements store.JobStore.
func (s *MemoryJobStore) Create(_ context.Context, job *domain.GenerationJob) error {
	if err := job.Validate(); err != nil {
		return store.NewStoreError("generation_job", "create", "invalid job", fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicate
	}
	if isActive(job.Status) {
		for _, other := range s.jobs {
			if other.Fingerprint == job.Fingerprint && isActive(other.Status) {
				return store.ErrActiveJobExists
			}
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get implements store.JobStore.
func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// FindActive implements store.JobStore.
func (s *MemoryJobStore) FindActive(_ context.Context, fingerprint string) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.GenerationJob
	for _, j := range s.jobs {
		if j.Fingerprint != fingerprint || j.Status == domain.JobStatusFailed {
			continue
		}
		if found == nil || j.CreatedAt.After(found.CreatedAt) {
			found = j
		}
	}
	if found == nil {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(found), nil
}

// ListByFingerprint implements store.JobStore.
func (s *MemoryJobStore) ListByFingerprint(_ context.Context, fingerprint string) ([]*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.GenerationJob
	for _, j := range s.jobs {
		if j.Fingerprint == fingerprint {
			out = append(out, cloneJob(j))
		}
	}
	slices.SortFunc(out, func(a, b *domain.GenerationJob) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// OldestPending implements store.JobStore.
func (s *MemoryJobStore) OldestPending(_ context.Context, now time.Time) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.GenerationJob
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusPending || j.RunAfter.After(now) {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(oldest), nil
}

// Claim implements store.JobStore.
func (s *MemoryJobStore) Claim(_ context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	if j.Status != domain.JobStatusPending {
		return nil, store.ErrClaimLost
	}
	j.Status = domain.JobStatusProcessing
	j.UpdatedAt = s.now()
	return cloneJob(j), nil
}

// UpdateStatus implements store.JobStore.
func (s *MemoryJobStore) UpdateStatus(
	_ context.Context,
	id uuid.UUID,
	from, to domain.JobStatus,
	retryCount int,
	lastError string,
) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if j.Status != from {
		return store.ErrClaimLost
	}
	j.Status = to
	j.RetryCount = retryCount
	j.LastError = lastError
	j.UpdatedAt = s.now()
	return nil
}

// Requeue implements store.JobStore.
func (s *MemoryJobStore) Requeue(
	_ context.Context,
	id uuid.UUID,
	retryCount int,
	lastError string,
	runAfter time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if j.Status != domain.JobStatusProcessing {
		return store.ErrClaimLost
	}
	j.Status = domain.JobStatusPending
	j.RetryCount = retryCount
	j.LastError = lastError
	j.RunAfter = runAfter
	j.UpdatedAt = s.now()
	return nil
}

// AppendItems implements store.JobStore.
func (s *MemoryJobStore) AppendItems(_ context.Context, id uuid.UUID, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if j.Status != domain.JobStatusPending {
		return store.ErrClaimLost
	}
	j.ItemIDs = slices.Clone(itemIDs)
	j.UpdatedAt = s.now()
	return nil
}

// ResetStale implements store.JobStore.
func (s *MemoryJobStore) ResetStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusProcessing && j.UpdatedAt.Before(olderThan) {
			j.Status = domain.JobStatusPending
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// DeleteFailedBefore implements store.JobStore.
func (s *MemoryJobStore) DeleteFailedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == domain.JobStatusFailed && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Delete implements store.JobStore.
func (s *MemoryJobStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return store.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

type resultKey struct {
	user        uuid.UUID
	fingerprint string
	item        string
}

// MemoryResultStore is an in-memory store.ResultStore.
type MemoryResultStore struct {
	mu      sync.Mutex
	results map[resultKey]*domain.GenerationResult
}

// NewMemoryResultStore creates an empty MemoryResultStore.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[resultKey]*domain.GenerationResult)}
}

// Save implements store.ResultStore.
func (s *MemoryResultStore) Save(_ context.Context, r *domain.GenerationResult) error {
	if err := r.Validate(); err != nil {
		return store.NewStoreError("generation_result", "save", "invalid result", fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	c.Content = slices.Clone(r.Content)
	s.results[resultKey{r.UserID, r.Fingerprint, r.ItemID}] = &c
	return nil
}

// ReadyItems implements store.ResultStore.
func (s *MemoryResultStore) ReadyItems(
	_ context.Context,
	userID uuid.UUID,
	fingerprint string,
	itemIDs []string,
) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []string
	for _, id := range itemIDs {
		r, ok := s.results[resultKey{userID, fingerprint, id}]
		if ok && r.Status == domain.ResultStatusReady && !slices.Contains(ready, id) {
			ready = append(ready, id)
		}
	}
	return ready, nil
}

// List implements store.ResultStore.
func (s *MemoryResultStore) List(_ context.Context, userID uuid.UUID, fingerprint string) ([]*domain.GenerationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.GenerationResult
	for k, r := range s.results {
		if k.user == userID && k.fingerprint == fingerprint {
			c := *r
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *domain.GenerationResult) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ItemID < b.ItemID:
			return -1
		case a.ItemID > b.ItemID:
			return 1
		}
		return 0
	})
	return out, nil
}

var (
	_ store.JobStore    = (*MemoryJobStore)(nil)
	_ store.ResultStore = (*MemoryResultStore)(nil)
)
