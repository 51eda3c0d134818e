package deferred

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
)

// MemoryStore is an in-memory store.DeferredStore.
type MemoryStore struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]*domain.DeferredRequest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reqs: make(map[uuid.UUID]*domain.DeferredRequest)}
}

func clone(r *domain.DeferredRequest) *domain.DeferredRequest {
	c := *r
	c.Payload = slices.Clone(r.Payload)
	return &c
}

// Add implements store.DeferredStore.
func (s *MemoryStore) Add(_ context.Context, req *domain.DeferredRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[req.ID]; ok {
		return store.ErrDuplicate
	}
	s.reqs[req.ID] = clone(req)
	return nil
}

// Get implements store.DeferredStore.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.DeferredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return nil, store.ErrDeferredNotFound
	}
	return clone(r), nil
}

// List implements store.DeferredStore.
func (s *MemoryStore) List(context.Context) ([]*domain.DeferredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.DeferredRequest, 0, len(s.reqs))
	for _, r := range s.reqs {
		out = append(out, clone(r))
	}
	slices.SortFunc(out, func(a, b *domain.DeferredRequest) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Remove implements store.DeferredStore.
func (s *MemoryStore) Remove(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[id]; !ok {
		return store.ErrDeferredNotFound
	}
	delete(s.reqs, id)
	return nil
}

// MarkAttempt implements store.DeferredStore.
func (s *MemoryStore) MarkAttempt(_ context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return store.ErrDeferredNotFound
	}
	r.RetryCount++
	r.LastError = lastError
	return nil
}

// DeleteExpired implements store.DeferredStore.
func (s *MemoryStore) DeleteExpired(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reqs {
		if r.IsExpired() {
			delete(s.reqs, id)
			n++
		}
	}
	return n, nil
}

var _ store.DeferredStore = (*MemoryStore)(nil)
