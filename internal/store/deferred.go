package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
)

// DeferredStore persists requests that exhausted every provider.
type DeferredStore interface {
	Add(ctx context.Context, req *domain.DeferredRequest) error
	Get(ctx context.Context, id uuid.UUID) (*domain.DeferredRequest, error)
	// List returns every stored request, oldest first.
	List(ctx context.Context) ([]*domain.DeferredRequest, error)
	Remove(ctx context.Context, id uuid.UUID) error
	// MarkAttempt increments the retry count and records lastError.
	MarkAttempt(ctx context.Context, id uuid.UUID, lastError string) error
	// DeleteExpired removes requests whose retry count reached their budget.
	DeleteExpired(ctx context.Context) (int, error)
}
