package store

import (
	"context"

	"github.com/phrazzld/lexigen/internal/domain"
)

// LedgerStore keeps cumulative usage per (provider, period).
type LedgerStore interface {
	// Increment adds delta to the entry of provider for every period,
	// creating entries when absent. All periods are updated or none are.
	// The updated entries are returned in the order of periods.
	Increment(ctx context.Context, provider string, periods []string, delta domain.UsageDelta) ([]*domain.UsageLedgerEntry, error)

	// Get returns the entry for provider and period. A missing entry is not
	// an error; a zero entry is returned instead.
	Get(ctx context.Context, provider, period string) (*domain.UsageLedgerEntry, error)
}
