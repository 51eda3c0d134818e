package governor

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/lexigen/internal/domain"
)

type ledgerKey struct {
	provider string
	period   string
}

// MemoryLedger is an in-process store.LedgerStore.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[ledgerKey]domain.UsageLedgerEntry
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[ledgerKey]domain.UsageLedgerEntry)}
}

func (l *MemoryLedger) Increment(
	_ context.Context,
	provider string,
	periods []string,
	delta domain.UsageDelta,
) ([]*domain.UsageLedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	out := make([]*domain.UsageLedgerEntry, 0, len(periods))
	for _, period := range periods {
		k := ledgerKey{provider, period}
		e := l.entries[k]
		e.Provider = provider
		e.Period = period
		e.Cost += delta.Cost
		e.Tokens += delta.Tokens
		e.Requests += delta.Requests
		e.UpdatedAt = now
		l.entries[k] = e
		out = append(out, &e)
	}
	return out, nil
}

func (l *MemoryLedger) Get(_ context.Context, provider, period string) (*domain.UsageLedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ledgerKey{provider, period}]
	if !ok {
		return &domain.UsageLedgerEntry{Provider: provider, Period: period}, nil
	}
	return &e, nil
}
