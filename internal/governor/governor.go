package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
)

// Governor errors
var (
	// ErrBudgetExceeded marks a denial. The dispatcher skips the provider.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrUnknownProvider is returned for providers without a profile.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNilLedger is returned by New when no ledger store is supplied.
	ErrNilLedger = errors.New("ledger store cannot be nil")
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
	// RemainingBudget is the smallest headroom across configured cost caps.
	// It is +Inf when no cost cap applies or the ledger is unavailable.
	RemainingBudget float64
}

// Err returns nil for an allowed decision and an ErrBudgetExceeded wrapper
// carrying the reason otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, d.Reason)
}

// Unlimited reports whether no cost cap bounds the decision.
func (d Decision) Unlimited() bool {
	return math.IsInf(d.RemainingBudget, 1)
}

// Usage is the current-period spend of one provider.
type Usage struct {
	Daily   domain.UsageLedgerEntry `json:"daily"`
	Monthly domain.UsageLedgerEntry `json:"monthly"`
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock replaces the time source used to pick ledger periods.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithWarnRatio sets the fraction of the daily cap that raises a warning.
func WithWarnRatio(ratio float64) Option {
	return func(g *Governor) {
		if ratio > 0 && ratio <= 1 {
			g.warnRatio = ratio
		}
	}
}

// WithMaxAlerts bounds the alert history.
func WithMaxAlerts(n int) Option {
	return func(g *Governor) {
		if n > 0 {
			g.maxAlerts = n
		}
	}
}

// Governor admits or denies provider calls against their caps and records
// completed usage.
type Governor struct {
	ledger store.LedgerStore
	logger *slog.Logger
	now    func() time.Time

	warnRatio float64
	maxAlerts int

	mu       sync.RWMutex
	profiles map[string]domain.ProviderProfile
	alerts   []Alert

	unavailableOnce sync.Once
}

// New creates a Governor over ledger for the given provider profiles.
func New(
	ledger store.LedgerStore,
	profiles []domain.ProviderProfile,
	logger *slog.Logger,
	opts ...Option,
) (*Governor, error) {
	if ledger == nil {
		return nil, ErrNilLedger
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Governor{
		ledger:    ledger,
		logger:    logger.With("component", "cost_governor"),
		now:       time.Now,
		warnRatio: 0.8,
		maxAlerts: 50,
		profiles:  make(map[string]domain.ProviderProfile, len(profiles)),
	}
	for _, p := range profiles {
		g.profiles[p.Name] = p
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CheckUsage decides whether provider may take a call estimated to cost
// estimatedCost and consume estimatedTokens.
func (g *Governor) CheckUsage(
	ctx context.Context,
	provider string,
	estimatedCost float64,
	estimatedTokens int64,
) Decision {
	profile, ok := g.Profile(provider)
	if !ok {
		return Decision{Reason: fmt.Sprintf("%s: %s", ErrUnknownProvider, provider)}
	}

	usage, err := g.Usage(ctx, provider)
	if err != nil {
		g.ledgerError("check usage", err)
		return Decision{Allowed: true, RemainingBudget: math.Inf(1)}
	}
	daily, monthly := usage.Daily, usage.Monthly

	if profile.DailyCap > 0 && daily.Cost+estimatedCost > profile.DailyCap {
		return Decision{Reason: fmt.Sprintf(
			"daily cost cap of $%.2f would be exceeded (used $%.2f, estimated $%.2f)",
			profile.DailyCap, daily.Cost, estimatedCost)}
	}
	if profile.MonthlyCap > 0 && monthly.Cost+estimatedCost > profile.MonthlyCap {
		return Decision{Reason: fmt.Sprintf(
			"monthly cost cap of $%.2f would be exceeded (used $%.2f, estimated $%.2f)",
			profile.MonthlyCap, monthly.Cost, estimatedCost)}
	}
	if profile.DailyRequestLimit > 0 && daily.Requests >= profile.DailyRequestLimit {
		return Decision{Reason: fmt.Sprintf(
			"daily request limit of %d reached", profile.DailyRequestLimit)}
	}
	if profile.DailyTokenLimit > 0 && daily.Tokens+estimatedTokens > profile.DailyTokenLimit {
		return Decision{Reason: fmt.Sprintf(
			"daily token budget of %d would be exceeded (used %d, estimated %d)",
			profile.DailyTokenLimit, daily.Tokens, estimatedTokens)}
	}

	remaining := math.Inf(1)
	if profile.DailyCap > 0 {
		remaining = math.Min(remaining, profile.DailyCap-daily.Cost)
	}
	if profile.MonthlyCap > 0 {
		remaining = math.Min(remaining, profile.MonthlyCap-monthly.Cost)
	}
	return Decision{Allowed: true, RemainingBudget: remaining}
}

// RecordUsage adds one completed call to the provider's daily and monthly
// ledger entries and raises alerts when the daily cap thresholds are crossed.
// An unavailable ledger is logged once and otherwise ignored.
func (g *Governor) RecordUsage(ctx context.Context, provider, method string, tokens int64, cost float64) error {
	now := g.now()
	delta := domain.UsageDelta{Cost: cost, Tokens: tokens, Requests: 1}

	entries, err := g.ledger.Increment(ctx, provider,
		[]string{domain.DailyPeriod(now), domain.MonthlyPeriod(now)}, delta)
	if err != nil {
		if store.IsUnavailable(err) {
			g.ledgerError("record usage", err)
			return nil
		}
		return fmt.Errorf("failed to record usage for %s: %w", provider, err)
	}
	daily := entries[0]

	g.logger.Debug("usage recorded",
		slog.String("provider", provider),
		slog.String("method", method),
		slog.Int64("tokens", tokens),
		slog.Float64("cost", cost),
		slog.Float64("daily_cost", daily.Cost))

	if profile, ok := g.Profile(provider); ok && profile.DailyCap > 0 {
		g.checkThresholds(ctx, provider, daily, cost, profile.DailyCap, now)
	}
	return nil
}

// Usage returns the provider's ledger entries for the current day and month.
func (g *Governor) Usage(ctx context.Context, provider string) (Usage, error) {
	now := g.now()
	daily, err := g.ledger.Get(ctx, provider, domain.DailyPeriod(now))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read daily usage for %s: %w", provider, err)
	}
	monthly, err := g.ledger.Get(ctx, provider, domain.MonthlyPeriod(now))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read monthly usage for %s: %w", provider, err)
	}
	return Usage{Daily: *daily, Monthly: *monthly}, nil
}

// SetProfile registers a provider, or updates only the caps of one that is
// already registered.
func (g *Governor) SetProfile(p domain.ProviderProfile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.profiles[p.Name]; ok {
		g.profiles[p.Name] = existing.WithCaps(p)
		return
	}
	g.profiles[p.Name] = p
}

// Profile returns the registered profile for name.
func (g *Governor) Profile(name string) (domain.ProviderProfile, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.profiles[name]
	return p, ok
}

// Profiles returns every registered profile ordered by name.
func (g *Governor) Profiles() []domain.ProviderProfile {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.ProviderProfile, 0, len(g.profiles))
	for _, p := range g.profiles {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.ProviderProfile) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

func (g *Governor) ledgerError(op string, err error) {
	if store.IsUnavailable(err) {
		g.unavailableOnce.Do(func() {
			g.logger.Warn("usage ledger unavailable, allowing all requests",
				slog.String("operation", op),
				slog.String("error", err.Error()))
		})
		return
	}
	g.logger.Warn("usage ledger error, allowing request",
		slog.String("operation", op),
		slog.String("error", err.Error()))
}
