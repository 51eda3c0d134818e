package governor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/platform/logger"
	"github.com/phrazzld/lexigen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 14, 15, 0, 0, 0, time.UTC)

func newTestGovernor(t *testing.T, ledger store.LedgerStore, profiles ...domain.ProviderProfile) (*Governor, *time.Time) {
	t.Helper()
	now := testNow
	g, err := New(ledger, profiles, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return g, &now
}

// mockLedger is a store.LedgerStore with overridable behavior.
type mockLedger struct {
	IncrementFn func(ctx context.Context, provider string, periods []string, delta domain.UsageDelta) ([]*domain.UsageLedgerEntry, error)
	GetFn       func(ctx context.Context, provider, period string) (*domain.UsageLedgerEntry, error)
}

func (m *mockLedger) Increment(
	ctx context.Context,
	provider string,
	periods []string,
	delta domain.UsageDelta,
) ([]*domain.UsageLedgerEntry, error) {
	return m.IncrementFn(ctx, provider, periods, delta)
}

func (m *mockLedger) Get(ctx context.Context, provider, period string) (*domain.UsageLedgerEntry, error) {
	return m.GetFn(ctx, provider, period)
}

func TestNewRequiresLedger(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilLedger)
}

func TestCheckUsageDailyCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	profile := domain.ProviderProfile{Name: "gemini", DailyCap: 5}

	g, _ := newTestGovernor(t, NewMemoryLedger(), profile)
	d := g.CheckUsage(ctx, "gemini", 0.50, 100)
	assert.True(t, d.Allowed, "no usage yet should be allowed")
	assert.InDelta(t, 5.0, d.RemainingBudget, 1e-9)

	require.NoError(t, g.RecordUsage(ctx, "gemini", "story", 1000, 4.90))

	d = g.CheckUsage(ctx, "gemini", 0.50, 100)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily cost cap")
	assert.ErrorIs(t, d.Err(), ErrBudgetExceeded)

	d = g.CheckUsage(ctx, "gemini", 0.05, 100)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 0.10, d.RemainingBudget, 1e-9)
	assert.NoError(t, d.Err())
}

func TestCheckUsageDistinctReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile domain.ProviderProfile
		record  func(g *Governor)
		cost    float64
		tokens  int64
		reason  string
	}{
		{
			name:    "monthly cap",
			profile: domain.ProviderProfile{Name: "p", MonthlyCap: 1},
			record: func(g *Governor) {
				_ = g.RecordUsage(context.Background(), "p", "m", 10, 0.95)
			},
			cost:   0.1,
			reason: "monthly cost cap",
		},
		{
			name:    "request limit",
			profile: domain.ProviderProfile{Name: "p", DailyRequestLimit: 2},
			record: func(g *Governor) {
				_ = g.RecordUsage(context.Background(), "p", "m", 1, 0)
				_ = g.RecordUsage(context.Background(), "p", "m", 1, 0)
			},
			reason: "daily request limit",
		},
		{
			name:    "token budget",
			profile: domain.ProviderProfile{Name: "p", DailyTokenLimit: 1000},
			record: func(g *Governor) {
				_ = g.RecordUsage(context.Background(), "p", "m", 900, 0)
			},
			tokens: 200,
			reason: "daily token budget",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, _ := newTestGovernor(t, NewMemoryLedger(), tt.profile)
			tt.record(g)

			d := g.CheckUsage(context.Background(), "p", tt.cost, tt.tokens)

			assert.False(t, d.Allowed)
			assert.Contains(t, d.Reason, tt.reason)
		})
	}
}

func TestCheckUsageUnknownProvider(t *testing.T) {
	t.Parallel()

	g, _ := newTestGovernor(t, NewMemoryLedger())
	d := g.CheckUsage(context.Background(), "ghost", 0, 0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "unknown provider")
}

func TestPeriodRollover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMemoryLedger()
	g, now := newTestGovernor(t, ledger, domain.ProviderProfile{Name: "gemini", DailyCap: 5})

	require.NoError(t, g.RecordUsage(ctx, "gemini", "story", 10, 4.90))
	assert.False(t, g.CheckUsage(ctx, "gemini", 0.5, 0).Allowed)

	*now = now.Add(24 * time.Hour)

	d := g.CheckUsage(ctx, "gemini", 0.5, 0)
	assert.True(t, d.Allowed, "yesterday's usage must not count today")

	yesterday, err := ledger.Get(ctx, "gemini", domain.DailyPeriod(testNow))
	require.NoError(t, err)
	assert.InDelta(t, 4.90, yesterday.Cost, 1e-9, "history is kept")

	usage, err := g.Usage(ctx, "gemini")
	require.NoError(t, err)
	assert.Zero(t, usage.Daily.Cost)
	assert.InDelta(t, 4.90, usage.Monthly.Cost, 1e-9, "same month keeps accumulating")
}

func TestRecordUsageAlerts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g, _ := newTestGovernor(t, NewMemoryLedger(), domain.ProviderProfile{Name: "gemini", DailyCap: 10})

	require.NoError(t, g.RecordUsage(ctx, "gemini", "story", 1, 5))
	assert.Empty(t, g.Alerts())

	require.NoError(t, g.RecordUsage(ctx, "gemini", "story", 1, 3.5))
	alerts := g.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertWarning, alerts[0].Level)
	assert.Equal(t, "daily:2026-05-14", alerts[0].Period)

	require.NoError(t, g.RecordUsage(ctx, "gemini", "story", 1, 0.5))
	assert.Len(t, g.Alerts(), 1, "staying above 80% should not re-alert")

	require.NoError(t, g.RecordUsage(ctx, "gemini", "story", 1, 2))
	alerts = g.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertError, alerts[1].Level)
}

func TestAlertsRingBuffer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g, now := newTestGovernor(t, NewMemoryLedger(), domain.ProviderProfile{Name: "p", DailyCap: 1})

	for i := range 30 {
		*now = testNow.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, g.RecordUsage(ctx, "p", "m", 1, 1))
	}

	alerts := g.Alerts()
	assert.Len(t, alerts, 50)
	assert.Equal(t, domain.DailyPeriod(testNow.Add(5*24*time.Hour)), alerts[0].Period,
		"oldest alerts should be dropped first")
}

func TestFailOpenWhenLedgerUnavailable(t *testing.T) {
	t.Parallel()

	unavailable := fmt.Errorf("relation usage_ledger does not exist: %w", store.ErrStorageUnavailable)
	ledger := &mockLedger{
		IncrementFn: func(context.Context, string, []string, domain.UsageDelta) ([]*domain.UsageLedgerEntry, error) {
			return nil, unavailable
		},
		GetFn: func(context.Context, string, string) (*domain.UsageLedgerEntry, error) {
			return nil, unavailable
		},
	}
	l, buf := logger.NewBufferLogger()
	g, err := New(ledger, []domain.ProviderProfile{{Name: "p", DailyCap: 0.01}}, l)
	require.NoError(t, err)
	ctx := context.Background()

	for range 5 {
		d := g.CheckUsage(ctx, "p", 100, 1_000_000)
		assert.True(t, d.Allowed)
		assert.True(t, d.Unlimited())
		assert.NoError(t, g.RecordUsage(ctx, "p", "m", 1, 1))
	}

	assert.Equal(t, 1, buf.Count("usage ledger unavailable"))
}

func TestRecordUsagePropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	ledger := &mockLedger{
		IncrementFn: func(context.Context, string, []string, domain.UsageDelta) ([]*domain.UsageLedgerEntry, error) {
			return nil, boom
		},
	}
	g, _ := newTestGovernor(t, ledger, domain.ProviderProfile{Name: "p"})

	err := g.RecordUsage(context.Background(), "p", "m", 1, 1)
	assert.ErrorIs(t, err, boom)
}

func TestSetProfileUpdatesOnlyCaps(t *testing.T) {
	t.Parallel()

	g, _ := newTestGovernor(t, NewMemoryLedger(), domain.ProviderProfile{Name: "p", InputRate: 0.001, DailyCap: 1})

	g.SetProfile(domain.ProviderProfile{Name: "p", InputRate: 99, DailyCap: 20})
	g.SetProfile(domain.ProviderProfile{Name: "q", DailyCap: 3})

	p, ok := g.Profile("p")
	require.True(t, ok)
	assert.Equal(t, 0.001, p.InputRate)
	assert.Equal(t, 20.0, p.DailyCap)

	profiles := g.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "p", profiles[0].Name)
	assert.Equal(t, "q", profiles[1].Name)
}
