package selector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lookupJSON = `{"word":"gato","translation":"cat"}`

var lookupReq = provider.Request{Kind: domain.KindLookup, Text: "gato", SourceLang: "es", TargetLang: "en"}

func newTestSelector(t *testing.T, a, b provider.Provider, opts ...Option) *Selector {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	s, err := New(a, b, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	require.NoError(t, err)
	return s
}

func TestNewRequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := New(providertest.New("a", "{}"), nil, nil)
	assert.Error(t, err)
}

func TestSelectColdStartIsFair(t *testing.T) {
	t.Parallel()

	s := newTestSelector(t, providertest.New("a", lookupJSON), providertest.New("b", lookupJSON))
	for range 10 {
		s.Tracker().Record("a", time.Millisecond, true)
		s.Tracker().Record("b", time.Second, false)
	}

	const trials = 10000
	primaryA := 0
	for range trials {
		primary, fallback := s.Select()
		assert.NotEqual(t, primary.Name(), fallback.Name())
		if primary.Name() == "a" {
			primaryA++
		}
	}

	assert.InDelta(t, trials/2, primaryA, 300, "cold start should pick uniformly")
}

func TestSelectConvergesOnReliableProvider(t *testing.T) {
	t.Parallel()

	s := newTestSelector(t, providertest.New("a", lookupJSON), providertest.New("b", lookupJSON))
	for range DefaultMinSamples {
		s.Tracker().Record("a", 100*time.Millisecond, true)
		s.Tracker().Record("b", 100*time.Millisecond, false)
	}

	for range 1000 {
		primary, _ := s.Select()
		require.Equal(t, "a", primary.Name())
	}
}

func TestLookupFallsBackOnFailure(t *testing.T) {
	t.Parallel()

	bad := providertest.Failing("a", provider.NewError("a", provider.CodeServer, 503, errors.New("down")))
	good := providertest.New("b", lookupJSON)
	s := newTestSelector(t, bad, good)
	// Make a the primary.
	for range DefaultMinSamples {
		s.Tracker().Record("a", time.Millisecond, true)
		s.Tracker().Record("b", time.Millisecond, false)
	}

	resp, err := s.Lookup(context.Background(), lookupReq)

	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.JSONEq(t, lookupJSON, string(resp.Content))
	assert.Equal(t, 1, bad.Calls())
	assert.Equal(t, DefaultMinSamples+1, s.Tracker().Stats("a").Samples())
	assert.Equal(t, DefaultMinSamples+1, s.Tracker().Stats("b").Samples())
	assert.Equal(t, 1, s.Tracker().Stats("b").Successes)
}

func TestLookupTimesOutSlowPrimary(t *testing.T) {
	t.Parallel()

	slow := providertest.New("a", lookupJSON)
	slow.RespondFn = func(ctx context.Context, _ provider.Request) (*provider.Response, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return &provider.Response{Provider: "a", Content: []byte(lookupJSON)}, nil
	}
	fast := providertest.New("b", lookupJSON)
	s := newTestSelector(t, slow, fast, WithTimeout(20*time.Millisecond))
	for range DefaultMinSamples {
		s.Tracker().Record("a", time.Millisecond, true)
		s.Tracker().Record("b", time.Millisecond, false)
	}

	resp, err := s.Lookup(context.Background(), lookupReq)

	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, s.Tracker().Stats("a").Failures)
}

func TestLookupRejectsMalformedOutput(t *testing.T) {
	t.Parallel()

	garbled := providertest.New("a", `{"word":"gato"}`)
	good := providertest.New("b", lookupJSON)
	s := newTestSelector(t, garbled, good)
	for range DefaultMinSamples {
		s.Tracker().Record("a", time.Millisecond, true)
		s.Tracker().Record("b", time.Millisecond, false)
	}

	resp, err := s.Lookup(context.Background(), lookupReq)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
}

func TestLookupBothFail(t *testing.T) {
	t.Parallel()

	errA := errors.New("a down")
	errB := errors.New("b down")
	s := newTestSelector(t, providertest.Failing("a", errA), providertest.Failing("b", errB))

	_, err := s.Lookup(context.Background(), lookupReq)

	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestLookupSkipsPrimaryOverLimit(t *testing.T) {
	t.Parallel()

	capped := providertest.New("a", lookupJSON)
	capped.WithinLimitFn = func(context.Context) bool { return false }
	other := providertest.New("b", lookupJSON)
	s := newTestSelector(t, capped, other)
	for range DefaultMinSamples {
		s.Tracker().Record("a", time.Millisecond, true)
		s.Tracker().Record("b", time.Millisecond, false)
	}

	resp, err := s.Lookup(context.Background(), lookupReq)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Zero(t, capped.Calls())
}

func TestLookupTreatsEmptyResponseAsFailure(t *testing.T) {
	t.Parallel()

	empty := providertest.New("a", lookupJSON)
	empty.RespondFn = func(context.Context, provider.Request) (*provider.Response, error) {
		return nil, nil
	}
	good := providertest.New("b", lookupJSON)
	s := newTestSelector(t, empty, good)
	for range DefaultMinSamples {
		s.Tracker().Record("a", time.Millisecond, true)
		s.Tracker().Record("b", time.Millisecond, false)
	}

	resp, err := s.Lookup(context.Background(), lookupReq)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, s.Tracker().Stats("a").Failures)
}

// cappedProvider wires a fake to a real governor the way providers are built
// in production.
func cappedProvider(t *testing.T, g *governor.Governor, name string) *providertest.Fake {
	t.Helper()
	profile := domain.ProviderProfile{
		Name: name, Kind: domain.ProviderKindLLM,
		InputRate: 0.000001, OutputRate: 0.000001, DailyCap: 0.001,
	}
	g.SetProfile(profile)
	base := provider.NewBase(profile, g)
	f := providertest.New(name, lookupJSON)
	f.ProfileValue = profile
	f.RespondFn = func(context.Context, provider.Request) (*provider.Response, error) {
		return &provider.Response{Provider: name, Content: []byte(lookupJSON), InputTokens: 1000, OutputTokens: 1000}, nil
	}
	f.WithinLimitFn = base.WithinDailyLimit
	return f
}

func newTestGovernor(t *testing.T) *governor.Governor {
	t.Helper()
	g, err := governor.New(governor.NewMemoryLedger(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return g
}

func TestLookupRecordsUsageWithGovernor(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t)
	a := providertest.New("a", lookupJSON)
	a.ProfileValue = domain.ProviderProfile{Name: "a", Kind: domain.ProviderKindLLM, InputRate: 0.001, OutputRate: 0.002}
	b := providertest.New("b", lookupJSON)
	b.ProfileValue = domain.ProviderProfile{Name: "b", Kind: domain.ProviderKindLLM, InputRate: 0.001, OutputRate: 0.002}
	g.SetProfile(a.ProfileValue)
	g.SetProfile(b.ProfileValue)
	s := newTestSelector(t, a, b, WithGovernor(g))

	ctx := context.Background()
	for range 10 {
		_, err := s.Lookup(ctx, lookupReq)
		require.NoError(t, err)
	}

	var requests int64
	var cost float64
	for _, name := range []string{"a", "b"} {
		usage, err := g.Usage(ctx, name)
		require.NoError(t, err)
		requests += usage.Daily.Requests
		cost += usage.Daily.Cost
	}
	assert.Equal(t, int64(10), requests)
	assert.InDelta(t, 10*(10*0.001+20*0.002), cost, 1e-9)
	assert.Equal(t, 10, a.Calls()+b.Calls())
}

func TestLookupStopsAtDailyCaps(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t)
	a := cappedProvider(t, g, "a")
	b := cappedProvider(t, g, "b")
	s := newTestSelector(t, a, b, WithGovernor(g))

	ctx := context.Background()
	served := 0
	for range 50 {
		_, err := s.Lookup(ctx, lookupReq)
		if err == nil {
			served++
			continue
		}
		assert.ErrorIs(t, err, ErrLookupFailed)
		assert.ErrorIs(t, err, governor.ErrBudgetExceeded)
	}

	// One call costs 0.002 against a 0.001 cap, so it exhausts its provider.
	assert.Equal(t, 2, served)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())
	assert.False(t, a.WithinDailyLimit(ctx))
	assert.False(t, b.WithinDailyLimit(ctx))
}
