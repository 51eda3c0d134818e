package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/lexigen/internal/cache"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/events"
	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const translationJSON = `{"translation":"the cat"}`

var translationReq = provider.Request{
	Kind: domain.KindTranslation, Text: "el gato", SourceLang: "es", TargetLang: "en",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func priced(f *providertest.Fake, inputRate float64) *providertest.Fake {
	f.ProfileValue.InputRate = inputRate
	return f
}

type harness struct {
	cache    *cache.ResponseCache
	governor *governor.Governor
	events   *recordingPublisher
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.StatusEvent
}

func (r *recordingPublisher) Publish(_ context.Context, e *events.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newHarness(t *testing.T, profiles ...domain.ProviderProfile) *harness {
	t.Helper()
	c, err := cache.New(cache.NewMemoryStore(), cache.DefaultConfig(), discardLogger())
	require.NoError(t, err)
	g, err := governor.New(governor.NewMemoryLedger(), profiles, discardLogger())
	require.NoError(t, err)
	return &harness{cache: c, governor: g, events: &recordingPublisher{}}
}

func (h *harness) dispatcher(t *testing.T, providers ...provider.Provider) *Dispatcher {
	t.Helper()
	d, err := New(providers, h.cache, h.governor,
		WithLogger(discardLogger()),
		WithPublisher(h.events),
		WithTokenCounter(TokenCounterFunc(charEstimate)))
	require.NoError(t, err)
	return d
}

func profilesOf(fakes ...*providertest.Fake) []domain.ProviderProfile {
	out := make([]domain.ProviderProfile, len(fakes))
	for i, f := range fakes {
		out[i] = f.ProfileValue
	}
	return out
}

func TestNewSortsByCostStably(t *testing.T) {
	t.Parallel()

	pricey := priced(providertest.New("pricey", translationJSON), 0.01)
	cheapA := priced(providertest.New("cheap-a", translationJSON), 0.001)
	cheapB := priced(providertest.New("cheap-b", translationJSON), 0.001)
	mt := providertest.New("mt", translationJSON)
	mt.ProfileValue.CharRate = 0.00002

	h := newHarness(t)
	d := h.dispatcher(t, pricey, cheapA, mt, cheapB)

	var names []string
	for _, p := range d.Providers() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"mt", "cheap-a", "cheap-b", "pricey"}, names)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := New(nil, h.cache, h.governor)
	assert.ErrorIs(t, err, ErrNoProviders)

	_, err = New([]provider.Provider{providertest.New("a", "{}")}, nil, h.governor)
	assert.Error(t, err)
}

func TestDispatchFallsBackToNextProvider(t *testing.T) {
	t.Parallel()

	cheap := priced(providertest.Failing("cheap",
		provider.NewError("cheap", provider.CodeServer, 500, errors.New("boom"))), 0.001)
	expensive := priced(providertest.New("expensive", translationJSON), 0.01)
	h := newHarness(t, profilesOf(cheap, expensive)...)
	d := h.dispatcher(t, expensive, cheap)

	res, err := d.Dispatch(context.Background(), translationReq)

	require.NoError(t, err)
	assert.Equal(t, "expensive", res.Provider)
	assert.False(t, res.Cached)
	assert.JSONEq(t, translationJSON, string(res.Content))
	assert.Equal(t, 1, cheap.Calls())
	assert.Equal(t, 1, expensive.Calls())

	usage, err := h.governor.Usage(context.Background(), "expensive")
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Daily.Requests)
	assert.Equal(t, int64(30), usage.Daily.Tokens)

	cheapUsage, err := h.governor.Usage(context.Background(), "cheap")
	require.NoError(t, err)
	assert.Zero(t, cheapUsage.Daily.Requests, "failed calls are not billed")

	assert.Equal(t, []string{events.TaskStarted, events.TaskCompleted}, h.events.Types())
}

func TestDispatchAllProvidersExhausted(t *testing.T) {
	t.Parallel()

	cheap := priced(providertest.Failing("cheap", errors.New("network down")), 0.001)
	expensive := priced(providertest.Failing("expensive",
		provider.NewError("expensive", provider.CodeAuth, 401, errors.New("bad key"))), 0.01)
	h := newHarness(t, profilesOf(cheap, expensive)...)
	d := h.dispatcher(t, cheap, expensive)

	_, err := d.Dispatch(context.Background(), translationReq)

	require.ErrorIs(t, err, ErrAllProvidersExhausted)
	var exhausted *AllProvidersExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []string{"cheap", "expensive"}, exhausted.Providers())
	assert.Contains(t, err.Error(), "network down")
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, []string{events.TaskStarted, events.TaskFailed}, h.events.Types())
}

func TestDispatchCacheHitSkipsProviders(t *testing.T) {
	t.Parallel()

	p := providertest.New("only", translationJSON)
	h := newHarness(t, p.ProfileValue)
	d := h.dispatcher(t, p)
	ctx := context.Background()

	first, err := d.Dispatch(ctx, translationReq)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := d.Dispatch(ctx, translationReq)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Key, second.Key)
	assert.JSONEq(t, translationJSON, string(second.Content))
	assert.Equal(t, 1, p.Calls())
}

func TestDispatchSkipsProviderOverBudget(t *testing.T) {
	t.Parallel()

	capped := priced(providertest.New("capped", translationJSON), 0.001)
	capped.ProfileValue.DailyRequestLimit = 1
	backup := priced(providertest.New("backup", translationJSON), 0.01)
	h := newHarness(t, profilesOf(capped, backup)...)
	d := h.dispatcher(t, capped, backup)
	ctx := context.Background()

	require.NoError(t, h.governor.RecordUsage(ctx, "capped", "translation", 1, 0))

	res, err := d.Dispatch(ctx, translationReq)

	require.NoError(t, err)
	assert.Equal(t, "backup", res.Provider)
	assert.Zero(t, capped.Calls(), "a denied provider is never called")
}

func TestDispatchRejectsMalformedOutput(t *testing.T) {
	t.Parallel()

	chatty := priced(providertest.New("chatty", `{"notes":"I could not translate that"}`), 0.001)
	strict := priced(providertest.New("strict", translationJSON), 0.01)
	h := newHarness(t, profilesOf(chatty, strict)...)
	d := h.dispatcher(t, chatty, strict)

	res, err := d.Dispatch(context.Background(), translationReq)

	require.NoError(t, err)
	assert.Equal(t, "strict", res.Provider)
	usage, err := h.governor.Usage(context.Background(), "chatty")
	require.NoError(t, err)
	assert.Zero(t, usage.Daily.Requests)
}

func TestDispatchInvalidRequest(t *testing.T) {
	t.Parallel()

	p := providertest.New("p", translationJSON)
	h := newHarness(t, p.ProfileValue)
	d := h.dispatcher(t, p)

	_, err := d.Dispatch(context.Background(), provider.Request{Kind: domain.KindTranslation})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
	assert.Zero(t, p.Calls())
}

func TestDispatchSharesInFlightCalls(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started atomic.Int32
	slow := providertest.New("slow", translationJSON)
	slow.RespondFn = func(context.Context, provider.Request) (*provider.Response, error) {
		started.Add(1)
		<-release
		return &provider.Response{Provider: "slow", Content: []byte(translationJSON)}, nil
	}
	h := newHarness(t, slow.ProfileValue)
	d := h.dispatcher(t, slow)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Dispatch(context.Background(), translationReq)
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the other callers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, slow.Calls())
	for _, res := range results {
		require.NotNil(t, res)
		assert.JSONEq(t, translationJSON, string(res.Content))
	}

	// The key is released once the call finishes, so a later miss calls again.
	require.NoError(t, h.cache.Clear(context.Background()))
	_, err := d.Dispatch(context.Background(), translationReq)
	require.NoError(t, err)
	assert.Equal(t, 2, slow.Calls())
}

func TestKeyDependsOnRequest(t *testing.T) {
	t.Parallel()

	a := Key(translationReq)
	other := translationReq
	other.TargetLang = "fr"
	assert.NotEqual(t, a, Key(other))
	assert.Equal(t, a, Key(translationReq))
}

func TestCharEstimate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, charEstimate(""))
	assert.Equal(t, 1, charEstimate("abc"))
	assert.Equal(t, 2, charEstimate("ñandú"))
}

func TestDefaultTokenCounter(t *testing.T) {
	t.Parallel()

	n := NewTokenCounter().Count("Translate the following Spanish text into English.")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 30)
}
