package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/dispatch"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 7, 3, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	c := &clock{now: t0}
	q, err := NewQueue(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(c.Now))
	require.NoError(t, err)
	return q, c
}

// mockDispatcher is a Dispatcher with an overridable DispatchFn.
type mockDispatcher struct {
	DispatchFn func(ctx context.Context, req provider.Request) (*dispatch.Result, error)
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req provider.Request) (*dispatch.Result, error) {
	return m.DispatchFn(ctx, req)
}

func lookupPayload(t *testing.T, text string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(provider.Request{
		Kind: domain.KindLookup, Text: text, SourceLang: "es", TargetLang: "en",
	})
	require.NoError(t, err)
	return data
}

func TestAddRequestValidation(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.AddRequest(ctx, "poem", json.RawMessage(`{}`), 3)
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = q.AddRequest(ctx, domain.KindLookup, json.RawMessage(`{not json`), 3)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	id, err := q.AddRequest(ctx, domain.KindLookup, json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	stored, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, stored.MaxRetries)
	assert.Equal(t, t0, stored.CreatedAt)
}

func TestRetryableSchedule(t *testing.T) {
	t.Parallel()

	q, c := newTestQueue(t)
	ctx := context.Background()

	id, err := q.AddRequest(ctx, domain.KindLookup, json.RawMessage(`{}`), 3)
	require.NoError(t, err)

	due, err := q.GetRetryableRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "first retry waits one minute")

	c.Advance(time.Minute)
	due, err = q.GetRetryableRequests(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, q.MarkAttempt(ctx, id, errors.New("still down")))
	due, err = q.GetRetryableRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "second retry waits until two minutes have elapsed")

	c.Advance(time.Minute)
	due, err = q.GetRetryableRequests(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "still down", due[0].LastError)
}

func TestCleanupExpiredRequests(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	spent, err := q.AddRequest(ctx, domain.KindLookup, json.RawMessage(`{}`), 1)
	require.NoError(t, err)
	_, err = q.AddRequest(ctx, domain.KindLookup, json.RawMessage(`{}`), 2)
	require.NoError(t, err)

	require.NoError(t, q.MarkAttempt(ctx, spent, nil))

	n, err := q.CleanupExpiredRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.GetPendingRequests(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	assert.ErrorIs(t, q.RemoveRequest(ctx, spent), store.ErrDeferredNotFound)
}

func TestReplayOnce(t *testing.T) {
	t.Parallel()

	q, c := newTestQueue(t)
	ctx := context.Background()

	ok, err := q.AddRequest(ctx, domain.KindLookup, lookupPayload(t, "gato"), 3)
	require.NoError(t, err)
	flaky, err := q.AddRequest(ctx, domain.KindLookup, lookupPayload(t, "perro"), 1)
	require.NoError(t, err)
	_, err = q.AddRequest(ctx, domain.KindLookup, json.RawMessage(`{"kind":"lookup"}`), 3)
	require.NoError(t, err)

	d := &mockDispatcher{DispatchFn: func(_ context.Context, req provider.Request) (*dispatch.Result, error) {
		if req.Text == "perro" {
			return nil, dispatch.ErrAllProvidersExhausted
		}
		return &dispatch.Result{Content: json.RawMessage(`{"translation":"cat"}`), Provider: "p"}, nil
	}}
	r := NewReplayer(q, d, time.Minute, nil)

	c.Advance(time.Minute)
	report, err := r.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{Replayed: 1, Failed: 1, Dropped: 1, Expired: 1}, report)

	_, err = q.Get(ctx, ok)
	assert.ErrorIs(t, err, store.ErrDeferredNotFound, "success removes the request")
	_, err = q.Get(ctx, flaky)
	assert.ErrorIs(t, err, store.ErrDeferredNotFound, "a spent budget expires the request")
}

func TestReplayerStartStop(t *testing.T) {
	t.Parallel()

	q, err := NewQueue(NewMemoryStore(), nil, WithClock(func() time.Time { return t0.Add(time.Hour) }))
	require.NoError(t, err)
	// Created an hour before the queue's clock, so it is due immediately.
	require.NoError(t, q.store.Add(context.Background(), &domain.DeferredRequest{
		ID: uuid.New(), Kind: domain.KindLookup, Payload: lookupPayload(t, "gato"), CreatedAt: t0, MaxRetries: 3,
	}))

	done := make(chan struct{}, 1)
	d := &mockDispatcher{DispatchFn: func(context.Context, provider.Request) (*dispatch.Result, error) {
		select {
		case done <- struct{}{}:
		default:
		}
		return &dispatch.Result{}, nil
	}}
	r := NewReplayer(q, d, 10*time.Millisecond, nil)
	r.Start()
	defer r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replayer never dispatched")
	}
	assert.Eventually(t, func() bool {
		pending, err := q.GetPendingRequests(context.Background())
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)
}
