//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/lexigen/internal/cache"
)

func newIntegrationStore(t *testing.T) (*Store, *goredis.Client) {
	t.Helper()
	addr := os.Getenv("LEXIGEN_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := Connect(context.Background(), addr, "", 0)
	if err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	prefix := "test:" + t.Name() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = client.Close()
	})
	return New(client, WithKeyPrefix(prefix)), client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, client := newIntegrationStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	got, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put(ctx, cache.Entry{Key: "k", Data: []byte("v1"), ExpiresAt: expires, Provider: "gemini", Method: "story"}))
	require.NoError(t, s.Put(ctx, cache.Entry{Key: "k", Data: []byte("v2"), ExpiresAt: expires, Provider: "deepl", Method: "story"}))

	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", string(got.Data))
	assert.True(t, got.ExpiresAt.Equal(expires))

	ttl, err := client.PTTL(ctx, s.entryKey("k")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute, "redis expires the entry natively")

	members, err := client.SMembers(ctx, s.providerKey("gemini")).Result()
	require.NoError(t, err)
	assert.Empty(t, members, "a provider change moves the key between sets")

	n, err := s.DeleteProvider(ctx, "deepl")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisStoreExpiryAndEviction(t *testing.T) {
	s, _ := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Put(ctx, cache.Entry{
			Key: key, Data: []byte(key), ExpiresAt: now.Add(time.Duration(i+1) * time.Hour), Provider: "p",
		}))
	}

	n, err := s.DeleteExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.EvictOldest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.Get(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, s.Clear(ctx))
	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
