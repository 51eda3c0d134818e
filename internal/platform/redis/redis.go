// Package redis provides a Redis-backed cache.Store.
//
// Each entry is a hash that Redis expires natively. A sorted set scored by
// expiry supports sweeps and oldest-first eviction, and one set per provider
// supports provider-wide invalidation. Multi-key changes run as Lua scripts
// so the indexes never drift from the entries within a single operation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/lexigen/internal/cache"
	"github.com/phrazzld/lexigen/internal/store"
)

// Store is a Redis-backed cache.Store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ cache.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "lexigen:cache:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a Store over a connected client.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "lexigen:cache:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", mapError(err))
	}
	return client, nil
}

func (s *Store) entryKey(key string) string {
	return s.keyPrefix + "entry:" + key
}

func (s *Store) expiryKey() string {
	return s.keyPrefix + "expiry"
}

func (s *Store) providerKey(provider string) string {
	return s.keyPrefix + "provider:" + provider
}

// putScript writes an entry and its index memberships.
// KEYS[1] = entry hash, KEYS[2] = expiry zset, KEYS[3] = provider set
// ARGV[1] = cache key, ARGV[2] = data, ARGV[3] = expires_at (unix ms)
// ARGV[4] = provider, ARGV[5] = method, ARGV[6] = provider set prefix
var putScript = goredis.NewScript(`
local old = redis.call("HGET", KEYS[1], "provider")
if old and old ~= ARGV[4] then
    redis.call("SREM", ARGV[6] .. old, ARGV[1])
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "expires_at", ARGV[3], "provider", ARGV[4], "method", ARGV[5])
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`)

// removeScript deletes the listed cache keys and their index memberships,
// returning how many were indexed.
// KEYS[1] = expiry zset
// ARGV[1] = entry key prefix, ARGV[2] = provider set prefix, ARGV[3..] = cache keys
var removeScript = goredis.NewScript(`
local removed = 0
for i = 3, #ARGV do
    local key = ARGV[i]
    local entry = ARGV[1] .. key
    local provider = redis.call("HGET", entry, "provider")
    if provider then
        redis.call("SREM", ARGV[2] .. provider, key)
    end
    redis.call("DEL", entry)
    removed = removed + redis.call("ZREM", KEYS[1], key)
end
return removed
`)

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.entryKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("lexigen/redis: get: %w", mapError(err))
	}
	if len(fields) == 0 {
		return nil, nil
	}
	ms, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lexigen/redis: corrupt expiry for %s: %w", key, err)
	}
	return &cache.Entry{
		Key:       key,
		Data:      []byte(fields["data"]),
		ExpiresAt: time.UnixMilli(ms).UTC(),
		Provider:  fields["provider"],
		Method:    fields["method"],
	}, nil
}

func (s *Store) Put(ctx context.Context, e cache.Entry) error {
	err := putScript.Run(ctx, s.client,
		[]string{s.entryKey(e.Key), s.expiryKey(), s.providerKey(e.Provider)},
		e.Key, e.Data, e.ExpiresAt.UnixMilli(), e.Provider, e.Method, s.providerKey(""),
	).Err()
	if err != nil {
		return fmt.Errorf("lexigen/redis: put: %w", mapError(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.remove(ctx, []string{key})
	return err
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("lexigen/redis: scan expired: %w", mapError(err))
	}
	return s.remove(ctx, keys)
}

func (s *Store) DeleteProvider(ctx context.Context, provider string) (int, error) {
	keys, err := s.client.SMembers(ctx, s.providerKey(provider)).Result()
	if err != nil {
		return 0, fmt.Errorf("lexigen/redis: list provider: %w", mapError(err))
	}
	return s.remove(ctx, keys)
}

func (s *Store) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	keys, err := s.client.ZRange(ctx, s.expiryKey(), 0, int64(n-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("lexigen/redis: list oldest: %w", mapError(err))
	}
	return s.remove(ctx, keys)
}

// Count returns the size of the expiry index. Entries Redis has already
// expired stay counted until the next DeleteExpired.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.expiryKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("lexigen/redis: count: %w", mapError(err))
	}
	return int(n), nil
}

// Clear deletes every key under the store's prefix.
func (s *Store) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("lexigen/redis: clear: %w", mapError(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("lexigen/redis: clear: %w", mapError(err))
	}
	return nil
}

func (s *Store) remove(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(keys)+2)
	args = append(args, s.entryKey(""), s.providerKey(""))
	for _, k := range keys {
		args = append(args, k)
	}
	n, err := removeScript.Run(ctx, s.client, []string{s.expiryKey()}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("lexigen/redis: delete: %w", mapError(err))
	}
	return n, nil
}

// mapError marks connection-level failures as storage unavailability.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, goredis.ErrClosed) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return err
}
