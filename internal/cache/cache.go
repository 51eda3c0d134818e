package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/lexigen/internal/store"
)

// Config controls expiry and capacity of a ResponseCache.
type Config struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

// DefaultConfig returns a 24h TTL, 1000 entry cap and 5 minute sweep.
func DefaultConfig() Config {
	return Config{
		TTL:           24 * time.Hour,
		MaxEntries:    1000,
		SweepInterval: 5 * time.Minute,
	}
}

// Stats reports cache effectiveness counters since construction.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ErrInvalidConfig is returned by New when the configuration cannot work.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// Option customizes a ResponseCache.
type Option func(*ResponseCache)

// WithClock replaces the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// ResponseCache caches provider responses keyed by Fingerprint.
type ResponseCache struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	enforcing       atomic.Bool
	unavailableOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a ResponseCache over s.
func New(s Store, cfg Config, logger *slog.Logger, opts ...Option) (*ResponseCache, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
	}
	if cfg.TTL <= 0 || cfg.MaxEntries <= 0 || cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("%w: ttl, max entries and sweep interval must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &ResponseCache{
		store:  s,
		cfg:    cfg,
		logger: logger.With("component", "response_cache"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached value for key. Expired entries are deleted and
// reported as misses; storage errors are also reported as misses.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.storageError("get", err)
		c.misses.Add(1)
		return nil, false
	}
	if entry == nil {
		c.misses.Add(1)
		return nil, false
	}
	if entry.Expired(c.now()) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.storageError("delete expired", err)
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.Data, true
}

// Set stores value under key with the configured TTL and schedules an
// asynchronous size pass. An unavailable backend is logged and ignored.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, provider, method string) error {
	err := c.store.Put(ctx, Entry{
		Key:       key,
		Data:      value,
		ExpiresAt: c.now().Add(c.cfg.TTL),
		Provider:  provider,
		Method:    method,
	})
	if err != nil {
		c.storageError("set", err)
		if store.IsUnavailable(err) {
			return nil
		}
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	c.scheduleEnforce()
	return nil
}

// Delete removes key.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (c *ResponseCache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// ClearProvider removes every entry written for the named provider.
func (c *ResponseCache) ClearProvider(ctx context.Context, name string) error {
	n, err := c.store.DeleteProvider(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to clear provider %s: %w", name, err)
	}
	c.logger.Debug("cleared provider entries", slog.String("provider", name), slog.Int("count", n))
	return nil
}

// Stats returns a snapshot of the hit, miss and eviction counters.
func (c *ResponseCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Sweep deletes expired entries and returns how many were removed.
// Failures are logged, not returned.
func (c *ResponseCache) Sweep(ctx context.Context) int {
	n, err := c.store.DeleteExpired(ctx, c.now())
	if err != nil {
		c.storageError("sweep", err)
		return 0
	}
	if n > 0 {
		c.evictions.Add(int64(n))
		c.logger.Debug("swept expired cache entries", slog.Int("count", n))
	}
	return n
}

// EnforceSize evicts the oldest-by-expiry entries until at most MaxEntries
// remain. Failures are logged, not returned.
func (c *ResponseCache) EnforceSize(ctx context.Context) int {
	count, err := c.store.Count(ctx)
	if err != nil {
		c.storageError("count", err)
		return 0
	}
	excess := count - c.cfg.MaxEntries
	if excess <= 0 {
		return 0
	}
	n, err := c.store.EvictOldest(ctx, excess)
	if err != nil {
		c.storageError("evict", err)
		return 0
	}
	c.evictions.Add(int64(n))
	c.logger.Debug("evicted cache entries over capacity",
		slog.Int("count", n),
		slog.Int("max_entries", c.cfg.MaxEntries))
	return n
}

// Start launches the periodic expiry sweep. Stop ends it.
func (c *ResponseCache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Sweep(context.Background())
			}
		}
	}()
}

// Stop halts background work and waits for it to finish.
func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// scheduleEnforce runs one size pass in the background unless one is
// already running.
func (c *ResponseCache) scheduleEnforce() {
	if !c.enforcing.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.enforcing.Store(false)
		c.EnforceSize(context.Background())
	}()
}

func (c *ResponseCache) storageError(op string, err error) {
	if store.IsUnavailable(err) {
		c.unavailableOnce.Do(func() {
			c.logger.Warn("cache storage unavailable, serving misses",
				slog.String("operation", op),
				slog.String("error", err.Error()))
		})
		return
	}
	c.logger.Warn("cache storage error",
		slog.String("operation", op),
		slog.String("error", err.Error()))
}
