package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/lexigen/internal/cache"
	"github.com/phrazzld/lexigen/internal/config"
	"github.com/phrazzld/lexigen/internal/credential"
	"github.com/phrazzld/lexigen/internal/deferred"
	"github.com/phrazzld/lexigen/internal/dispatch"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/events"
	"github.com/phrazzld/lexigen/internal/generation"
	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/platform/postgres"
	redisstore "github.com/phrazzld/lexigen/internal/platform/redis"
	sqlitestore "github.com/phrazzld/lexigen/internal/platform/sqlite"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/selector"
	"github.com/phrazzld/lexigen/internal/service/auth"
	"github.com/phrazzld/lexigen/internal/store"
	"github.com/phrazzld/lexigen/internal/task"
)

// stores groups the persistence the application runs on.
type stores struct {
	jobs     store.JobStore
	results  store.ResultStore
	ledger   store.LedgerStore
	deferred store.DeferredStore
}

func postgresStores(db *sql.DB, logger *slog.Logger) stores {
	return stores{
		jobs:     postgres.NewPostgresJobStore(db, logger),
		results:  postgres.NewPostgresResultStore(db, logger),
		ledger:   postgres.NewPostgresLedgerStore(db, logger),
		deferred: postgres.NewPostgresDeferredStore(db, logger),
	}
}

// appDeps are the externally created dependencies of an application.
type appDeps struct {
	stores     stores
	cacheStore cache.Store
	vault      *credential.Vault
	// buildProvider defaults to the real provider constructors.
	buildProvider providerBuilder
}

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	cache      *cache.ResponseCache
	governor   *governor.Governor
	providers  map[string]*provider.Resilient
	dispatcher *dispatch.Dispatcher
	selector   *selector.Selector

	emitter *events.InMemoryEmitter
	hub     *events.Hub

	jobs     *task.JobQueue
	runner   *task.Runner
	deferred *deferred.Queue
	replayer *deferred.Replayer

	jwtService auth.JWTService

	closeMu sync.Mutex
	closers []func() error
}

// newApplication wires every component from cfg. Background workers are
// not started; see start.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps appDeps) (*application, error) {
	if deps.buildProvider == nil {
		deps.buildProvider = buildProvider
	}
	app := &application{
		config:    cfg,
		logger:    logger,
		providers: make(map[string]*provider.Resilient, len(cfg.Providers)),
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.emitter = events.NewInMemoryEmitter(logger)
	app.emitter.RegisterHandler(events.NewLogHandler(logger))
	app.hub = events.NewHub(logger)
	app.emitter.RegisterHandler(app.hub)

	app.cache, err = cache.New(deps.cacheStore, cache.Config{
		TTL:           time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	profiles := make([]domain.ProviderProfile, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		profiles = append(profiles, profileFromConfig(pc))
	}
	app.governor, err = governor.New(deps.stores.ledger, profiles, logger,
		governor.WithWarnRatio(cfg.Governor.WarnRatio),
		governor.WithMaxAlerts(cfg.Governor.MaxAlerts))
	if err != nil {
		return nil, fmt.Errorf("failed to create cost governor: %w", err)
	}

	chain := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		apiKey, err := resolveAPIKey(ctx, pc, deps.vault)
		if err != nil {
			return nil, err
		}
		base := provider.NewBase(profileFromConfig(pc), app.governor)
		p, err := deps.buildProvider(ctx, pc, apiKey, base, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", pc.Name, err)
		}
		r := provider.WithResilience(p, resilienceFromConfig(pc), logger)
		app.providers[pc.Name] = r
		chain = append(chain, r)
		logger.Info("provider configured",
			slog.String("provider", pc.Name),
			slog.String("type", pc.Type),
			slog.Bool("api_key_present", apiKey != ""))
	}

	app.dispatcher, err = dispatch.New(chain, app.cache, app.governor,
		dispatch.WithLogger(logger),
		dispatch.WithPublisher(app.emitter))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	if len(cfg.Selector.Candidates) == 2 {
		a, okA := app.providers[cfg.Selector.Candidates[0]]
		b, okB := app.providers[cfg.Selector.Candidates[1]]
		if !okA || !okB {
			return nil, fmt.Errorf("selector candidates %v must name configured providers", cfg.Selector.Candidates)
		}
		app.selector, err = selector.New(a, b, logger,
			selector.WithGovernor(app.governor),
			selector.WithTokenCounter(dispatch.NewTokenCounter().Count),
			selector.WithTimeout(time.Duration(cfg.Selector.TimeoutSeconds)*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to create provider selector: %w", err)
		}
	}

	app.jobs, err = task.NewJobQueue(deps.stores.jobs, deps.stores.results,
		generation.NewDispatchGenerator(app.dispatcher),
		task.QueueConfig{
			StaleAfter:      time.Duration(cfg.Queue.StaleJobMinutes) * time.Minute,
			FailedRetention: time.Duration(cfg.Queue.FailedRetentionMinutes) * time.Minute,
			MaxRetries:      cfg.Queue.MaxRetries,
		},
		logger,
		task.WithQueuePublisher(app.emitter))
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	app.deferred, err = deferred.NewQueue(deps.stores.deferred, logger,
		deferred.WithDefaultMaxRetries(cfg.Deferred.MaxRetries))
	if err != nil {
		return nil, fmt.Errorf("failed to create deferred queue: %w", err)
	}

	logger.Info("Application initialized successfully",
		slog.Int("providers", len(chain)),
		slog.Bool("selector", app.selector != nil),
		slog.String("cache_backend", cfg.Cache.Backend))
	return app, nil
}

// start launches the background workers: cache maintenance, the job
// runner and the deferred replayer.
func (app *application) start() error {
	app.cache.Start()
	app.addCloser(func() error { app.cache.Stop(); return nil })

	app.runner = task.NewRunner(app.jobs, task.RunnerConfig{
		WorkerCount:        app.config.Queue.WorkerCount,
		WakeQueueSize:      app.config.Queue.WakeQueueSize,
		DrainInterval:      time.Duration(app.config.Queue.DrainIntervalSeconds) * time.Second,
		StuckCheckInterval: time.Duration(app.config.Queue.StuckCheckIntervalSeconds) * time.Second,
	}, app.logger)
	if err := app.runner.Start(); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	app.addCloser(func() error { app.runner.Stop(); return nil })

	app.replayer = deferred.NewReplayer(app.deferred, app.dispatcher,
		time.Duration(app.config.Deferred.ReplayIntervalSeconds)*time.Second, app.logger)
	app.replayer.Start()
	app.addCloser(func() error { app.replayer.Stop(); return nil })

	return nil
}

// applyConfig pushes reloaded caps to the governor and the providers.
// Providers added or removed by a reload take effect on restart.
func (app *application) applyConfig(next *config.Config) {
	for _, pc := range next.Providers {
		profile := profileFromConfig(pc)
		r, ok := app.providers[pc.Name]
		if !ok {
			app.logger.Warn("ignoring reloaded provider that is not running",
				slog.String("provider", pc.Name))
			continue
		}
		r.SetCaps(profile)
		app.governor.SetProfile(profile)
		app.logger.Info("provider caps updated",
			slog.String("provider", pc.Name),
			slog.Float64("daily_cap", profile.DailyCap),
			slog.Float64("monthly_cap", profile.MonthlyCap))
	}
}

// addCloser registers fn to run on cleanup. Closers run in reverse order.
func (app *application) addCloser(fn func() error) {
	app.closeMu.Lock()
	defer app.closeMu.Unlock()
	app.closers = append(app.closers, fn)
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	app.closeMu.Lock()
	closers := app.closers
	app.closers = nil
	app.closeMu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			app.logger.Error("Error during shutdown", "error", err)
		}
	}
	app.logger.Info("Application shutdown completed")
}

// openCacheStore creates the configured cache backend and returns a
// function that releases it.
func openCacheStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		db, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlitestore.NewCacheStore(db), db.Close, nil
	case "redis":
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.New(client), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// openVault opens the credential vault when one is configured. A nil vault
// and a no-op closer are returned otherwise.
func openVault(ctx context.Context, cfg config.CredentialsConfig) (*credential.Vault, func() error, error) {
	if cfg.VaultPath == "" {
		return nil, func() error { return nil }, nil
	}
	if cfg.Passphrase == "" {
		return nil, nil, errors.New("credential vault requires a passphrase")
	}
	db, err := sqlitestore.Open(ctx, cfg.VaultPath)
	if err != nil {
		return nil, nil, err
	}
	vault, err := credential.Open(ctx, sqlitestore.NewCredentialStore(db), cfg.Passphrase)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return vault, db.Close, nil
}
