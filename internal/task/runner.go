package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RunnerConfig holds configuration for the job runner
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers drain jobs
	WorkerCount int

	// WakeQueueSize bounds the number of buffered drain signals
	WakeQueueSize int

	// DrainInterval is how often the runner wakes a worker even without a
	// signal, picking up jobs enqueued by other processes.
	DrainInterval time.Duration

	// StuckCheckInterval defines how often to reset jobs stuck in processing.
	// If zero, defaults to one minute
	StuckCheckInterval time.Duration

	// CleanupInterval defines how often failed jobs past retention are purged.
	// If zero, defaults to ten minutes
	CleanupInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        2,
		WakeQueueSize:      100,
		DrainInterval:      30 * time.Second,
		StuckCheckInterval: time.Minute,
		CleanupInterval:    10 * time.Minute,
	}
}

// Runner drives a JobQueue in the background: it wakes workers when jobs
// are enqueued or become due, resets stuck jobs and purges old failures.
type Runner struct {
	queue  *JobQueue
	wake   *WakeQueue
	pool   *WorkerPool
	config RunnerConfig
	logger *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	drainFailures atomic.Int64

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewRunner creates a Runner for queue and registers itself as the queue's
// waker.
func NewRunner(queue *JobQueue, config RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultRunnerConfig()
	if config.DrainInterval <= 0 {
		config.DrainInterval = defaults.DrainInterval
	}
	if config.StuckCheckInterval <= 0 {
		config.StuckCheckInterval = defaults.StuckCheckInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	logger = logger.With("component", "job_runner")

	ctx, cancel := context.WithCancel(context.Background())
	wake := NewWakeQueue(config.WakeQueueSize, logger)

	r := &Runner{
		queue:      queue,
		wake:       wake,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancel,
		timers:     make(map[*time.Timer]struct{}),
	}
	r.pool = NewWorkerPool(wake.GetChannel(), queue.Drain,
		WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)
	r.pool.SetErrorHandler(func(error) { r.drainFailures.Add(1) })
	queue.SetWaker(r)
	return r
}

// Wake asks an idle worker to drain. A full signal buffer already
// guarantees a drain, so the extra signal is dropped.
func (r *Runner) Wake() {
	if err := r.wake.Enqueue(); err != nil && !errors.Is(err, ErrQueueFull) {
		r.logger.Debug("wake ignored", "error", err)
	}
}

// WakeAfter schedules a Wake once d has elapsed.
func (r *Runner) WakeAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()
		r.Wake()
	})
	r.timers[t] = struct{}{}
}

// Start recovers jobs left behind by a previous process and begins
// processing.
func (r *Runner) Start() error {
	if err := r.Recover(r.ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	r.pool.Start()

	r.wg.Add(3)
	go r.loop("drain", r.config.DrainInterval, func(context.Context) { r.Wake() })
	go r.loop("stuck job monitor", r.config.StuckCheckInterval, r.resetStuck)
	go r.loop("failed job cleanup", r.config.CleanupInterval, r.cleanup)

	return nil
}

// Stop gracefully shuts down the runner. In-flight jobs see their context
// cancelled; their status writes still complete.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	for t := range r.timers {
		t.Stop()
	}
	clear(r.timers)
	r.mu.Unlock()

	r.cancelFunc()
	r.wg.Wait()
	r.pool.Stop()
	r.wake.Close()
}

// DrainFailures returns how many drains failed outside of shutdown.
func (r *Runner) DrainFailures() int64 {
	return r.drainFailures.Load()
}

// Recover resets jobs stuck in processing and wakes a worker so pending
// jobs from before a restart are picked up.
func (r *Runner) Recover(ctx context.Context) error {
	n, err := r.queue.ResetStale(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("recovering unfinished jobs", "reset_count", n)
	r.Wake()
	return nil
}

func (r *Runner) loop(name string, interval time.Duration, fn func(context.Context)) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping " + name)
			return
		case <-ticker.C:
			fn(r.ctx)
		}
	}
}

func (r *Runner) resetStuck(ctx context.Context) {
	if _, err := r.queue.ResetStale(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("failed to check for stuck jobs", "error", err)
	}
}

func (r *Runner) cleanup(ctx context.Context) {
	if _, err := r.queue.CleanupFailed(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("failed to clean up failed jobs", "error", err)
	}
}

var _ Waker = (*Runner)(nil)
