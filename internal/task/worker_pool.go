package task

import (
	"context"
	"log/slog"
	"sync"
)

// DrainFunc drains runnable work. It is called once per wake signal.
type DrainFunc func(ctx context.Context) (int, error)

// WorkerPool manages a pool of worker goroutines that drain the job queue
// whenever a wake signal arrives. It handles graceful shutdown and worker
// lifecycle.
type WorkerPool struct {
	// signals delivers wake-ups to idle workers
	signals <-chan struct{}

	// drain does the actual work
	drain DrainFunc

	// workerCount is the number of concurrent workers to start
	workerCount int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	// errorHandler is called when a drain returns an error.
	// If nil, errors are only logged
	errorHandler func(err error)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(signals <-chan struct{}, drain DrainFunc, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		signals:     signals,
		drain:       drain,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetErrorHandler sets a handler for drain failures
func (p *WorkerPool) SetErrorHandler(handler func(err error)) {
	p.errorHandler = handler
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	for i := range p.workerCount {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", "worker_count", p.workerCount)
}

// Stop cancels in-flight drains and waits for every worker to return.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("stopping worker")
			return

		case _, ok := <-p.signals:
			if !ok {
				logger.Debug("signal channel closed, stopping worker")
				return
			}

			n, err := p.drain(p.ctx)
			if err != nil && p.ctx.Err() == nil {
				logger.Error("drain failed", "error", err)
				if p.errorHandler != nil {
					p.errorHandler(err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("drain finished", "jobs_run", n)
			}
		}
	}
}
