package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by the WakeQueue
var (
	ErrQueueClosed = errors.New("wake queue is closed")
	ErrQueueFull   = errors.New("wake queue is full")
)

// WakeQueue is a bounded buffer of drain signals. Jobs themselves live in
// the job store; a signal only says that a worker should look for one.
// Signals beyond the buffer size are dropped since a pending signal already
// guarantees a drain.
type WakeQueue struct {
	mu      sync.Mutex
	signals chan struct{}
	logger  *slog.Logger
	closed  bool
}

// NewWakeQueue creates a wake queue holding at most size pending signals.
func NewWakeQueue(size int, logger *slog.Logger) *WakeQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeQueue{
		signals: make(chan struct{}, size),
		logger:  logger,
	}
}

// Enqueue adds a signal without blocking.
// Returns an error if the queue is full or closed
func (q *WakeQueue) Enqueue() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.signals <- struct{}{}:
		q.logger.Debug("drain signal enqueued",
			"queue_len", len(q.signals),
			"queue_cap", cap(q.signals))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.signals))
	}
}

// Len returns the number of pending signals.
func (q *WakeQueue) Len() int {
	return len(q.signals)
}

// Close closes the queue, preventing further signals
func (q *WakeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.signals)
		q.logger.Info("wake queue closed")
	}
}

// GetChannel returns a read-only channel for consuming signals
func (q *WakeQueue) GetChannel() <-chan struct{} {
	return q.signals
}
