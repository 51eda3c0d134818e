package deferred

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/lexigen/internal/dispatch"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/redact"
)

// Dispatcher is the part of the fallback dispatcher the replayer needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req provider.Request) (*dispatch.Result, error)
}

// ReplayReport summarizes one replay pass.
type ReplayReport struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
	Dropped  int `json:"dropped"`
	Expired  int `json:"expired"`
}

// Replayer periodically retries deferred requests through the dispatcher.
// A success removes the request; a failure counts an attempt.
type Replayer struct {
	queue      *Queue
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReplayer creates a Replayer that runs every interval once started.
func NewReplayer(queue *Queue, d Dispatcher, interval time.Duration, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Replayer{
		queue:      queue,
		dispatcher: d,
		interval:   interval,
		logger:     logger.With("component", "deferred_replayer"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins periodic replay in the background.
func (r *Replayer) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.ReplayOnce(r.ctx); err != nil && r.ctx.Err() == nil {
					r.logger.Error("deferred replay failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts periodic replay and waits for an in-flight pass.
func (r *Replayer) Stop() {
	r.cancel()
	r.wg.Wait()
}

// ReplayOnce retries every due request, then drops expired ones.
func (r *Replayer) ReplayOnce(ctx context.Context) (ReplayReport, error) {
	var report ReplayReport

	due, err := r.queue.GetRetryableRequests(ctx)
	if err != nil {
		return report, err
	}

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger := r.logger.With(slog.String("deferred_id", d.ID.String()), slog.Int("retry_count", d.RetryCount))

		var req provider.Request
		if err := json.Unmarshal(d.Payload, &req); err != nil || req.Validate() != nil {
			logger.WarnContext(ctx, "dropping deferred request with unusable payload")
			if err := r.queue.RemoveRequest(ctx, d.ID); err != nil {
				return report, err
			}
			report.Dropped++
			continue
		}

		if _, err := r.dispatcher.Dispatch(ctx, req); err != nil {
			logger.WarnContext(ctx, "deferred request failed again", slog.String("error", redact.Error(err)))
			if markErr := r.queue.MarkAttempt(context.WithoutCancel(ctx), d.ID, err); markErr != nil {
				return report, markErr
			}
			report.Failed++
			continue
		}

		if err := r.queue.RemoveRequest(ctx, d.ID); err != nil {
			return report, fmt.Errorf("replayed but could not remove: %w", err)
		}
		logger.InfoContext(ctx, "deferred request replayed")
		report.Replayed++
	}

	report.Expired, err = r.queue.CleanupExpiredRequests(ctx)
	return report, err
}
