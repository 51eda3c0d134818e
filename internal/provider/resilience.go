package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/sony/gobreaker"
)

// ResilienceConfig tunes the retry policy and circuit breaker wrapped
// around a provider.
type ResilienceConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// The breaker opens after FailureThreshold consecutive retryable
	// failures and half-opens after OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultResilienceConfig returns two retries with 500ms..10s backoff and a
// breaker tripping after five consecutive failures.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:       2,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Resilient wraps a Provider so that Respond retries transient failures
// with exponential backoff and stops calling a provider that keeps failing.
type Resilient struct {
	Provider
	executor failsafe.Executor[*Response]
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// WithResilience wraps p.
func WithResilience(p Provider, cfg ResilienceConfig, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "provider_resilience", "provider", p.Name())

	rp := retrypolicy.NewBuilder[*Response]().
		HandleIf(func(_ *Response, err error) bool { return IsRetryable(err) }).
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		ReturnLastFailure().
		Build()

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Caller mistakes say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Resilient{
		Provider: p,
		executor: failsafe.With(rp),
		breaker:  breaker,
		logger:   logger,
	}
}

// Respond calls the wrapped provider under the retry policy and breaker.
func (r *Resilient) Respond(ctx context.Context, req Request) (*Response, error) {
	out, err := r.breaker.Execute(func() (any, error) {
		return r.executor.WithContext(ctx).Get(func() (*Response, error) {
			return r.Provider.Respond(ctx, req)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewError(r.Name(), CodeCircuitOpen, 0, err)
		}
		return nil, err
	}
	return out.(*Response), nil
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (r *Resilient) BreakerState() string {
	return r.breaker.State().String()
}

// SetCaps forwards cap updates to the wrapped provider.
func (r *Resilient) SetCaps(profile domain.ProviderProfile) {
	if cs, ok := r.Provider.(CapSetter); ok {
		cs.SetCaps(profile)
	}
}

// Unwrap returns the wrapped provider.
func (r *Resilient) Unwrap() Provider {
	return r.Provider
}
