package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/provider"
)

// DefaultTimeout bounds each lookup attempt.
const DefaultTimeout = 8 * time.Second

// Selector errors
var (
	// ErrLookupFailed is returned when both candidates failed a lookup.
	ErrLookupFailed = errors.New("lookup failed on both providers")

	// ErrAttemptTimeout marks an attempt abandoned after the timeout.
	ErrAttemptTimeout = errors.New("provider attempt timed out")

	errNilProvider = errors.New("selector needs two providers")
)

// Option customizes a Selector.
type Option func(*Selector)

// WithRand replaces the random source used to pick the primary.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rng = r }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Governor admits calls against spend caps and records what they cost.
type Governor interface {
	CheckUsage(ctx context.Context, provider string, estimatedCost float64, estimatedTokens int64) governor.Decision
	RecordUsage(ctx context.Context, provider, method string, tokens int64, cost float64) error
}

// WithGovernor checks every attempt against g and records successful calls.
func WithGovernor(g Governor) Option {
	return func(s *Selector) { s.governor = g }
}

// WithTokenCounter replaces the prompt token estimate used for admission.
func WithTokenCounter(count func(text string) int) Option {
	return func(s *Selector) {
		if count != nil {
			s.tokens = count
		}
	}
}

// WithTracker shares a Tracker between selectors.
func WithTracker(t *Tracker) Option {
	return func(s *Selector) { s.tracker = t }
}

// Selector chooses a primary and a fallback between two providers.
type Selector struct {
	a, b     provider.Provider
	tracker  *Tracker
	governor Governor
	tokens   func(text string) int
	timeout  time.Duration
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Selector over candidates a and b.
func New(a, b provider.Provider, logger *slog.Logger, opts ...Option) (*Selector, error) {
	if a == nil || b == nil {
		return nil, errNilProvider
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		a:       a,
		b:       b,
		tracker: NewTracker(),
		tokens:  func(text string) int { return (len([]rune(text)) + 3) / 4 },
		timeout: DefaultTimeout,
		logger:  logger.With("component", "provider_selector"),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tracker returns the performance tracker.
func (s *Selector) Tracker() *Tracker {
	return s.tracker
}

// Candidates returns the two providers in construction order.
func (s *Selector) Candidates() (provider.Provider, provider.Provider) {
	return s.a, s.b
}

// Select returns the primary and fallback for the next lookup.
func (s *Selector) Select() (primary, fallback provider.Provider) {
	wa, _, _ := s.tracker.Weights(s.a.Name(), s.b.Name())

	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()

	if r < wa {
		return s.a, s.b
	}
	return s.b, s.a
}

// Lookup runs req on the selected primary, falling back once to the other
// candidate. A candidate over its daily limit, or denied by the governor, is
// skipped without a call and without counting as an attempt. Successful
// calls are recorded with the governor.
func (s *Selector) Lookup(ctx context.Context, req provider.Request) (*provider.Response, error) {
	primary, fallback := s.Select()

	prompt, err := provider.RenderPrompt(req)
	if err != nil {
		prompt = req.Text
	}
	estTokens := s.tokens(prompt)

	var errs []error
	for _, p := range []provider.Provider{primary, fallback} {
		if err := s.admit(ctx, p, req, estTokens); err != nil {
			s.logger.InfoContext(ctx, "provider skipped",
				slog.String("provider", p.Name()),
				slog.String("reason", err.Error()))
			errs = append(errs, err)
			continue
		}

		resp, err := s.attempt(ctx, p, req)
		if err == nil {
			s.record(ctx, p, req, resp, estTokens)
			return resp, nil
		}
		s.logger.WarnContext(ctx, "lookup attempt failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrLookupFailed, errors.Join(errs...))
}

func (s *Selector) admit(ctx context.Context, p provider.Provider, req provider.Request, estTokens int) error {
	if !p.WithinDailyLimit(ctx) {
		return fmt.Errorf("%w: %s is over its daily limit", governor.ErrBudgetExceeded, p.Name())
	}
	if s.governor == nil {
		return nil
	}
	estCost := p.Profile().EstimateCost(estTokens, req.InputChars())
	return s.governor.CheckUsage(ctx, p.Name(), estCost, int64(estTokens)).Err()
}

func (s *Selector) record(ctx context.Context, p provider.Provider, req provider.Request, resp *provider.Response, estTokens int) {
	if s.governor == nil {
		return
	}
	tokens := int64(resp.InputTokens + resp.OutputTokens)
	if tokens == 0 {
		tokens = int64(estTokens)
	}
	cost := p.Profile().ActualCost(resp.InputTokens, resp.OutputTokens, max(resp.Chars, req.InputChars()))
	if err := s.governor.RecordUsage(ctx, p.Name(), string(req.Kind), tokens, cost); err != nil {
		s.logger.ErrorContext(ctx, "failed to record usage",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()))
	}
}

type result struct {
	resp *provider.Response
	err  error
}

// attempt races one call against the timeout. A call that loses the race
// keeps running until its context expires, and its result is discarded.
func (s *Selector) attempt(ctx context.Context, p provider.Provider, req provider.Request) (*provider.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		resp, err := p.Respond(callCtx, req)
		if err == nil && resp == nil {
			err = provider.NewError(p.Name(), provider.CodeBadResponse, 0, errors.New("empty response"))
		}
		if err == nil {
			var content []byte
			content, err = provider.Extract(req.Kind, resp.Content)
			if err == nil {
				resp.Content = content
			}
		}
		done <- result{resp: resp, err: err}
	}()

	var out result
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = fmt.Errorf("%w after %s: %s", ErrAttemptTimeout, s.timeout, p.Name())
	}

	s.tracker.Record(p.Name(), time.Since(start), out.err == nil)
	return out.resp, out.err
}
