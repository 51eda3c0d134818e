package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/phrazzld/lexigen/internal/cache"
	"github.com/phrazzld/lexigen/internal/events"
	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/redact"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	eventSource = "dispatcher"
	cacheScope  = "dispatch"
	tracerName  = "github.com/phrazzld/lexigen/internal/dispatch"
)

// Cache is the part of the response cache the dispatcher uses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, provider, method string) error
}

// Governor is the part of the cost governor the dispatcher uses.
type Governor interface {
	CheckUsage(ctx context.Context, provider string, estimatedCost float64, estimatedTokens int64) governor.Decision
	RecordUsage(ctx context.Context, provider, method string, tokens int64, cost float64) error
}

// Result is the outcome of a successful dispatch.
type Result struct {
	Content  json.RawMessage `json:"content"`
	Provider string          `json:"provider"`
	Cached   bool            `json:"cached"`
	Key      string          `json:"key"`
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithPublisher sets the status event sink.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.events = p
		}
	}
}

// WithTokenCounter replaces the prompt token estimator.
func WithTokenCounter(tc TokenCounter) Option {
	return func(d *Dispatcher) {
		if tc != nil {
			d.tokens = tc
		}
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// Dispatcher tries providers in ascending cost order.
type Dispatcher struct {
	providers []provider.Provider
	cache     Cache
	governor  Governor
	logger    *slog.Logger
	events    events.Publisher
	tokens    TokenCounter
	tracer    trace.Tracer

	inflight singleflight.Group
}

// New creates a Dispatcher. providers are ordered by unit cost, keeping the
// given order between equally priced providers; the order does not change
// afterwards.
func New(providers []provider.Provider, c Cache, g Governor, opts ...Option) (*Dispatcher, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if c == nil || g == nil {
		return nil, fmt.Errorf("dispatcher needs a cache and a governor")
	}

	sorted := slices.Clone(providers)
	slices.SortStableFunc(sorted, func(a, b provider.Provider) int {
		ca, cb := a.Profile().UnitCost(), b.Profile().UnitCost()
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return 0
	})

	d := &Dispatcher{
		providers: sorted,
		cache:     c,
		governor:  g,
		logger:    slog.Default(),
		events:    events.Nop{},
		tokens:    NewTokenCounter(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d, nil
}

// Providers returns the providers in the order they are tried.
func (d *Dispatcher) Providers() []provider.Provider {
	return slices.Clone(d.providers)
}

// Key returns the cache key of req.
func Key(req provider.Request) string {
	return cache.Fingerprint(cacheScope, string(req.Kind), req.Params())
}

// Dispatch returns the result for req from the cache or the first provider
// that succeeds. Concurrent calls for the same request share one pass.
func (d *Dispatcher) Dispatch(ctx context.Context, req provider.Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := Key(req)

	if data, ok := d.cache.Get(ctx, key); ok {
		return &Result{Content: data, Cached: true, Key: key}, nil
	}

	v, err, shared := d.inflight.Do(key, func() (any, error) {
		return d.dispatch(context.WithoutCancel(ctx), key, req)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	if shared {
		d.logger.DebugContext(ctx, "shared in-flight dispatch", slog.String("key", key))
	}
	return &res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, key string, req provider.Request) (*Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("lexigen.kind", string(req.Kind)),
			attribute.String("lexigen.key", key)))
	defer span.End()

	// A concurrent pass may have filled the cache while this one waited.
	if data, ok := d.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("lexigen.cached", true))
		return &Result{Content: data, Cached: true, Key: key}, nil
	}

	events.Emit(ctx, d.events, events.TaskStarted, eventSource, key,
		map[string]string{"kind": string(req.Kind)})

	estTokens := d.estimateTokens(req)
	chars := req.InputChars()
	attempts := make([]Attempt, 0, len(d.providers))

	for _, p := range d.providers {
		name := p.Name()
		profile := p.Profile()
		estCost := profile.EstimateCost(estTokens, chars)

		decision := d.governor.CheckUsage(ctx, name, estCost, int64(estTokens))
		if !decision.Allowed {
			d.logger.InfoContext(ctx, "provider skipped by governor",
				slog.String("provider", name),
				slog.String("reason", decision.Reason))
			attempts = append(attempts, Attempt{Provider: name, Err: decision.Err()})
			continue
		}

		content, resp, err := d.call(ctx, p, req)
		if err != nil {
			d.logger.WarnContext(ctx, "provider attempt failed",
				slog.String("provider", name),
				slog.String("error", redact.Error(err)))
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}

		tokens := int64(resp.InputTokens + resp.OutputTokens)
		if tokens == 0 {
			tokens = int64(estTokens)
		}
		cost := profile.ActualCost(resp.InputTokens, resp.OutputTokens, max(resp.Chars, chars))
		if err := d.governor.RecordUsage(ctx, name, string(req.Kind), tokens, cost); err != nil {
			d.logger.ErrorContext(ctx, "failed to record usage",
				slog.String("provider", name),
				slog.String("error", err.Error()))
		}
		if err := d.cache.Set(ctx, key, content, name, string(req.Kind)); err != nil {
			d.logger.WarnContext(ctx, "failed to cache response",
				slog.String("provider", name),
				slog.String("error", err.Error()))
		}

		span.SetAttributes(
			attribute.String("lexigen.provider", name),
			attribute.Int("lexigen.attempts", len(attempts)+1))
		events.Emit(ctx, d.events, events.TaskCompleted, eventSource, key,
			map[string]string{"kind": string(req.Kind), "provider": name})
		return &Result{Content: content, Provider: name, Key: key}, nil
	}

	exhausted := &AllProvidersExhaustedError{Attempts: attempts}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, ErrAllProvidersExhausted.Error())
	events.Emit(ctx, d.events, events.TaskFailed, eventSource, key,
		map[string]any{"kind": string(req.Kind), "providers": exhausted.Providers()})
	d.logger.ErrorContext(ctx, "all providers exhausted",
		slog.String("kind", string(req.Kind)),
		slog.Any("providers", exhausted.Providers()))
	return nil, exhausted
}

// call invokes one provider and validates its output.
func (d *Dispatcher) call(
	ctx context.Context,
	p provider.Provider,
	req provider.Request,
) (json.RawMessage, *provider.Response, error) {
	ctx, span := d.tracer.Start(ctx, "provider.respond",
		trace.WithAttributes(attribute.String("lexigen.provider", p.Name())))
	defer span.End()

	start := time.Now()
	resp, err := p.Respond(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return nil, nil, err
	}
	content, err := provider.Extract(req.Kind, resp.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed output")
		return nil, nil, provider.NewError(p.Name(), provider.CodeBadResponse, 0, err)
	}

	d.logger.DebugContext(ctx, "provider call succeeded",
		slog.String("provider", p.Name()),
		slog.Duration("latency", time.Since(start)),
		slog.Int("input_tokens", resp.InputTokens),
		slog.Int("output_tokens", resp.OutputTokens))
	return content, resp, nil
}

// estimateTokens counts the tokens of the rendered prompt.
func (d *Dispatcher) estimateTokens(req provider.Request) int {
	prompt, err := provider.RenderPrompt(req)
	if err != nil {
		prompt = req.Text
	}
	return d.tokens.Count(prompt)
}
