// Package providertest provides a configurable fake Provider for tests.
package providertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/provider"
)

// Fake is a provider.Provider whose behavior is set through Fn hooks.
// Unset hooks succeed with empty results.
type Fake struct {
	ProfileValue domain.ProviderProfile

	RespondFn        func(ctx context.Context, req provider.Request) (*provider.Response, error)
	TestConnectionFn func(ctx context.Context) error
	UsageFn          func(ctx context.Context) (governor.Usage, error)
	WithinLimitFn    func(ctx context.Context) bool

	calls atomic.Int64
	mu    sync.Mutex
	reqs  []provider.Request
}

// New returns a Fake named name that answers every request with content.
func New(name string, content string) *Fake {
	return &Fake{
		ProfileValue: domain.ProviderProfile{Name: name, Kind: domain.ProviderKindLLM},
		RespondFn: func(context.Context, provider.Request) (*provider.Response, error) {
			return &provider.Response{Provider: name, Content: []byte(content), InputTokens: 10, OutputTokens: 20}, nil
		},
	}
}

// Failing returns a Fake named name whose every call fails with err.
func Failing(name string, err error) *Fake {
	return &Fake{
		ProfileValue: domain.ProviderProfile{Name: name, Kind: domain.ProviderKindLLM},
		RespondFn: func(context.Context, provider.Request) (*provider.Response, error) {
			return nil, err
		},
	}
}

func (f *Fake) Name() string                    { return f.ProfileValue.Name }
func (f *Fake) Profile() domain.ProviderProfile { return f.ProfileValue }

func (f *Fake) Respond(ctx context.Context, req provider.Request) (*provider.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.RespondFn == nil {
		return &provider.Response{Provider: f.Name(), Content: []byte(`{}`)}, nil
	}
	return f.RespondFn(ctx, req)
}

func (f *Fake) TestConnection(ctx context.Context) error {
	if f.TestConnectionFn == nil {
		return nil
	}
	return f.TestConnectionFn(ctx)
}

func (f *Fake) Usage(ctx context.Context) (governor.Usage, error) {
	if f.UsageFn == nil {
		return governor.Usage{}, nil
	}
	return f.UsageFn(ctx)
}

func (f *Fake) WithinDailyLimit(ctx context.Context) bool {
	if f.WithinLimitFn == nil {
		return true
	}
	return f.WithinLimitFn(ctx)
}

// Calls returns how many times Respond was invoked.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

// Requests returns a copy of every request Respond received.
func (f *Fake) Requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Request, len(f.reqs))
	copy(out, f.reqs)
	return out
}

var _ provider.Provider = (*Fake)(nil)
