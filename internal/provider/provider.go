package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/governor"
)

// Provider is the fixed capability set of a content provider.
type Provider interface {
	Name() string
	Profile() domain.ProviderProfile
	// Respond performs one call and returns the provider's raw JSON output.
	Respond(ctx context.Context, req Request) (*Response, error)
	// TestConnection verifies credentials and reachability without
	// generating content.
	TestConnection(ctx context.Context) error
	// Usage returns the provider's spend for the current day and month.
	Usage(ctx context.Context) (governor.Usage, error)
	// WithinDailyLimit reports whether the provider can take another call.
	WithinDailyLimit(ctx context.Context) bool
}

// CapSetter is implemented by providers whose caps can change at runtime.
type CapSetter interface {
	SetCaps(profile domain.ProviderProfile)
}

// ErrInvalidRequest is returned when a request is missing required fields.
var ErrInvalidRequest = errors.New("invalid provider request")

// Request is one unit of content to generate.
type Request struct {
	Kind       domain.GenerationKind `json:"kind"`
	Text       string                `json:"text,omitempty"`
	Items      []string              `json:"items,omitempty"`
	SourceLang string                `json:"source_lang"`
	TargetLang string                `json:"target_lang"`
	Level      string                `json:"level,omitempty"`
}

// Validate checks that the request carries what its kind needs.
func (r Request) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	if r.SourceLang == "" || r.TargetLang == "" {
		return fmt.Errorf("%w: source and target language are required", ErrInvalidRequest)
	}
	switch r.Kind {
	case domain.KindStory, domain.KindCloze:
		if len(r.Items) == 0 && r.Text == "" {
			return fmt.Errorf("%w: %s needs items or text", ErrInvalidRequest, r.Kind)
		}
	default:
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("%w: %s needs text", ErrInvalidRequest, r.Kind)
		}
	}
	return nil
}

// Params returns the request's logical inputs for fingerprinting.
func (r Request) Params() map[string]any {
	return map[string]any{
		"text":        r.Text,
		"items":       r.Items,
		"source_lang": r.SourceLang,
		"target_lang": r.TargetLang,
		"level":       r.Level,
	}
}

// InputChars is the number of characters the request sends.
func (r Request) InputChars() int {
	n := len([]rune(r.Text))
	for _, item := range r.Items {
		n += len([]rune(item))
	}
	return n
}

// Response is the raw result of one provider call.
type Response struct {
	Provider string `json:"provider"`
	// Content is the provider's JSON output for the request kind.
	Content      []byte `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Chars        int    `json:"chars"`
}

// UsageSource is the part of the cost governor a provider reports against.
type UsageSource interface {
	Usage(ctx context.Context, provider string) (governor.Usage, error)
	CheckUsage(ctx context.Context, provider string, estimatedCost float64, estimatedTokens int64) governor.Decision
}

// Base implements the identity, profile and usage parts of Provider.
// Concrete providers embed it and add Respond and TestConnection.
type Base struct {
	mu      sync.RWMutex
	profile domain.ProviderProfile
	usage   UsageSource
}

// NewBase creates a Base for profile. usage may be nil, in which case the
// provider reports no usage and is always within its limit.
func NewBase(profile domain.ProviderProfile, usage UsageSource) *Base {
	return &Base{profile: profile, usage: usage}
}

// Name returns the provider name.
func (b *Base) Name() string {
	return b.Profile().Name
}

// Profile returns a copy of the current profile.
func (b *Base) Profile() domain.ProviderProfile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.profile
}

// SetCaps replaces the caps of the profile, leaving pricing untouched.
func (b *Base) SetCaps(profile domain.ProviderProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profile = b.profile.WithCaps(profile)
}

// Usage reports spend through the attached UsageSource.
func (b *Base) Usage(ctx context.Context) (governor.Usage, error) {
	if b.usage == nil {
		return governor.Usage{}, nil
	}
	return b.usage.Usage(ctx, b.Name())
}

// WithinDailyLimit asks the attached UsageSource whether a zero-cost call
// would still be admitted.
func (b *Base) WithinDailyLimit(ctx context.Context) bool {
	if b.usage == nil {
		return true
	}
	return b.usage.CheckUsage(ctx, b.Name(), 0, 0).Allowed
}

// ProfileKind maps a configured provider type onto its billing kind.
func ProfileKind(providerType string) domain.ProviderKind {
	if providerType == "chartranslate" {
		return domain.ProviderKindTranslation
	}
	return domain.ProviderKindLLM
}
