package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/lexigen/internal/dispatch"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/provider"
)

// Generator produces the content for a single job item.
type Generator interface {
	// GenerateItem returns the content for itemID and the name of the
	// provider that produced it.
	GenerateItem(ctx context.Context, job *domain.GenerationJob, itemID string) (json.RawMessage, string, error)
}

// Dispatcher is the part of the fallback dispatcher used by DispatchGenerator.
type Dispatcher interface {
	Dispatch(ctx context.Context, req provider.Request) (*dispatch.Result, error)
}

// DispatchGenerator generates items through a Dispatcher.
type DispatchGenerator struct {
	dispatcher Dispatcher
}

// NewDispatchGenerator creates a DispatchGenerator.
func NewDispatchGenerator(d Dispatcher) *DispatchGenerator {
	return &DispatchGenerator{dispatcher: d}
}

// GenerateItem builds the provider request for the item and dispatches it.
// A cached result reports the provider "cache".
func (g *DispatchGenerator) GenerateItem(
	ctx context.Context,
	job *domain.GenerationJob,
	itemID string,
) (json.RawMessage, string, error) {
	req, err := RequestFor(job.Params, itemID)
	if err != nil {
		return nil, "", err
	}
	res, err := g.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrGenerationFailed, itemID, err)
	}
	providerName := res.Provider
	if res.Cached {
		providerName = "cache"
	}
	return res.Content, providerName, nil
}

// RequestFor maps one job item onto a provider request. Story and cloze
// items are vocabulary entries; translation and lookup items are the text
// itself.
func RequestFor(params domain.GenerationParams, itemID string) (provider.Request, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return provider.Request{}, fmt.Errorf("%w: empty item id", ErrInvalidItem)
	}
	kind := params.Kind
	if kind == "" {
		kind = domain.KindTranslation
	}

	req := provider.Request{
		Kind:       kind,
		SourceLang: params.SourceLang,
		TargetLang: params.TargetLang,
		Level:      params.Level,
	}
	switch kind {
	case domain.KindStory, domain.KindCloze:
		req.Items = []string{itemID}
	default:
		req.Text = itemID
	}
	if err := req.Validate(); err != nil {
		return provider.Request{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}
	return req, nil
}

var _ Generator = (*DispatchGenerator)(nil)
