package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/lexigen/internal/provider"
	"google.golang.org/genai"
)

// modelsAPI is the subset of *genai.Models used by Provider.
type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Provider generates content with a Gemini model.
type Provider struct {
	*provider.Base
	models modelsAPI
	model  string
	logger *slog.Logger
}

// New creates a Gemini provider authenticated with apiKey.
func New(ctx context.Context, base *provider.Base, apiKey, model string, logger *slog.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newWithModels(base, client.Models, model, logger)
}

func newWithModels(base *provider.Base, models modelsAPI, model string, logger *slog.Logger) (*Provider, error) {
	if base == nil {
		return nil, errors.New("base cannot be nil")
	}
	if model == "" {
		return nil, ErrMissingModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		Base:   base,
		models: models,
		model:  model,
		logger: logger.With("component", "gemini_provider", "provider", base.Name()),
	}, nil
}

// Respond renders the prompt for req and returns the model's JSON output.
func (p *Provider) Respond(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, provider.NewError(p.Name(), provider.CodeBadRequest, 0, err)
	}
	prompt, err := provider.RenderPrompt(req)
	if err != nil {
		return nil, provider.NewError(p.Name(), provider.CodeBadRequest, 0, err)
	}

	p.logger.DebugContext(ctx, "calling gemini",
		slog.String("model", p.model),
		slog.String("kind", string(req.Kind)),
		slog.Int("prompt_length", len(prompt)))

	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, p.classify(err)
	}

	text, err := responseText(resp)
	if err != nil {
		code := provider.CodeBadResponse
		if errors.Is(err, ErrContentBlocked) {
			code = provider.CodeBlocked
		}
		return nil, provider.NewError(p.Name(), code, 0, err)
	}

	out := &provider.Response{
		Provider: p.Name(),
		Content:  []byte(text),
		Chars:    req.InputChars(),
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// TestConnection fetches the configured model's metadata.
func (p *Provider) TestConnection(ctx context.Context) error {
	if _, err := p.models.Get(ctx, p.model, nil); err != nil {
		return p.classify(err)
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: candidate has no content", ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: candidate text is empty", ErrEmptyResponse)
	}
	return text, nil
}

// classify maps a genai error onto provider.Error.
func (p *Provider) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.FromStatus(p.Name(), apiErr.Code, []byte(apiErr.Message))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return provider.FromStatus(p.Name(), apiErrPtr.Code, []byte(apiErrPtr.Message))
	}
	return provider.FromTransport(p.Name(), err)
}

var _ provider.Provider = (*Provider)(nil)
