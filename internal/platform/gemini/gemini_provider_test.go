package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// mockModels is a modelsAPI with overridable behavior.
type mockModels struct {
	GenerateContentFn func(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
	GetFn func(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

func (m *mockModels) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFn(ctx, model, contents, config)
}

func (m *mockModels) Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error) {
	return m.GetFn(ctx, model, config)
}

func textResponse(text string, finish genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: finish,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     120,
			CandidatesTokenCount: 80,
		},
	}
}

func newTestProvider(t *testing.T, models modelsAPI) *Provider {
	t.Helper()
	p, err := newWithModels(
		provider.NewBase(domain.ProviderProfile{Name: "gemini-flash"}, nil),
		models, "gemini-2.0-flash",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

var storyRequest = provider.Request{
	Kind:       domain.KindStory,
	Items:      []string{"gato", "casa"},
	SourceLang: "Spanish",
	TargetLang: "English",
	Level:      "A2",
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), provider.NewBase(domain.ProviderProfile{Name: "g"}, nil), "", "m", nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = newWithModels(provider.NewBase(domain.ProviderProfile{Name: "g"}, nil), &mockModels{}, "", nil)
	assert.ErrorIs(t, err, ErrMissingModel)
}

func TestRespondSuccess(t *testing.T) {
	t.Parallel()

	models := &mockModels{
		GenerateContentFn: func(
			_ context.Context,
			model string,
			contents []*genai.Content,
			config *genai.GenerateContentConfig,
		) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "gemini-2.0-flash", model)
			assert.Equal(t, "application/json", config.ResponseMIMEType)
			require.Len(t, contents, 1)
			assert.Contains(t, contents[0].Parts[0].Text, "gato, casa")
			return textResponse(`{"title":"t","story":"s"}`, genai.FinishReasonStop), nil
		},
	}

	resp, err := newTestProvider(t, models).Respond(context.Background(), storyRequest)

	require.NoError(t, err)
	assert.Equal(t, "gemini-flash", resp.Provider)
	assert.JSONEq(t, `{"title":"t","story":"s"}`, string(resp.Content))
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 80, resp.OutputTokens)
}

func TestRespondFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		resp      *genai.GenerateContentResponse
		err       error
		code      string
		retryable bool
	}{
		{
			name: "safety block",
			resp: textResponse("", genai.FinishReasonSafety),
			code: provider.CodeBlocked,
		},
		{
			name: "no candidates",
			resp: &genai.GenerateContentResponse{},
			code: provider.CodeBadResponse,
		},
		{
			name: "blank text",
			resp: textResponse("   ", genai.FinishReasonStop),
			code: provider.CodeBadResponse,
		},
		{
			name:      "rate limited",
			err:       genai.APIError{Code: 429, Message: "quota", Status: "RESOURCE_EXHAUSTED"},
			code:      provider.CodeRateLimited,
			retryable: true,
		},
		{
			name: "bad key",
			err:  genai.APIError{Code: 403, Message: "permission denied"},
			code: provider.CodeAuth,
		},
		{
			name:      "network",
			err:       errors.New("dial tcp: connection refused"),
			code:      provider.CodeNetwork,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			models := &mockModels{
				GenerateContentFn: func(
					context.Context, string, []*genai.Content, *genai.GenerateContentConfig,
				) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}

			_, err := newTestProvider(t, models).Respond(context.Background(), storyRequest)

			var pe *provider.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.retryable, pe.Retryable())
		})
	}
}

func TestRespondRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	models := &mockModels{}
	_, err := newTestProvider(t, models).Respond(context.Background(), provider.Request{Kind: domain.KindLookup})

	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.CodeBadRequest, pe.Code)
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	models := &mockModels{
		GetFn: func(_ context.Context, model string, _ *genai.GetModelConfig) (*genai.Model, error) {
			if model == "gemini-2.0-flash" {
				return &genai.Model{Name: model}, nil
			}
			return nil, genai.APIError{Code: 404, Message: "not found"}
		},
	}
	assert.NoError(t, newTestProvider(t, models).TestConnection(context.Background()))
}
