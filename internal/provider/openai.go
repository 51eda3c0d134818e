package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const systemPrompt = "You write language-learning material. Always answer with a single JSON object and nothing else."

// OpenAICompatible calls any chat completions endpoint that follows the
// OpenAI wire format.
type OpenAICompatible struct {
	*Base
	transport Transport
	endpoint  string
	model     string
}

// NewOpenAICompatible creates a provider that POSTs to endpoint.
func NewOpenAICompatible(
	base *Base,
	transport Transport,
	endpoint, model string,
) (*OpenAICompatible, error) {
	if base == nil || transport == nil {
		return nil, errors.New("base and transport are required")
	}
	if endpoint == "" || model == "" {
		return nil, fmt.Errorf("provider %s: endpoint and model are required", base.Name())
	}
	return &OpenAICompatible{Base: base, transport: transport, endpoint: endpoint, model: model}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
}

// Respond renders the prompt for req and returns the message content.
func (p *OpenAICompatible) Respond(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, NewError(p.Name(), CodeBadRequest, 0, err)
	}
	prompt, err := RenderPrompt(req)
	if err != nil {
		return nil, NewError(p.Name(), CodeBadRequest, 0, err)
	}

	raw, err := p.transport.Send(ctx, p.endpoint, chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return nil, NewError(p.Name(), CodeBadResponse, 0, errors.New("response has no message content"))
	}

	return &Response{
		Provider:     p.Name(),
		Content:      []byte(stripCodeFence(content.String())),
		InputTokens:  int(gjson.GetBytes(raw, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(raw, "usage.completion_tokens").Int()),
		Chars:        req.InputChars(),
	}, nil
}

// TestConnection sends a minimal completion request.
func (p *OpenAICompatible) TestConnection(ctx context.Context) error {
	_, err := p.transport.Send(ctx, p.endpoint, chatRequest{
		Model:     p.model,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// stripCodeFence removes a markdown ```json fence some models wrap around
// JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ Provider = (*OpenAICompatible)(nil)
var _ CapSetter = (*OpenAICompatible)(nil)
