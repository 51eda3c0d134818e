package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/tidwall/gjson"
)

// CharTranslator is a machine translation provider billed per character.
// It only serves translation and lookup requests.
type CharTranslator struct {
	*Base
	transport Transport
	endpoint  string
}

// NewCharTranslator creates a provider that POSTs to endpoint.
func NewCharTranslator(base *Base, transport Transport, endpoint string) (*CharTranslator, error) {
	if base == nil || transport == nil {
		return nil, errors.New("base and transport are required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("provider %s: endpoint is required", base.Name())
	}
	return &CharTranslator{Base: base, transport: transport, endpoint: endpoint}, nil
}

type translateRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang"`
	TargetLang string   `json:"target_lang"`
}

// Respond translates req.Text and shapes the answer as the JSON the
// dispatcher expects for the request kind.
func (p *CharTranslator) Respond(ctx context.Context, req Request) (*Response, error) {
	if req.Kind != domain.KindTranslation && req.Kind != domain.KindLookup {
		return nil, NewError(p.Name(), CodeUnsupported, 0, fmt.Errorf("kind %s is not supported", req.Kind))
	}
	if err := req.Validate(); err != nil {
		return nil, NewError(p.Name(), CodeBadRequest, 0, err)
	}

	raw, err := p.transport.Send(ctx, p.endpoint, translateRequest{
		Text:       []string{req.Text},
		SourceLang: strings.ToUpper(req.SourceLang),
		TargetLang: strings.ToUpper(req.TargetLang),
	})
	if err != nil {
		return nil, err
	}

	translated := gjson.GetBytes(raw, "translations.0.text")
	if !translated.Exists() {
		return nil, NewError(p.Name(), CodeBadResponse, 0, errors.New("response has no translation"))
	}

	var content []byte
	if req.Kind == domain.KindLookup {
		content, err = json.Marshal(map[string]string{"word": req.Text, "translation": translated.String()})
	} else {
		content, err = json.Marshal(map[string]string{"translation": translated.String()})
	}
	if err != nil {
		return nil, NewError(p.Name(), CodeBadResponse, 0, err)
	}

	return &Response{
		Provider: p.Name(),
		Content:  content,
		Chars:    req.InputChars(),
	}, nil
}

// TestConnection translates a single word.
func (p *CharTranslator) TestConnection(ctx context.Context) error {
	_, err := p.transport.Send(ctx, p.endpoint, translateRequest{
		Text:       []string{"hello"},
		SourceLang: "EN",
		TargetLang: "DE",
	})
	return err
}

var _ Provider = (*CharTranslator)(nil)
