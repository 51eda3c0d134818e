package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/tidwall/gjson"
)

// ErrMalformedOutput is returned when provider output lacks the structure
// its request kind requires.
var ErrMalformedOutput = errors.New("malformed provider output")

// extractor describes the JSON a request kind must produce. Required paths
// must exist and, when strings, be non-blank. When Each is set, the array
// at that path must be non-empty and every element must carry EachRequired.
type extractor struct {
	Required     []string
	Each         string
	EachRequired []string
}

var extractors = map[domain.GenerationKind]extractor{
	domain.KindTranslation: {Required: []string{"translation"}},
	domain.KindLookup:      {Required: []string{"translation"}},
	domain.KindStory:       {Required: []string{"title", "story"}},
	domain.KindCloze: {
		Each:         "exercises",
		EachRequired: []string{"sentence", "answer"},
	},
}

// Extract validates raw against the structure required for kind and returns
// it compacted. Partial output is rejected rather than passed on.
func Extract(kind domain.GenerationKind, raw []byte) (json.RawMessage, error) {
	ex, ok := extractors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for kind %q", ErrMalformedOutput, kind)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedOutput)
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedOutput)
	}
	for _, path := range ex.Required {
		if err := requireField(root, path); err != nil {
			return nil, err
		}
	}

	if ex.Each != "" {
		list := root.Get(ex.Each)
		if !list.IsArray() || len(list.Array()) == 0 {
			return nil, fmt.Errorf("%w: %q must be a non-empty array", ErrMalformedOutput, ex.Each)
		}
		for i, item := range list.Array() {
			for _, path := range ex.EachRequired {
				if err := requireField(item, path); err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", ex.Each, i, err)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return buf.Bytes(), nil
}

func requireField(obj gjson.Result, path string) error {
	field := obj.Get(path)
	if !field.Exists() {
		return fmt.Errorf("%w: missing %q", ErrMalformedOutput, path)
	}
	if field.Type == gjson.String && strings.TrimSpace(field.Str) == "" {
		return fmt.Errorf("%w: %q is empty", ErrMalformedOutput, path)
	}
	if field.Type == gjson.Null {
		return fmt.Errorf("%w: %q is null", ErrMalformedOutput, path)
	}
	return nil
}
