package provider_test

import (
	"testing"

	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    domain.GenerationKind
		raw     string
		wantErr bool
	}{
		{"translation", domain.KindTranslation, `{"translation": "hello", "notes": ""}`, false},
		{"translation missing", domain.KindTranslation, `{"notes": "x"}`, true},
		{"translation blank", domain.KindTranslation, `{"translation": "  "}`, true},
		{"lookup", domain.KindLookup, `{"word":"gato","translation":"cat"}`, false},
		{"story", domain.KindStory, `{"title":"El gato","story":"Había una vez..."}`, false},
		{"story without title", domain.KindStory, `{"story":"..."}`, true},
		{"cloze", domain.KindCloze, `{"exercises":[{"sentence":"El ___ duerme","answer":"gato"}]}`, false},
		{"cloze empty", domain.KindCloze, `{"exercises":[]}`, true},
		{"cloze item missing answer", domain.KindCloze, `{"exercises":[{"sentence":"a"},{"sentence":"b","answer":"c"}]}`, true},
		{"not json", domain.KindTranslation, `Sure! Here is the translation: hello`, true},
		{"array root", domain.KindTranslation, `[{"translation":"x"}]`, true},
		{"null field", domain.KindTranslation, `{"translation": null}`, true},
		{"unknown kind", "poem", `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := provider.Extract(tt.kind, []byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, provider.ErrMalformedOutput)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.raw, string(out))
		})
	}
}

func TestExtractCompacts(t *testing.T) {
	t.Parallel()

	out, err := provider.Extract(domain.KindTranslation, []byte("{\n  \"translation\": \"hi\"\n}"))
	require.NoError(t, err)
	assert.Equal(t, `{"translation":"hi"}`, string(out))
}
