package provider

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/lexigen/internal/domain"
)

var promptFuncs = template.FuncMap{"join": strings.Join}

// Each template asks for the JSON shape its extractor requires.
var prompts = map[domain.GenerationKind]*template.Template{
	domain.KindTranslation: template.Must(template.New("translation").Funcs(promptFuncs).Parse(
		`Translate the following {{.SourceLang}} text into {{.TargetLang}}.
Respond with JSON: {"translation": string, "notes": string}.
Text: {{.Text}}`)),
	domain.KindLookup: template.Must(template.New("lookup").Funcs(promptFuncs).Parse(
		`Give a short dictionary entry for the {{.SourceLang}} word "{{.Text}}" for a {{.TargetLang}} speaker.
Respond with JSON: {"word": string, "translation": string, "definition": string, "part_of_speech": string}.`)),
	domain.KindStory: template.Must(template.New("story").Funcs(promptFuncs).Parse(
		`Write a short story in {{.SourceLang}} for a learner at level {{.Level}} whose native language is {{.TargetLang}}.
Use every one of these words: {{join .Items ", "}}.{{if .Text}}
Topic: {{.Text}}{{end}}
Respond with JSON: {"title": string, "story": string, "translation": string}.`)),
	domain.KindCloze: template.Must(template.New("cloze").Funcs(promptFuncs).Parse(
		`Create fill-in-the-blank exercises in {{.SourceLang}} at level {{.Level}}, one for each word: {{join .Items ", "}}.{{if .Text}}
Context: {{.Text}}{{end}}
Mark the blank with "___". Give hints in {{.TargetLang}}.
Respond with JSON: {"exercises": [{"sentence": string, "answer": string, "hint": string}]}.`)),
}

// RenderPrompt builds the LLM prompt for req.
func RenderPrompt(req Request) (string, error) {
	tmpl, ok := prompts[req.Kind]
	if !ok {
		return "", fmt.Errorf("%w: no prompt for kind %q", ErrInvalidRequest, req.Kind)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", req.Kind, err)
	}
	return buf.String(), nil
}
