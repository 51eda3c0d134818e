package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/task"
)

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Kind       string   `json:"kind"        validate:"required,oneof=translation lookup story cloze"`
	Text       string   `json:"text"        validate:"max=10000"`
	Items      []string `json:"items"       validate:"max=200,dive,required,max=200"`
	SourceLang string   `json:"source_lang" validate:"required,max=32"`
	TargetLang string   `json:"target_lang" validate:"required,max=32"`
	Level      string   `json:"level"       validate:"max=16"`
}

func (g GenerateRequest) toProvider() provider.Request {
	return provider.Request{
		Kind:       domain.GenerationKind(g.Kind),
		Text:       g.Text,
		Items:      g.Items,
		SourceLang: g.SourceLang,
		TargetLang: g.TargetLang,
		Level:      g.Level,
	}
}

// GenerateResponse is a generated piece of content.
type GenerateResponse struct {
	Content  json.RawMessage `json:"content"`
	Provider string          `json:"provider"`
	Cached   bool            `json:"cached"`
}

// EnqueueJobRequest is the body of POST /v1/jobs. Collection names the
// content set (a deck or lesson); items enqueued later under the same
// collection and parameters extend the same job.
type EnqueueJobRequest struct {
	Collection string   `json:"collection"  validate:"required,max=200"`
	Kind       string   `json:"kind"        validate:"required,oneof=translation lookup story cloze"`
	Items      []string `json:"items"       validate:"required,min=1,max=500,dive,required,max=200"`
	SourceLang string   `json:"source_lang" validate:"required,max=32"`
	TargetLang string   `json:"target_lang" validate:"required,max=32"`
	Level      string   `json:"level"       validate:"max=16"`
	MaxRetries int      `json:"max_retries" validate:"gte=0,lte=10"`
}

func (e EnqueueJobRequest) params() domain.GenerationParams {
	return domain.GenerationParams{
		SourceLang: e.SourceLang,
		TargetLang: e.TargetLang,
		Level:      e.Level,
		Kind:       domain.GenerationKind(e.Kind),
	}
}

// JobResponse reports a job and what the enqueue did.
type JobResponse struct {
	Outcome     task.Outcome          `json:"outcome,omitempty"`
	Fingerprint string                `json:"fingerprint"`
	Job         *domain.GenerationJob `json:"job,omitempty"`
}

// ProviderStatus is one entry of GET /v1/providers.
type ProviderStatus struct {
	Name        string                 `json:"name"`
	Kind        domain.ProviderKind    `json:"kind"`
	UnitCost    float64                `json:"unit_cost"`
	WithinLimit bool                   `json:"within_daily_limit"`
	Connected   bool                   `json:"connected"`
	Error       string                 `json:"error,omitempty"`
	Profile     domain.ProviderProfile `json:"profile"`
}

// ProviderUsage is one entry of GET /v1/usage.
type ProviderUsage struct {
	Provider string                 `json:"provider"`
	Profile  domain.ProviderProfile `json:"profile"`
	Usage    *governor.Usage        `json:"usage,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// DeferredResponse summarizes a deferred request.
type DeferredResponse struct {
	ID         uuid.UUID             `json:"id"`
	Kind       domain.GenerationKind `json:"kind"`
	CreatedAt  time.Time             `json:"created_at"`
	RetryCount int                   `json:"retry_count"`
	MaxRetries int                   `json:"max_retries"`
	LastError  string                `json:"last_error,omitempty"`
}
