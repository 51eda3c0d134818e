package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/api/shared"
	"github.com/phrazzld/lexigen/internal/dispatch"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/platform/logger"
	"github.com/phrazzld/lexigen/internal/provider"
)

// Dispatcher runs a request through the provider fallback chain.
type Dispatcher interface {
	Dispatch(ctx context.Context, req provider.Request) (*dispatch.Result, error)
}

// Lookuper answers low-latency lookups through the adaptive selector.
type Lookuper interface {
	Lookup(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// Deferrer parks requests that no provider could serve.
type Deferrer interface {
	AddRequest(ctx context.Context, kind domain.GenerationKind, payload json.RawMessage, maxRetries int) (uuid.UUID, error)
}

// LookupRequest is the body of POST /v1/lookup.
type LookupRequest struct {
	Text       string `json:"text"        validate:"required,max=200"`
	SourceLang string `json:"source_lang" validate:"required,max=32"`
	TargetLang string `json:"target_lang" validate:"required,max=32"`
}

// GenerateHandler serves single-shot generation and lookups.
type GenerateHandler struct {
	dispatcher Dispatcher
	lookuper   Lookuper
	deferrer   Deferrer
}

// NewGenerateHandler creates a GenerateHandler. lookuper may be nil, in
// which case lookups go through the dispatcher.
func NewGenerateHandler(d Dispatcher, lookuper Lookuper, deferrer Deferrer) *GenerateHandler {
	return &GenerateHandler{dispatcher: d, lookuper: lookuper, deferrer: deferrer}
}

// Generate handles POST /v1/generate. When every provider is exhausted the
// request is deferred for replay and a 503 carrying its deferred ID is
// returned.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}
	req := body.toProvider()
	if err := req.Validate(); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, dispatch.ErrAllProvidersExhausted) {
			h.deferAndRespond(w, r, req, err)
			return
		}
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, GenerateResponse{
		Content:  res.Content,
		Provider: res.Provider,
		Cached:   res.Cached,
	})
}

func (h *GenerateHandler) deferAndRespond(w http.ResponseWriter, r *http.Request, req provider.Request, cause error) {
	if h.deferrer == nil {
		HandleAPIError(w, r, cause, "")
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		HandleAPIError(w, r, errors.Join(cause, err), "")
		return
	}
	// The client may already be gone; the deferral must still land.
	id, err := h.deferrer.AddRequest(context.WithoutCancel(r.Context()), req.Kind, payload, 0)
	if err != nil {
		logger.FromContextOrDefault(r.Context()).Error("failed to defer exhausted request",
			slog.String("kind", string(req.Kind)),
			slog.String("error", err.Error()))
		HandleAPIError(w, r, cause, "")
		return
	}
	HandleAPIError(w, r, cause, "All providers are unavailable; the request was deferred",
		shared.WithDetail("deferred_id", id.String()))
}

// Lookup handles POST /v1/lookup.
func (h *GenerateHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var body LookupRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}
	req := provider.Request{
		Kind:       domain.KindLookup,
		Text:       body.Text,
		SourceLang: body.SourceLang,
		TargetLang: body.TargetLang,
	}

	if h.lookuper == nil {
		res, err := h.dispatcher.Dispatch(r.Context(), req)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, GenerateResponse{
			Content: res.Content, Provider: res.Provider, Cached: res.Cached,
		})
		return
	}

	resp, err := h.lookuper.Lookup(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, GenerateResponse{
		Content:  resp.Content,
		Provider: resp.Provider,
	})
}
