package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/api/shared"
	"github.com/phrazzld/lexigen/internal/domain"
)

// DeferredLister is the part of the deferred queue the API exposes.
type DeferredLister interface {
	GetPendingRequests(ctx context.Context) ([]*domain.DeferredRequest, error)
	RemoveRequest(ctx context.Context, id uuid.UUID) error
}

// DeferredHandler lists and discards deferred requests.
type DeferredHandler struct {
	queue DeferredLister
}

// NewDeferredHandler creates a DeferredHandler.
func NewDeferredHandler(queue DeferredLister) *DeferredHandler {
	return &DeferredHandler{queue: queue}
}

// List handles GET /v1/deferred.
func (h *DeferredHandler) List(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.GetPendingRequests(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	out := make([]DeferredResponse, 0, len(pending))
	for _, req := range pending {
		out = append(out, DeferredResponse{
			ID:         req.ID,
			Kind:       req.Kind,
			CreatedAt:  req.CreatedAt,
			RetryCount: req.RetryCount,
			MaxRetries: req.MaxRetries,
			LastError:  req.LastError,
		})
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// Delete handles DELETE /v1/deferred/{id}.
func (h *DeferredHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "Invalid id")
		return
	}
	if err := h.queue.RemoveRequest(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
