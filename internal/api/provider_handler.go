package api

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/lexigen/internal/api/shared"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/redact"
	"golang.org/x/sync/errgroup"
)

const (
	connectionTestTimeout = 10 * time.Second
	connectionTestLimit   = 4
)

// ProviderHandler reports the configured providers and their health.
type ProviderHandler struct {
	providers func() []provider.Provider
}

// NewProviderHandler creates a ProviderHandler. providers is called per
// request so the listing follows runtime cap changes.
func NewProviderHandler(providers func() []provider.Provider) *ProviderHandler {
	return &ProviderHandler{providers: providers}
}

// List handles GET /v1/providers. Each provider's connection is tested
// concurrently; a failed test is reported, not returned as an error.
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	providers := h.providers()
	out := make([]ProviderStatus, len(providers))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(connectionTestLimit)
	for i, p := range providers {
		g.Go(func() error {
			profile := p.Profile()
			status := ProviderStatus{
				Name:        p.Name(),
				Kind:        profile.Kind,
				UnitCost:    profile.UnitCost(),
				WithinLimit: p.WithinDailyLimit(ctx),
				Profile:     profile,
			}
			testCtx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
			defer cancel()
			if err := p.TestConnection(testCtx); err != nil {
				status.Error = redact.Error(err)
			} else {
				status.Connected = true
			}
			out[i] = status
			return nil
		})
	}
	_ = g.Wait()

	shared.RespondWithJSON(w, r, http.StatusOK, out)
}
