package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/lexigen/internal/api/shared"
	"github.com/phrazzld/lexigen/internal/cache"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/governor"
	"github.com/phrazzld/lexigen/internal/redact"
)

// UsageReporter is the part of the cost governor the API reads.
type UsageReporter interface {
	Profiles() []domain.ProviderProfile
	Usage(ctx context.Context, provider string) (governor.Usage, error)
	Alerts() []governor.Alert
}

// UsageHandler serves spend and alert reports.
type UsageHandler struct {
	usage      UsageReporter
	cacheStats func() cache.Stats
}

// NewUsageHandler creates a UsageHandler. cacheStats may be nil.
func NewUsageHandler(usage UsageReporter, cacheStats func() cache.Stats) *UsageHandler {
	return &UsageHandler{usage: usage, cacheStats: cacheStats}
}

// UsageReport is the body of GET /v1/usage.
type UsageReport struct {
	Providers []ProviderUsage `json:"providers"`
	Cache     *cache.Stats    `json:"cache,omitempty"`
}

// Usage handles GET /v1/usage.
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	profiles := h.usage.Profiles()
	report := UsageReport{Providers: make([]ProviderUsage, 0, len(profiles))}
	for _, p := range profiles {
		entry := ProviderUsage{Provider: p.Name, Profile: p}
		usage, err := h.usage.Usage(r.Context(), p.Name)
		if err != nil {
			entry.Error = redact.Error(err)
		} else {
			entry.Usage = &usage
		}
		report.Providers = append(report.Providers, entry)
	}
	if h.cacheStats != nil {
		stats := h.cacheStats()
		report.Cache = &stats
	}
	shared.RespondWithJSON(w, r, http.StatusOK, report)
}

// Alerts handles GET /v1/alerts.
func (h *UsageHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.usage.Alerts()
	if alerts == nil {
		alerts = []governor.Alert{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, alerts)
}
