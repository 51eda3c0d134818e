package governor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/phrazzld/lexigen/internal/domain"
)

// AlertLevel classifies a spend alert.
type AlertLevel string

// Alert levels
const (
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

// Alert records a provider crossing a daily cap threshold.
type Alert struct {
	Provider string     `json:"provider"`
	Level    AlertLevel `json:"level"`
	Message  string     `json:"message"`
	Ratio    float64    `json:"ratio"`
	Period   string     `json:"period"`
	At       time.Time  `json:"at"`
}

// Alerts returns the retained alerts, oldest first.
func (g *Governor) Alerts() []Alert {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.alerts)
}

// checkThresholds compares spend before and after the latest call and
// raises an alert for each threshold crossed by it.
func (g *Governor) checkThresholds(
	ctx context.Context,
	provider string,
	daily *domain.UsageLedgerEntry,
	cost, dailyCap float64,
	now time.Time,
) {
	before := (daily.Cost - cost) / dailyCap
	after := daily.Cost / dailyCap

	if before < g.warnRatio && after >= g.warnRatio {
		g.addAlert(ctx, Alert{
			Provider: provider,
			Level:    AlertWarning,
			Message: fmt.Sprintf("%s has used %.0f%% of its daily cap of $%.2f",
				provider, after*100, dailyCap),
			Ratio:  after,
			Period: daily.Period,
			At:     now,
		})
	}
	if before < 1 && after >= 1 {
		g.addAlert(ctx, Alert{
			Provider: provider,
			Level:    AlertError,
			Message:  fmt.Sprintf("%s has reached its daily cap of $%.2f", provider, dailyCap),
			Ratio:    after,
			Period:   daily.Period,
			At:       now,
		})
	}
}

func (g *Governor) addAlert(ctx context.Context, a Alert) {
	level := slog.LevelWarn
	if a.Level == AlertError {
		level = slog.LevelError
	}
	g.logger.Log(ctx, level, "spend alert",
		slog.String("provider", a.Provider),
		slog.String("level", string(a.Level)),
		slog.Float64("ratio", a.Ratio),
		slog.String("message", a.Message))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.alerts = append(g.alerts, a)
	if over := len(g.alerts) - g.maxAlerts; over > 0 {
		g.alerts = slices.Delete(g.alerts, 0, over)
	}
}
