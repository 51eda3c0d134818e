package events

import (
	"context"
	"log/slog"
)

// LogHandler writes every event to a structured logger.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger.With("component", "status_events")}
}

// HandleEvent logs the event. Failures are logged at warn level.
func (h *LogHandler) HandleEvent(ctx context.Context, event *StatusEvent) error {
	level := slog.LevelInfo
	if event.Type == TaskFailed {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, "status event",
		slog.String("event_id", event.ID.String()),
		slog.String("type", event.Type),
		slog.String("source", event.Source),
		slog.String("subject", event.Subject),
		slog.String("payload", string(event.Payload)))
	return nil
}
