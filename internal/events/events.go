package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TaskStarted   = "task.started"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
)

// StatusEvent reports a change in the lifecycle of a dispatch or a job.
type StatusEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Task* constants
	Type string `json:"type"`

	// Source names the component that emitted the event, e.g. "dispatcher".
	Source string `json:"source"`

	// Subject identifies what the event is about: a job id or a request
	// fingerprint.
	Subject string `json:"subject"`

	// Payload holds event-specific details serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into v.
func (e *StatusEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewStatusEvent creates a StatusEvent. A nil payload leaves Payload empty.
func NewStatusEvent(eventType, source, subject string, payload any) (*StatusEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &StatusEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    source,
		Subject:   subject,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Handler processes status events.
type Handler interface {
	HandleEvent(ctx context.Context, event *StatusEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *StatusEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *StatusEvent) error {
	return f(ctx, event)
}

// Publisher accepts status events without reporting delivery failures.
type Publisher interface {
	Publish(ctx context.Context, event *StatusEvent)
}

// Nop is a Publisher that drops every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, *StatusEvent) {}

// Emit builds an event and publishes it to p. Events that cannot be built
// are dropped; a nil p drops everything.
func Emit(ctx context.Context, p Publisher, eventType, source, subject string, payload any) {
	if p == nil {
		return
	}
	event, err := NewStatusEvent(eventType, source, subject, payload)
	if err != nil {
		return
	}
	p.Publish(ctx, event)
}
