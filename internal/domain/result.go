package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ResultStatus describes the state of one generated item.
type ResultStatus string

const (
	// ResultStatusReady marks content that satisfies the item.
	ResultStatusReady ResultStatus = "ready"
	// ResultStatusPlaceholder marks a minimal stand-in written when the item
	// could not be generated. Placeholders do not satisfy later enqueues.
	ResultStatusPlaceholder ResultStatus = "placeholder"
)

// Validation errors for GenerationResult
var (
	ErrEmptyResultItemID   = errors.New("result item ID cannot be empty")
	ErrInvalidResultStatus = errors.New("invalid result status")
)

// GenerationResult is the generated content for a single item of a job,
// keyed by (user, fingerprint, item).
type GenerationResult struct {
	UserID      uuid.UUID       `json:"user_id"`
	Fingerprint string          `json:"fingerprint"`
	ItemID      string          `json:"item_id"`
	Content     json.RawMessage `json:"content"`
	Provider    string          `json:"provider,omitempty"`
	Status      ResultStatus    `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks if the result has valid data.
func (r *GenerationResult) Validate() error {
	if r.Fingerprint == "" {
		return ErrEmptyJobFingerprint
	}
	if r.ItemID == "" {
		return ErrEmptyResultItemID
	}
	if r.Status != ResultStatusReady && r.Status != ResultStatusPlaceholder {
		return ErrInvalidResultStatus
	}
	if len(r.Content) == 0 || !json.Valid(r.Content) {
		return ErrEmptyContent
	}
	return nil
}

// PlaceholderContent is the body stored for an item that failed to generate.
func PlaceholderContent(itemID string, cause error) json.RawMessage {
	msg := "generation failed"
	if cause != nil {
		msg = cause.Error()
	}
	data, _ := json.Marshal(map[string]any{
		"item_id":     itemID,
		"placeholder": true,
		"error":       msg,
	})
	return data
}
