package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrMissingAPIKey is returned when the provider is built without a key.
	ErrMissingAPIKey = errors.New("gemini API key cannot be empty")

	// ErrMissingModel is returned when no model name is configured.
	ErrMissingModel = errors.New("gemini model name cannot be empty")

	// ErrContentBlocked is returned when the safety filters stop a response.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrEmptyResponse is returned when the API answers without any text.
	ErrEmptyResponse = errors.New("empty response from gemini")
)
