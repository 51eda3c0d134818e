package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when an item could not be generated.
	ErrGenerationFailed = errors.New("failed to generate item")

	// ErrInvalidItem is returned for empty item IDs or unusable job params.
	ErrInvalidItem = errors.New("invalid generation item")
)
