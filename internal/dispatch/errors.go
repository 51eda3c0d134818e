package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllProvidersExhausted matches every AllProvidersExhaustedError.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ErrNoProviders is returned by New when given no providers.
var ErrNoProviders = errors.New("dispatcher needs at least one provider")

// Attempt is the outcome of trying one provider.
type Attempt struct {
	Provider string `json:"provider"`
	Err      error  `json:"-"`
}

// AllProvidersExhaustedError reports that no provider produced a result.
// Attempts lists every provider in the order tried, including those the
// governor skipped.
type AllProvidersExhaustedError struct {
	Attempts []Attempt
}

func (e *AllProvidersExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("%s: [%s]", ErrAllProvidersExhausted, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrAllProvidersExhausted) hold.
func (e *AllProvidersExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// Providers returns the names of the attempted providers.
func (e *AllProvidersExhaustedError) Providers() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return names
}
