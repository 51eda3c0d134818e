package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/lexigen/internal/api/shared"
	"github.com/phrazzld/lexigen/internal/deferred"
	"github.com/phrazzld/lexigen/internal/dispatch"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/generation"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/phrazzld/lexigen/internal/selector"
	"github.com/phrazzld/lexigen/internal/service/auth"
	"github.com/phrazzld/lexigen/internal/store"
	"github.com/phrazzld/lexigen/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the error itself.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrJobNotFailed),
		errors.Is(err, store.ErrActiveJobExists):
		return http.StatusConflict

	case errors.Is(err, provider.ErrInvalidRequest),
		errors.Is(err, task.ErrInvalidEnqueue),
		errors.Is(err, generation.ErrInvalidItem),
		errors.Is(err, deferred.ErrInvalidPayload),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Exhaustion wraps the per-provider causes, so it is matched first.
	case errors.Is(err, dispatch.ErrAllProvidersExhausted),
		errors.Is(err, selector.ErrLookupFailed),
		errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, provider.ErrMalformedOutput):
		return http.StatusBadGateway

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return "Invalid token"
	case errors.Is(err, domain.ErrUnauthorized):
		return "Not authorized"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrDeferredNotFound):
		return "Deferred request not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, task.ErrJobNotFailed):
		return "Only failed jobs can be retried"
	case errors.Is(err, store.ErrActiveJobExists):
		return "A job for this content is already active"
	case errors.Is(err, provider.ErrInvalidRequest),
		errors.Is(err, task.ErrInvalidEnqueue),
		errors.Is(err, generation.ErrInvalidItem),
		errors.Is(err, domain.ErrInvalidKind):
		return "Invalid generation request"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidEntity):
		return "Validation error"
	case errors.Is(err, dispatch.ErrAllProvidersExhausted), errors.Is(err, selector.ErrLookupFailed):
		return "All providers are unavailable"
	case errors.Is(err, provider.ErrMalformedOutput):
		return "Provider returned malformed output"
	case errors.Is(err, store.ErrStorageUnavailable):
		return "Storage is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err and
// logs the redacted cause. A non-empty message overrides the safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string, opts ...shared.ResponseOption) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// SanitizeValidationError turns a validator error into a short message that
// names the failing field.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()
	if !strings.Contains(errMsg, "Field validation") {
		return "Validation error"
	}
	// Format: "Key: 'Req.Field' Error:Field validation for 'Field' failed on the 'tag' tag"
	parts := strings.SplitN(errMsg, "Error:", 2)
	if len(parts) < 2 {
		return "Validation error"
	}
	fieldParts := strings.Split(parts[1], "'")
	if len(fieldParts) < 3 {
		return "Validation error"
	}
	field := fieldParts[1]
	if len(fieldParts) >= 5 {
		return "Invalid " + field + ": " + validationTagMessage(fieldParts[3])
	}
	return "Invalid " + field
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "dive":
		return "invalid entry"
	default:
		return "validation failed"
	}
}
