package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusCreated, map[string]any{"message": "ok", "n": 1})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"ok","n":1}`, w.Body.String())
}

func TestRespondWithErrorCarriesTraceAndDetails(t *testing.T) {
	t.Parallel()

	ctx := context.WithValue(context.Background(), TraceIDKey, "test-trace-id")
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	RespondWithError(w, req, http.StatusServiceUnavailable, "All providers are unavailable",
		WithDetail("deferred_id", "abc"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "All providers are unavailable", resp.Error)
	assert.Equal(t, "test-trace-id", resp.TraceID)
	assert.Equal(t, map[string]string{"deferred_id": "abc"}, resp.Details)
}

func TestRespondWithErrorAndLogHidesCause(t *testing.T) {
	t.Parallel()

	l, buf := logger.NewBufferLogger()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req = req.WithContext(logger.WithLogger(req.Context(), l))
	w := httptest.NewRecorder()

	cause := errors.New("pq: connection to 10.0.0.5 refused")
	RespondWithErrorAndLog(w, req, http.StatusInternalServerError, "An unexpected error occurred", cause)

	assert.NotContains(t, w.Body.String(), "10.0.0.5")
	assert.Equal(t, 1, buf.Count("API error response"))
	assert.True(t, strings.Contains(buf.String(), "ERROR"), "server errors log at error level")
}

func TestUserIDRoundTrip(t *testing.T) {
	t.Parallel()

	_, ok := UserID(context.Background())
	assert.False(t, ok)

	_, ok = UserID(WithUserID(context.Background(), uuid.Nil))
	assert.False(t, ok, "the nil UUID is not a user")

	id := uuid.New()
	got, ok := UserID(WithUserID(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestSetTraceID(t *testing.T) {
	t.Parallel()

	a := GetTraceID(SetTraceID(context.Background()))
	b := GetTraceID(SetTraceID(context.Background()))
	assert.Len(t, a, TraceIDLength*2)
	assert.NotEqual(t, a, b)
	assert.Empty(t, GetTraceID(context.Background()))
}

type sample struct {
	Name string `json:"name" validate:"required"`
}

func TestDecodeAndValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		decodeErr bool
		invalid   bool
	}{
		{"valid", `{"name":"gato"}`, false, false},
		{"missing required", `{}`, false, true},
		{"unknown field", `{"name":"x","extra":1}`, true, false},
		{"trailing data", `{"name":"x"}{"name":"y"}`, true, false},
		{"not json", `nope`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v sample
			err := DecodeJSON(httptest.NewRecorder(), req, &v)
			if tt.decodeErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.invalid {
				assert.Error(t, ValidateRequest(v))
			} else {
				assert.NoError(t, ValidateRequest(v))
			}
		})
	}
}
