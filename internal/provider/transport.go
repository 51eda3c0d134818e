package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport sends a JSON payload to an endpoint and returns the raw body.
type Transport interface {
	Send(ctx context.Context, endpoint string, payload any) ([]byte, error)
}

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 8 << 20

// HTTPTransport is a Transport over net/http. Failures are returned as
// *Error so callers can tell retryable ones apart.
type HTTPTransport struct {
	provider string
	client   *http.Client
	headers  map[string]string
}

// NewHTTPTransport creates a transport that attaches headers to every
// request. A nil client gets a 60 second timeout.
func NewHTTPTransport(provider string, client *http.Client, headers map[string]string) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{provider: provider, client: client, headers: headers}
}

// Send POSTs payload as JSON to endpoint.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(t.provider, CodeBadRequest, 0, fmt.Errorf("failed to encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(t.provider, CodeBadRequest, 0, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, FromTransport(t.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, FromTransport(t.provider, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, FromStatus(t.provider, resp.StatusCode, data)
	}
	return data, nil
}
