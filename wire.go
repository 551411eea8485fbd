package cachedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// postJSON encodes payload and performs one POST round trip. Network-layer
// failures come back as TransportError, context expiry as CancelledError.
// The HTTP response is returned for any status; status handling is the
// caller's.
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, payload any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, &ProtocolError{SDKError: SDKError{
			Message: "cannot encode request payload",
			Cause:   err,
		}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("cannot build request for %s", url),
			Cause:   err,
		}}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &CancelledError{SDKError: SDKError{
				Message: "request cancelled",
				Cause:   err,
			}}
		}
		return nil, &TransportError{SDKError: SDKError{
			Message: "request failed",
			Cause:   err,
		}}
	}
	return resp, nil
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h http.Header) *float64 {
	raw := h.Get("Retry-After")
	if raw == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return nil
	}
	return &secs
}

// missingKeyError is the first-call failure for an absent credential.
func missingKeyError(provider, envVar string) *ProviderRequestError {
	return &ProviderRequestError{
		SDKError:   SDKError{Message: fmt.Sprintf("no API key configured (set %s)", envVar)},
		Provider:   provider,
		StatusCode: http.StatusUnauthorized,
		ErrorCode:  "missing_api_key",
	}
}
