package cachedllm

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for all errors surfaced by this package.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// UnknownProviderError reports a provider identifier outside the supported
// set. It is returned at construction time, before any I/O.
type UnknownProviderError struct {
	SDKError
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q (supported: openai, anthropic, gemini)", e.Provider)
}

// ClientClosedError reports use of a client after Close.
type ClientClosedError struct{ SDKError }

func (e *ClientClosedError) Error() string {
	if e.Message != "" {
		return e.SDKError.Error()
	}
	return "client is closed"
}

// ValidationError reports a message or conversation that violates the data
// model before any request is sent.
type ValidationError struct{ SDKError }

// ConfigurationError reports invalid client or call options.
type ConfigurationError struct{ SDKError }

// TransportError reports a network-layer failure (connect, reset, timeout).
// Potentially retryable by the caller.
type TransportError struct{ SDKError }

// CancelledError reports that the caller's context was cancelled or its
// deadline expired while the call was outstanding.
type CancelledError struct{ SDKError }

// ProtocolError reports a provider response whose shape violates the
// adapter's expectations: a provider-side format change or an adapter bug.
type ProtocolError struct {
	SDKError
	Provider string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("[%s] protocol error: %s", e.Provider, e.SDKError.Error())
}

// MalformedToolArgumentsError reports tool-call arguments that failed to
// parse as JSON after full assembly.
type MalformedToolArgumentsError struct {
	SDKError
	ToolName string
	Raw      string
}

// ProviderRequestError reports a request the provider rejected: bad key,
// rate limit, unknown model, invalid request. Not retryable without changing
// the request, except where Retryable says otherwise (429, 5xx).
type ProviderRequestError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64 // seconds, from the Retry-After header when present
}

func (e *ProviderRequestError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// ErrorFromStatusCode maps a provider HTTP status to a ProviderRequestError
// with retryability assigned by status class.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) *ProviderRequestError {
	e := &ProviderRequestError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}
	switch {
	case statusCode == 408 || statusCode == 429:
		e.Retryable = true
	case statusCode >= 500:
		e.Retryable = true
	}
	return e
}

// IsRetryable reports whether the error is safe to retry with the same
// request. Transport failures and retryable provider errors qualify;
// cancellation, validation, and protocol errors never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pre *ProviderRequestError
	if errors.As(err, &pre) {
		return pre.Retryable
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ce *CancelledError
	if errors.As(err, &ce) {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	var me *MalformedToolArgumentsError
	if errors.As(err, &me) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return false
	}
	var up *UnknownProviderError
	if errors.As(err, &up) {
		return false
	}
	var cc *ClientClosedError
	if errors.As(err, &cc) {
		return false
	}
	// Unknown errors default to retryable, matching the conservative stance
	// that transient failures are more common than permanent unknown ones.
	return true
}
