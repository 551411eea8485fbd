package cachedllm

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Provider identifiers. The set is fixed: adding a backend means adding an
// adapter variant, never branching in the facade.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Providers returns the supported provider identifiers.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini}
}

// ProviderAdapter is the interface every provider backend implements.
// Adapters hold no mutable state between calls; Send is a pure function of
// the request plus the underlying HTTP session.
type ProviderAdapter interface {
	// Name returns the provider identifier.
	Name() string

	// Send performs one blocking chat-completion round trip and returns the
	// normalized response. Adapters never retry.
	Send(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold releasable resources.
type Closer interface {
	Close() error
}

const defaultHTTPTimeout = 120 * time.Second

// ProviderConfig carries the settings shared by all adapters.
type ProviderConfig struct {
	// APIKey authenticates against the provider. An empty key is not an
	// error at construction; the first Send fails with a 401-style
	// ProviderRequestError.
	APIKey string

	// BaseURL overrides the provider endpoint, e.g. for a proxy or a test
	// server. Empty means the provider default.
	BaseURL string

	// HTTPClient overrides the pooled HTTP session. Nil means a client with
	// a default timeout.
	HTTPClient *http.Client

	// Logger receives debug-level request metadata. Nil means slog.Default.
	Logger *slog.Logger
}

func (cfg ProviderConfig) httpClient() *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

func (cfg ProviderConfig) logger() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}

// newAdapter constructs the adapter for a provider identifier.
func newAdapter(provider string, cfg ProviderConfig) (ProviderAdapter, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIAdapter(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicAdapter(cfg), nil
	case ProviderGemini:
		return NewGeminiAdapter(cfg), nil
	default:
		return nil, &UnknownProviderError{Provider: provider}
	}
}
