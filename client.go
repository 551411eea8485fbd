package cachedllm

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
)

// Middleware wraps a provider call. It receives the request and a next
// function that calls the downstream handler, and returns the response.
// Retry, caching, and instrumentation policies plug in here; the core client
// applies none of its own.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client is the provider-facing facade. It is constructed for exactly one
// provider, holds that provider's adapter and pooled HTTP session while
// open, and rejects calls after Close.
type Client struct {
	provider   string
	adapter    ProviderAdapter
	middleware []Middleware

	mu     sync.Mutex
	closed bool
}

// ClientOption configures a Client at construction.
type ClientOption func(*clientOptions)

type clientOptions struct {
	cfg        ProviderConfig
	middleware []Middleware
}

// WithAPIKey sets the provider credential explicitly instead of reading it
// from the environment.
func WithAPIKey(key string) ClientOption {
	return func(o *clientOptions) { o.cfg.APIKey = key }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) { o.cfg.BaseURL = url }
}

// WithHTTPClient overrides the pooled HTTP session.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) { o.cfg.HTTPClient = hc }
}

// WithLogger sets the logger adapters emit debug metadata to.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.cfg.Logger = l }
}

// WithMiddleware appends middleware. The first registered runs first on the
// way in and last on the way out.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(o *clientOptions) { o.middleware = append(o.middleware, mw...) }
}

// NewClient creates an open Client for one of the supported providers.
// An unrecognized provider fails fast with UnknownProviderError, before any
// network I/O. When no API key option is given, the provider's environment
// variable is consulted; a key that is still missing surfaces on the first
// call, not here.
func NewClient(provider string, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg.APIKey == "" {
		o.cfg.APIKey = os.Getenv(apiKeyEnvVar(provider))
	}

	adapter, err := newAdapter(provider, o.cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		provider:   provider,
		adapter:    adapter,
		middleware: o.middleware,
	}, nil
}

// Provider returns the provider identifier this client was built for.
func (c *Client) Provider() string {
	return c.provider
}

// InvokeOption configures a single Invoke call.
type InvokeOption func(*Request)

// WithTools offers the given tool declarations to the model. An empty list
// is identical to not calling WithTools at all.
func WithTools(tools ...ToolSpec) InvokeOption {
	return func(r *Request) { r.Tools = tools }
}

// WithToolChoice sets the tool-use policy: ToolChoiceAuto, ToolChoiceNone,
// ToolChoiceRequired, or the name of one declared tool.
func WithToolChoice(choice string) InvokeOption {
	return func(r *Request) { r.ToolChoice = choice }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) InvokeOption {
	return func(r *Request) { r.Temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) InvokeOption {
	return func(r *Request) { r.MaxTokens = &n }
}

// Invoke sends the conversation to the client's provider and returns the
// normalized assistant message. The context carries cancellation and
// deadline; the call blocks for the duration of the network round trip.
func (c *Client) Invoke(ctx context.Context, model string, messages []Message, opts ...InvokeOption) (Message, error) {
	req := Request{Model: model, Messages: messages}
	for _, opt := range opts {
		opt(&req)
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return Message{}, err
	}
	return resp.Message, nil
}

// Complete is the full-fidelity form of Invoke: it returns the Response
// wrapper carrying usage, finish reason, and the raw provider payload.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &ClientClosedError{}
	}
	c.mu.Unlock()

	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := validateConversation(req.Messages); err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return c.adapter.Send(ctx, r)
	}
	// Apply middleware in reverse order so the first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return handler(ctx, req)
}

// Close releases the underlying adapter resources. It is idempotent and
// must not race an outstanding Invoke on the same client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if closer, ok := c.adapter.(Closer); ok {
		return closer.Close()
	}
	return nil
}
