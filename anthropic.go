package cachedllm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultBaseURL   = "https://api.anthropic.com"
	anthropicMessagesPath     = "/v1/messages"
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
	anthropicKeyEnvVar        = "ANTHROPIC_API_KEY"
)

// AnthropicAdapter speaks the Anthropic Messages wire protocol
// (POST {base}/v1/messages, x-api-key auth, content-block bodies).
type AnthropicAdapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewAnthropicAdapter creates an adapter from the shared provider config.
func NewAnthropicAdapter(cfg ProviderConfig) *AnthropicAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicAdapter{
		client:  cfg.httpClient(),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		logger:  cfg.logger(),
	}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// Close releases idle connections held by the HTTP session.
func (a *AnthropicAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// Send performs one Messages API round trip.
func (a *AnthropicAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	if a.apiKey == "" {
		return nil, missingKeyError(ProviderAnthropic, anthropicKeyEnvVar)
	}

	payload, err := buildAnthropicRequest(req)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": anthropicVersion,
	}

	start := time.Now()
	resp, err := postJSON(ctx, a.client, a.baseURL+anthropicMessagesPath, headers, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	a.logger.DebugContext(ctx, "anthropic message",
		"model", req.Model, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 300 {
		return nil, readAnthropicError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{SDKError: SDKError{Message: "reading response body", Cause: err}}
	}
	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "undecodable messages response", Cause: err},
			Provider: ProviderAnthropic,
		}
	}
	return normalizeAnthropicResponse(wire, body)
}

// --- wire types ---

type anthropicRequest struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock is the union over text, tool_use, and tool_result
// blocks.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- request translation ---

func buildAnthropicRequest(req Request) (anthropicRequest, error) {
	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	} else if info := GetModelInfo(req.Model); info != nil && info.MaxOutput != nil {
		maxTokens = *info.MaxOutput
	}

	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	var systemParts []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// System turns are hoisted out of the message list.
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}

		case RoleUser:
			appendAnthropicBlocks(&out.Messages, "user",
				anthropicContentBlock{Type: "text", Text: m.Content})

		case RoleAssistant:
			blocks := make([]anthropicContentBlock, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				if !json.Valid([]byte(tc.Function.Arguments)) {
					return anthropicRequest{}, malformedArguments(tc.Function.Name, tc.Function.Arguments, nil)
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(tc.Function.Arguments),
				})
			}
			appendAnthropicBlocks(&out.Messages, "assistant", blocks...)

		case RoleTool:
			// Tool results ride inside a user turn, keyed by tool_use_id.
			appendAnthropicBlocks(&out.Messages, "user", anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			})
		}
	}
	out.System = strings.Join(systemParts, "\n\n")

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	if len(req.Tools) > 0 && req.ToolChoice != "" {
		out.ToolChoice = encodeAnthropicToolChoice(req.ToolChoice)
	}
	return out, nil
}

// appendAnthropicBlocks merges consecutive same-role turns, which the
// Messages API requires for adjacent tool results.
func appendAnthropicBlocks(messages *[]anthropicMessage, role string, blocks ...anthropicContentBlock) {
	if n := len(*messages); n > 0 && (*messages)[n-1].Role == role {
		(*messages)[n-1].Content = append((*messages)[n-1].Content, blocks...)
		return
	}
	*messages = append(*messages, anthropicMessage{Role: role, Content: blocks})
}

func encodeAnthropicToolChoice(choice string) *anthropicToolChoice {
	switch choice {
	case ToolChoiceAuto:
		return &anthropicToolChoice{Type: "auto"}
	case ToolChoiceNone:
		return &anthropicToolChoice{Type: "none"}
	case ToolChoiceRequired:
		return &anthropicToolChoice{Type: "any"}
	default:
		return &anthropicToolChoice{Type: "tool", Name: choice}
	}
}

// --- response normalization ---

func normalizeAnthropicResponse(wire anthropicResponse, raw []byte) (*Response, error) {
	if len(wire.Content) == 0 {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "response carries no content blocks"},
			Provider: ProviderAnthropic,
		}
	}

	msg := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			if !json.Valid([]byte(args)) {
				return nil, malformedArguments(block.Name, args, nil)
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	msg.Content = text.String()
	if err := msg.Validate(); err != nil {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "response message is empty", Cause: err},
			Provider: ProviderAnthropic,
		}
	}

	return &Response{
		ID:           wire.ID,
		Model:        wire.Model,
		Provider:     ProviderAnthropic,
		Message:      msg,
		FinishReason: anthropicFinishReason(wire.StopReason),
		Usage: Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
			TotalTokens:  wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
		Raw: json.RawMessage(raw),
	}, nil
}

func anthropicFinishReason(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	default:
		return FinishOther
	}
}

func readAnthropicError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	retryAfter := parseRetryAfter(resp.Header)
	if err != nil {
		return ErrorFromStatusCode(resp.StatusCode, resp.Status, ProviderAnthropic, "", retryAfter)
	}
	var wire anthropicErrorResponse
	if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Error.Message != "" {
		return ErrorFromStatusCode(resp.StatusCode, wire.Error.Message, ProviderAnthropic, wire.Error.Type, retryAfter)
	}
	return ErrorFromStatusCode(resp.StatusCode, string(body), ProviderAnthropic, "", retryAfter)
}
