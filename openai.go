package cachedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	openAIDefaultBaseURL      = "https://api.openai.com/v1"
	openAIChatCompletionsPath = "/chat/completions"
	openAIKeyEnvVar           = "OPENAI_API_KEY"
)

// OpenAIAdapter speaks the OpenAI Chat Completions wire protocol
// (POST {base}/chat/completions, bearer auth).
type OpenAIAdapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewOpenAIAdapter creates an adapter from the shared provider config.
func NewOpenAIAdapter(cfg ProviderConfig) *OpenAIAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAIAdapter{
		client:  cfg.httpClient(),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		logger:  cfg.logger(),
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return ProviderOpenAI }

// Close releases idle connections held by the HTTP session.
func (a *OpenAIAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// Send performs one chat-completions round trip.
func (a *OpenAIAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	if a.apiKey == "" {
		return nil, missingKeyError(ProviderOpenAI, openAIKeyEnvVar)
	}

	payload, err := buildOpenAIRequest(req)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}

	start := time.Now()
	resp, err := postJSON(ctx, a.client, a.baseURL+openAIChatCompletionsPath, headers, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	a.logger.DebugContext(ctx, "openai chat completion",
		"model", req.Model, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 300 {
		return nil, readOpenAIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{SDKError: SDKError{Message: "reading response body", Cause: err}}
	}
	var wire openAIChatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "undecodable chat completion response", Cause: err},
			Provider: ProviderOpenAI,
		}
	}
	return normalizeOpenAIResponse(wire, body)
}

// --- wire types ---

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// --- request translation ---

func buildOpenAIRequest(req Request) (openAIChatRequest, error) {
	out := openAIChatRequest{
		Model:       req.Model,
		Messages:    make([]openAIMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, m := range req.Messages {
		// The tool role carries only the linkage id; the function name rides
		// on the original assistant tool call, so m.Name stays off the wire.
		wire := openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			if !json.Valid([]byte(tc.Function.Arguments)) {
				return openAIChatRequest{}, malformedArguments(tc.Function.Name, tc.Function.Arguments, nil)
			}
			wire.ToolCalls = append(wire.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, wire)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}

	if len(req.Tools) > 0 && req.ToolChoice != "" {
		choice, err := encodeOpenAIToolChoice(req.ToolChoice)
		if err != nil {
			return openAIChatRequest{}, err
		}
		out.ToolChoice = choice
	}
	return out, nil
}

func encodeOpenAIToolChoice(choice string) (json.RawMessage, error) {
	if namedToolChoice(choice) {
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice},
		})
	}
	return json.Marshal(choice)
}

// --- response normalization ---

func normalizeOpenAIResponse(wire openAIChatResponse, raw []byte) (*Response, error) {
	if len(wire.Choices) == 0 {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "response carries no choices"},
			Provider: ProviderOpenAI,
		}
	}
	choice := wire.Choices[0]

	msg := Message{Role: RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if !json.Valid([]byte(args)) {
			return nil, malformedArguments(tc.Function.Name, args, nil)
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:   id,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	if err := msg.Validate(); err != nil {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "response message is empty", Cause: err},
			Provider: ProviderOpenAI,
		}
	}

	return &Response{
		ID:           wire.ID,
		Model:        wire.Model,
		Provider:     ProviderOpenAI,
		Message:      msg,
		FinishReason: openAIFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
			TotalTokens:  wire.Usage.TotalTokens,
		},
		Raw: json.RawMessage(raw),
	}, nil
}

func openAIFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "content_filter":
		return FinishContentFilter
	default:
		return FinishOther
	}
}

func readOpenAIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	retryAfter := parseRetryAfter(resp.Header)
	if err != nil {
		return ErrorFromStatusCode(resp.StatusCode, resp.Status, ProviderOpenAI, "", retryAfter)
	}
	var wire openAIErrorResponse
	if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Error.Message != "" {
		return ErrorFromStatusCode(resp.StatusCode, wire.Error.Message, ProviderOpenAI, wire.Error.Code, retryAfter)
	}
	return ErrorFromStatusCode(resp.StatusCode, string(body), ProviderOpenAI, "", retryAfter)
}

func malformedArguments(tool, raw string, cause error) *MalformedToolArgumentsError {
	return &MalformedToolArgumentsError{
		SDKError: SDKError{
			Message: fmt.Sprintf("tool %q arguments are not valid JSON", tool),
			Cause:   cause,
		},
		ToolName: tool,
		Raw:      raw,
	}
}
