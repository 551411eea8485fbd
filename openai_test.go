package cachedllm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIAdapter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	adapter := NewOpenAIAdapter(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL})
	return srv, adapter
}

func TestOpenAISendWireFormat(t *testing.T) {
	var captured map[string]any
	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-123",
			"model": "gpt-5-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "hello there"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	})

	temp := 0.7
	resp, err := adapter.Send(context.Background(), Request{
		Model: "gpt-5-mini",
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("hi"),
		},
		Tools:       []ToolSpec{weatherToolSpec()},
		ToolChoice:  ToolChoiceAuto,
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-5-mini", captured["model"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Equal(t, "auto", captured["tool_choice"])
	assert.Equal(t, 0.7, captured["temperature"])

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])

	assert.Equal(t, "chatcmpl-123", resp.ID)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, "hello there", resp.Text())
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 4, TotalTokens: 16}, resp.Usage)
	assert.NotEmpty(t, resp.Raw)
}

func TestOpenAISendToolCalls(t *testing.T) {
	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-456",
			"model": "gpt-5-mini",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_xyz",
						"type": "function",
						"function": map[string]any{
							"name":      "get_weather",
							"arguments": `{"location":"New York"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	})

	resp, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-5-mini",
		Messages: []Message{UserMessage("weather in new york?")},
		Tools:    []ToolSpec{weatherToolSpec()},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls(), 1)
	call := resp.ToolCalls()[0]
	assert.Equal(t, "call_xyz", call.ID)
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.Equal(t, FinishToolCalls, resp.FinishReason)

	args, err := call.Function.ParseArguments()
	require.NoError(t, err)
	assert.Equal(t, "New York", args["location"])
}

func TestOpenAISendToolRoundTrip(t *testing.T) {
	var captured map[string]any
	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-789",
			"model": "gpt-5-mini",
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "Sunny, 22°C."},
				"finish_reason": "stop",
			}},
		})
	})

	_, err := adapter.Send(context.Background(), Request{
		Model: "gpt-5-mini",
		Messages: []Message{
			UserMessage("weather in new york?"),
			{Role: RoleAssistant, ToolCalls: []ToolCall{{
				ID:       "call_xyz",
				Function: FunctionCall{Name: "get_weather", Arguments: `{"location":"New York"}`},
			}}},
			ToolMessage("call_xyz", "get_weather", `{"temperature":"22°C","condition":"sunny"}`),
		},
	})
	require.NoError(t, err)

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 3)

	asst := msgs[1].(map[string]any)
	calls := asst["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_xyz", calls[0].(map[string]any)["id"])

	toolMsg := msgs[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_xyz", toolMsg["tool_call_id"])
	// the function name rides on the assistant tool call, not the tool message
	assert.NotContains(t, toolMsg, "name")
}

func TestOpenAINamedToolChoice(t *testing.T) {
	wire, err := buildOpenAIRequest(Request{
		Model:      "gpt-5-mini",
		Messages:   []Message{UserMessage("hi")},
		Tools:      []ToolSpec{weatherToolSpec()},
		ToolChoice: "get_weather",
	})
	require.NoError(t, err)

	var choice map[string]any
	require.NoError(t, json.Unmarshal(wire.ToolChoice, &choice))
	assert.Equal(t, "function", choice["type"])
	assert.Equal(t, "get_weather", choice["function"].(map[string]any)["name"])
}

func TestOpenAISendErrorEnvelope(t *testing.T) {
	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "Incorrect API key provided",
				"type":    "invalid_request_error",
				"code":    "invalid_api_key",
			},
		})
	})

	_, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-5-mini",
		Messages: []Message{UserMessage("hi")},
	})

	var pre *ProviderRequestError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, http.StatusUnauthorized, pre.StatusCode)
	assert.Equal(t, "invalid_api_key", pre.ErrorCode)
	assert.Equal(t, "Incorrect API key provided", pre.Message)
	assert.False(t, pre.Retryable)
}

func TestOpenAISendRateLimited(t *testing.T) {
	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1.5")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Rate limit reached", "code": "rate_limit_exceeded"},
		})
	})

	_, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-5-mini",
		Messages: []Message{UserMessage("hi")},
	})

	var pre *ProviderRequestError
	require.ErrorAs(t, err, &pre)
	assert.True(t, pre.Retryable)
	require.NotNil(t, pre.RetryAfter)
	assert.Equal(t, 1.5, *pre.RetryAfter)
	assert.True(t, IsRetryable(err))
}

func TestOpenAISendNoChoices(t *testing.T) {
	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "chatcmpl-0", "choices": []any{}})
	})

	_, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-5-mini",
		Messages: []Message{UserMessage("hi")},
	})

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ProviderOpenAI, pe.Provider)
}

func TestOpenAISendMalformedToolArguments(t *testing.T) {
	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "gpt-5-mini",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "get_weather", "arguments": `{"location":`},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	})

	_, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-5-mini",
		Messages: []Message{UserMessage("hi")},
		Tools:    []ToolSpec{weatherToolSpec()},
	})

	var mte *MalformedToolArgumentsError
	require.ErrorAs(t, err, &mte)
	assert.Equal(t, "get_weather", mte.ToolName)
	assert.False(t, IsRetryable(err))
}

func TestOpenAISendMissingKey(t *testing.T) {
	adapter := NewOpenAIAdapter(ProviderConfig{BaseURL: "http://127.0.0.1:0"})
	_, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-5-mini",
		Messages: []Message{UserMessage("hi")},
	})

	var pre *ProviderRequestError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, http.StatusUnauthorized, pre.StatusCode)
	assert.Equal(t, "missing_api_key", pre.ErrorCode)
}

func TestOpenAISendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := adapter.Send(ctx, Request{
		Model:    "gpt-5-mini",
		Messages: []Message{UserMessage("hi")},
	})

	var ce *CancelledError
	require.ErrorAs(t, err, &ce)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsRetryable(err))
}

func TestOpenAISynthesizesMissingCallID(t *testing.T) {
	resp, err := normalizeOpenAIResponse(openAIChatResponse{
		ID:    "chatcmpl-2",
		Model: "gpt-5-mini",
		Choices: []struct {
			Index        int           `json:"index"`
			Message      openAIMessage `json:"message"`
			FinishReason string        `json:"finish_reason"`
		}{{
			Message: openAIMessage{
				Role: "assistant",
				ToolCalls: []openAIToolCall{{
					Function: openAIFunctionCall{Name: "get_weather", Arguments: "{}"},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls(), 1)
	assert.NotEmpty(t, resp.ToolCalls()[0].ID)
}
