package cachedllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeminiTestServer(t *testing.T, handler http.HandlerFunc) *GeminiAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiAdapter(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL})
}

func TestGeminiSendWireFormat(t *testing.T) {
	var captured map[string]any
	adapter := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "hello there"}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     8,
				"candidatesTokenCount": 3,
				"totalTokenCount":      11,
			},
			"modelVersion": "gemini-2.5-flash",
		})
	})

	maxTokens := 256
	resp, err := adapter.Send(context.Background(), Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("hi"),
		},
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)

	// system turns become systemInstruction, not contents
	sysInstr := captured["systemInstruction"].(map[string]any)
	parts := sysInstr["parts"].([]any)
	assert.Equal(t, "be brief", parts[0].(map[string]any)["text"])

	contents := captured["contents"].([]any)
	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])

	genCfg := captured["generationConfig"].(map[string]any)
	assert.Equal(t, float64(256), genCfg["maxOutputTokens"])

	assert.Equal(t, ProviderGemini, resp.Provider)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, "hello there", resp.Text())
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, Usage{InputTokens: 8, OutputTokens: 3, TotalTokens: 11}, resp.Usage)
}

func TestGeminiSendFunctionCall(t *testing.T) {
	var captured map[string]any
	adapter := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{{
						"functionCall": map[string]any{
							"name": "get_weather",
							"args": map[string]any{"location": "New York"},
						},
					}},
				},
				"finishReason": "STOP",
			}},
		})
	})

	resp, err := adapter.Send(context.Background(), Request{
		Model:      "gemini-2.5-flash",
		Messages:   []Message{UserMessage("weather in new york?")},
		Tools:      []ToolSpec{weatherToolSpec()},
		ToolChoice: ToolChoiceAuto,
	})
	require.NoError(t, err)

	// declarations are sanitized: no additionalProperties on this wire
	tools := captured["tools"].([]any)
	decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
	require.Len(t, decls, 1)
	decl := decls[0].(map[string]any)
	assert.Equal(t, "get_weather", decl["name"])
	assert.NotContains(t, decl["parameters"].(map[string]any), "additionalProperties")

	toolCfg := captured["toolConfig"].(map[string]any)["functionCallingConfig"].(map[string]any)
	assert.Equal(t, "AUTO", toolCfg["mode"])

	require.Len(t, resp.ToolCalls(), 1)
	call := resp.ToolCalls()[0]
	// this wire issues no call ids; one is synthesized for linkage
	assert.True(t, strings.HasPrefix(call.ID, "call_"), "ID = %q", call.ID)
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.JSONEq(t, `{"location":"New York"}`, call.Function.Arguments)
	// STOP plus function calls still reports tool_calls
	assert.Equal(t, FinishToolCalls, resp.FinishReason)
}

func TestGeminiFunctionResponseTurn(t *testing.T) {
	wire, err := buildGeminiRequest(Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			UserMessage("weather in new york?"),
			{Role: RoleAssistant, ToolCalls: []ToolCall{{
				ID:       "call_syn1",
				Function: FunctionCall{Name: "get_weather", Arguments: `{"location":"New York"}`},
			}}},
			ToolMessage("call_syn1", "get_weather", `{"temperature":"22°C","condition":"sunny"}`),
		},
	})
	require.NoError(t, err)

	require.Len(t, wire.Contents, 3)
	assert.Equal(t, "user", wire.Contents[0].Role)

	model := wire.Contents[1]
	assert.Equal(t, "model", model.Role)
	require.Len(t, model.Parts, 1)
	require.NotNil(t, model.Parts[0].FunctionCall)
	assert.Equal(t, "get_weather", model.Parts[0].FunctionCall.Name)

	// results ride in a user turn, keyed by function name; the synthesized id
	// never goes on the wire
	result := wire.Contents[2]
	assert.Equal(t, "user", result.Role)
	require.NotNil(t, result.Parts[0].FunctionResponse)
	fr := result.Parts[0].FunctionResponse
	assert.Equal(t, "get_weather", fr.Name)
	assert.Equal(t, "22°C", fr.Response["temperature"])
}

func TestGeminiResponsePayloadWrapsPlainText(t *testing.T) {
	payload := geminiResponsePayload("sunny and 22")
	assert.Equal(t, map[string]any{"result": "sunny and 22"}, payload)

	payload = geminiResponsePayload(`{"temp":"22"}`)
	assert.Equal(t, map[string]any{"temp": "22"}, payload)
}

func TestGeminiToolConfigEncoding(t *testing.T) {
	tests := []struct {
		choice      string
		wantMode    string
		wantAllowed []string
	}{
		{ToolChoiceAuto, "AUTO", nil},
		{ToolChoiceNone, "NONE", nil},
		{ToolChoiceRequired, "ANY", nil},
		{"get_weather", "ANY", []string{"get_weather"}},
	}
	for _, tt := range tests {
		got := encodeGeminiToolConfig(tt.choice).FunctionCallingConfig
		assert.Equal(t, tt.wantMode, got.Mode, "choice %q", tt.choice)
		assert.Equal(t, tt.wantAllowed, got.AllowedFunctionNames, "choice %q", tt.choice)
	}
}

func TestGeminiMergesConsecutiveUserTurns(t *testing.T) {
	wire, err := buildGeminiRequest(Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			UserMessage("first"),
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "c1", Function: FunctionCall{Name: "a", Arguments: "{}"}},
				{ID: "c2", Function: FunctionCall{Name: "b", Arguments: "{}"}},
			}},
			ToolMessage("c1", "a", "one"),
			ToolMessage("c2", "b", "two"),
		},
	})
	require.NoError(t, err)

	require.Len(t, wire.Contents, 3)
	last := wire.Contents[2]
	assert.Equal(t, "user", last.Role)
	require.Len(t, last.Parts, 2)
	assert.Equal(t, "a", last.Parts[0].FunctionResponse.Name)
	assert.Equal(t, "b", last.Parts[1].FunctionResponse.Name)
}

func TestGeminiSendError(t *testing.T) {
	adapter := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    400,
				"message": "API key not valid",
				"status":  "INVALID_ARGUMENT",
			},
		})
	})

	_, err := adapter.Send(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("hi")},
	})

	var pre *ProviderRequestError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, http.StatusBadRequest, pre.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", pre.ErrorCode)
	assert.Equal(t, "API key not valid", pre.Message)
	assert.False(t, pre.Retryable)
}

func TestGeminiSendNoCandidates(t *testing.T) {
	adapter := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	})

	_, err := adapter.Send(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("hi")},
	})

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ProviderGemini, pe.Provider)
}

func TestGeminiFinishReasons(t *testing.T) {
	assert.Equal(t, FinishStop, geminiFinishReason("STOP"))
	assert.Equal(t, FinishLength, geminiFinishReason("MAX_TOKENS"))
	assert.Equal(t, FinishContentFilter, geminiFinishReason("SAFETY"))
	assert.Equal(t, FinishOther, geminiFinishReason("OTHER"))
}

func TestGeminiSendMissingKey(t *testing.T) {
	adapter := NewGeminiAdapter(ProviderConfig{BaseURL: "http://127.0.0.1:0"})
	_, err := adapter.Send(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("hi")},
	})

	var pre *ProviderRequestError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "missing_api_key", pre.ErrorCode)
}
