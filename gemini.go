package cachedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiKeyEnvVar      = "GEMINI_API_KEY"
)

// GeminiAdapter speaks the Gemini generateContent wire protocol
// (POST {base}/models/{model}:generateContent, x-goog-api-key auth).
type GeminiAdapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewGeminiAdapter creates an adapter from the shared provider config.
func NewGeminiAdapter(cfg ProviderConfig) *GeminiAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &GeminiAdapter{
		client:  cfg.httpClient(),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		logger:  cfg.logger(),
	}
}

// Name returns the provider identifier.
func (a *GeminiAdapter) Name() string { return ProviderGemini }

// Close releases idle connections held by the HTTP session.
func (a *GeminiAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// Send performs one generateContent round trip.
func (a *GeminiAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	if a.apiKey == "" {
		return nil, missingKeyError(ProviderGemini, geminiKeyEnvVar)
	}

	payload, err := buildGeminiRequest(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, req.Model)
	headers := map[string]string{
		"X-Goog-Api-Key": a.apiKey,
	}

	start := time.Now()
	resp, err := postJSON(ctx, a.client, url, headers, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	a.logger.DebugContext(ctx, "gemini generate content",
		"model", req.Model, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 300 {
		return nil, readGeminiError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{SDKError: SDKError{Message: "reading response body", Cause: err}}
	}
	var wire geminiResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "undecodable generateContent response", Cause: err},
			Provider: ProviderGemini,
		}
	}
	return normalizeGeminiResponse(wire, req.Model, body)
}

// --- wire types ---

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig geminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type geminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// --- request translation ---

func buildGeminiRequest(req Request) (geminiRequest, error) {
	out := geminiRequest{}

	var systemParts []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}

		case RoleUser:
			appendGeminiParts(&out.Contents, "user", geminiPart{Text: m.Content})

		case RoleAssistant:
			parts := make([]geminiPart, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				if !json.Valid([]byte(tc.Function.Arguments)) {
					return geminiRequest{}, malformedArguments(tc.Function.Name, tc.Function.Arguments, nil)
				}
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Function.Name,
						Args: json.RawMessage(tc.Function.Arguments),
					},
				})
			}
			appendGeminiParts(&out.Contents, "model", parts...)

		case RoleTool:
			// Gemini has no call ids; results are keyed by function name and
			// ride in a user turn as functionResponse parts.
			appendGeminiParts(&out.Contents, "user", geminiPart{
				FunctionResponse: &geminiFunctionResponse{
					Name:     m.Name,
					Response: geminiResponsePayload(m.Content),
				},
			})
		}
	}

	if len(systemParts) > 0 {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  sanitizeSchema(t.Function.Parameters),
			})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
		if req.ToolChoice != "" {
			out.ToolConfig = encodeGeminiToolConfig(req.ToolChoice)
		}
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return out, nil
}

// geminiResponsePayload shapes a tool result as the JSON object the
// functionResponse field requires, wrapping non-object content.
func geminiResponsePayload(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj
	}
	return map[string]any{"result": content}
}

func appendGeminiParts(contents *[]geminiContent, role string, parts ...geminiPart) {
	if n := len(*contents); n > 0 && (*contents)[n-1].Role == role {
		(*contents)[n-1].Parts = append((*contents)[n-1].Parts, parts...)
		return
	}
	*contents = append(*contents, geminiContent{Role: role, Parts: parts})
}

func encodeGeminiToolConfig(choice string) *geminiToolConfig {
	cfg := geminiFunctionCallingConfig{}
	switch choice {
	case ToolChoiceAuto:
		cfg.Mode = "AUTO"
	case ToolChoiceNone:
		cfg.Mode = "NONE"
	case ToolChoiceRequired:
		cfg.Mode = "ANY"
	default:
		cfg.Mode = "ANY"
		cfg.AllowedFunctionNames = []string{choice}
	}
	return &geminiToolConfig{FunctionCallingConfig: cfg}
}

// --- response normalization ---

func normalizeGeminiResponse(wire geminiResponse, model string, raw []byte) (*Response, error) {
	if len(wire.Candidates) == 0 {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "response carries no candidates"},
			Provider: ProviderGemini,
		}
	}
	candidate := wire.Candidates[0]

	msg := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := string(part.FunctionCall.Args)
			if args == "" {
				args = "{}"
			}
			if !json.Valid([]byte(args)) {
				return nil, malformedArguments(part.FunctionCall.Name, args, nil)
			}
			// Gemini issues no call ids; synthesize a stable one so the
			// caller can link its tool message back to this call.
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   "call_" + uuid.New().String()[:8],
				Type: "function",
				Function: FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: args,
				},
			})
		default:
			text.WriteString(part.Text)
		}
	}
	msg.Content = text.String()
	if err := msg.Validate(); err != nil {
		return nil, &ProtocolError{
			SDKError: SDKError{Message: "response message is empty", Cause: err},
			Provider: ProviderGemini,
		}
	}

	respModel := wire.ModelVersion
	if respModel == "" {
		respModel = model
	}
	finish := geminiFinishReason(candidate.FinishReason)
	if len(msg.ToolCalls) > 0 {
		// Gemini reports STOP even when the turn ends in function calls.
		finish = FinishToolCalls
	}

	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        respModel,
		Provider:     ProviderGemini,
		Message:      msg,
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  wire.UsageMetadata.TotalTokenCount,
		},
		Raw: json.RawMessage(raw),
	}, nil
}

func geminiFinishReason(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return FinishContentFilter
	default:
		return FinishOther
	}
}

func readGeminiError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	retryAfter := parseRetryAfter(resp.Header)
	if err != nil {
		return ErrorFromStatusCode(resp.StatusCode, resp.Status, ProviderGemini, "", retryAfter)
	}
	var wire geminiErrorResponse
	if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Error.Message != "" {
		return ErrorFromStatusCode(resp.StatusCode, wire.Error.Message, ProviderGemini, wire.Error.Status, retryAfter)
	}
	return ErrorFromStatusCode(resp.StatusCode, string(body), ProviderGemini, "", retryAfter)
}
