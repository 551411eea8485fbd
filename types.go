package cachedllm

import (
	"encoding/json"
	"fmt"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the fundamental unit of conversation. The same type carries all
// four roles; which fields are meaningful depends on the role:
//
//   - system/user: Content only
//   - assistant: Content (may be empty) and/or ToolCalls
//   - tool: Content, ToolCallID, and Name
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user Message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage creates a tool result Message answering the tool call
// identified by toolCallID. name is the function name that was invoked.
func ToolMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Name:       name,
	}
}

// Validate checks the per-message field requirements.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		return nil
	case RoleAssistant:
		if m.Content == "" && len(m.ToolCalls) == 0 {
			return &ValidationError{SDKError: SDKError{
				Message: "assistant message must carry content or tool calls",
			}}
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == "" || tc.Function.Name == "" {
				return &ValidationError{SDKError: SDKError{
					Message: "assistant tool call must carry an id and a function name",
				}}
			}
		}
		return nil
	case RoleTool:
		if m.ToolCallID == "" {
			return &ValidationError{SDKError: SDKError{
				Message: "tool message must carry tool_call_id",
			}}
		}
		if m.Name == "" {
			return &ValidationError{SDKError: SDKError{
				Message: "tool message must carry the invoked function name",
			}}
		}
		return nil
	default:
		return &ValidationError{SDKError: SDKError{
			Message: fmt.Sprintf("unknown message role %q", m.Role),
		}}
	}
}

// validateConversation checks every message and the tool linkage invariant:
// a tool message must answer a tool call emitted by an assistant message
// earlier in the same sequence.
func validateConversation(messages []Message) error {
	if len(messages) == 0 {
		return &ValidationError{SDKError: SDKError{Message: "conversation is empty"}}
	}
	seen := make(map[string]bool)
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return err
		}
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				seen[tc.ID] = true
			}
		case RoleTool:
			if !seen[m.ToolCallID] {
				return &ValidationError{SDKError: SDKError{
					Message: fmt.Sprintf("message %d answers unknown tool call %q", i, m.ToolCallID),
				}}
			}
		}
	}
	return nil
}

// ToolCall is a model-issued request to invoke a named function.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the invoked function and carries its arguments as a
// JSON-encoded string, exactly as assembled from the provider response.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParseArguments decodes the arguments string into a structured value.
// The raw string is kept verbatim on the call; parsing is on demand.
func (f FunctionCall) ParseArguments() (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil {
		return nil, &MalformedToolArgumentsError{
			SDKError: SDKError{
				Message: fmt.Sprintf("tool %q arguments are not valid JSON", f.Name),
				Cause:   err,
			},
			ToolName: f.Name,
			Raw:      f.Arguments,
		}
	}
	return args, nil
}

// Tool choice policies. A tool name may be passed instead to require one
// specific tool.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// Request is the canonical chat-completion request handed to an adapter.
type Request struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Tools       []ToolSpec        `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishOther         FinishReason = "other"
)

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Response is the normalized result of one provider call. Message always has
// RoleAssistant.
type Response struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Provider     string          `json:"provider"`
	Message      Message         `json:"message"`
	FinishReason FinishReason    `json:"finish_reason"`
	Usage        Usage           `json:"usage"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Text returns the assistant message content.
func (r *Response) Text() string {
	return r.Message.Content
}

// ToolCalls returns the tool calls issued by the assistant message, or nil.
func (r *Response) ToolCalls() []ToolCall {
	return r.Message.ToolCalls
}
