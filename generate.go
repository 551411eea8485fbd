package cachedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ActiveTool pairs a tool declaration with an executable handler. A nil
// Execute makes the tool passive: its calls are returned to the caller
// instead of being run.
type ActiveTool struct {
	Spec    ToolSpec
	Execute func(ctx context.Context, args json.RawMessage) (any, error)
}

// ToolResult is produced by executing a tool.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    any    `json:"content"`
	IsError    bool   `json:"is_error"`
}

// GenerateOptions configures a high-level Generate call.
type GenerateOptions struct {
	Client        *Client
	Model         string
	Prompt        string    // simple text prompt (mutually exclusive with Messages)
	Messages      []Message // full conversation (mutually exclusive with Prompt)
	System        string
	Tools         []ActiveTool
	ToolChoice    string
	MaxToolRounds int // default 1 when tools are present
	Temperature   *float64
	MaxTokens     *int
	RetryPolicy   *RetryPolicy // nil means no retries
}

// StepResult tracks a single step in a multi-step generation.
type StepResult struct {
	Text         string       `json:"text"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult `json:"tool_results,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	Response     Response     `json:"response"`
}

// GenerateResult is returned by Generate.
type GenerateResult struct {
	Text         string       `json:"text"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult `json:"tool_results,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	TotalUsage   Usage        `json:"total_usage"`
	Steps        []StepResult `json:"steps"`
	Response     Response     `json:"response"`
}

// Generate wraps Client.Complete with a bounded tool-execution loop and an
// optional caller-supplied retry policy. Tool calls with Execute handlers
// are run, answered with tool messages, and fed back until the model stops
// calling tools or the round budget is spent.
func Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Client == nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "generate requires a client",
		}}
	}
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "cannot specify both prompt and messages",
		}}
	}

	messages := opts.Messages
	if opts.Prompt != "" {
		messages = []Message{UserMessage(opts.Prompt)}
	}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	maxRounds := opts.MaxToolRounds
	if maxRounds == 0 && len(opts.Tools) > 0 {
		maxRounds = 1
	}

	specs := make([]ToolSpec, 0, len(opts.Tools))
	toolMap := make(map[string]ActiveTool, len(opts.Tools))
	hasActiveTools := false
	for _, t := range opts.Tools {
		specs = append(specs, t.Spec)
		toolMap[t.Spec.Function.Name] = t
		if t.Execute != nil {
			hasActiveTools = true
		}
	}

	var steps []StepResult
	var totalUsage Usage
	conversation := make([]Message, len(messages))
	copy(conversation, messages)

	for round := 0; ; round++ {
		req := Request{
			Model:       opts.Model,
			Messages:    conversation,
			Tools:       specs,
			ToolChoice:  opts.ToolChoice,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		}

		var resp *Response
		var err error
		if opts.RetryPolicy != nil {
			resp, err = Retry(ctx, *opts.RetryPolicy, func(ctx context.Context) (*Response, error) {
				return opts.Client.Complete(ctx, req)
			})
		} else {
			resp, err = opts.Client.Complete(ctx, req)
		}
		if err != nil {
			return nil, err
		}

		toolCalls := resp.ToolCalls()
		var toolResults []ToolResult
		if len(toolCalls) > 0 && hasActiveTools {
			toolResults = executeToolsConcurrently(ctx, toolMap, toolCalls)
		}

		step := StepResult{
			Text:         resp.Text(),
			ToolCalls:    toolCalls,
			ToolResults:  toolResults,
			FinishReason: resp.FinishReason,
			Usage:        resp.Usage,
			Response:     *resp,
		}
		steps = append(steps, step)
		totalUsage = totalUsage.Add(resp.Usage)

		if len(toolCalls) == 0 || !hasActiveTools || round >= maxRounds {
			break
		}

		conversation = append(conversation, resp.Message)
		for _, result := range toolResults {
			content, merr := json.Marshal(result.Content)
			if merr != nil {
				content = []byte(fmt.Sprintf("%q", fmt.Sprint(result.Content)))
			}
			conversation = append(conversation, ToolMessage(result.ToolCallID, result.Name, string(content)))
		}
	}

	lastStep := steps[len(steps)-1]
	return &GenerateResult{
		Text:         lastStep.Text,
		ToolCalls:    lastStep.ToolCalls,
		ToolResults:  lastStep.ToolResults,
		FinishReason: lastStep.FinishReason,
		Usage:        lastStep.Usage,
		TotalUsage:   totalUsage,
		Steps:        steps,
		Response:     lastStep.Response,
	}, nil
}

// executeToolsConcurrently runs all tool calls in parallel, preserving the
// call order in the result slice.
func executeToolsConcurrently(ctx context.Context, toolMap map[string]ActiveTool, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc ToolCall) {
			defer wg.Done()

			result := ToolResult{ToolCallID: tc.ID, Name: tc.Function.Name}
			tool, ok := toolMap[tc.Function.Name]
			if !ok || tool.Execute == nil {
				result.Content = fmt.Sprintf("unknown tool: %s", tc.Function.Name)
				result.IsError = true
				results[idx] = result
				return
			}

			output, err := tool.Execute(ctx, json.RawMessage(tc.Function.Arguments))
			if err != nil {
				result.Content = fmt.Sprintf("tool execution error: %v", err)
				result.IsError = true
				results[idx] = result
				return
			}

			result.Content = output
			results[idx] = result
		}(i, call)
	}

	wg.Wait()
	return results
}
