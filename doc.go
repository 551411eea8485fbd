// Package cachedllm provides a unified chat-completion client across the
// OpenAI, Anthropic, and Gemini wire protocols. One request and response
// surface — messages, tool declarations, tool-choice policy — is translated
// per provider by a wire adapter, and every provider's reply is normalized
// back into the same assistant message shape, including tool calls.
//
// # Layers
//
//   - Message model (types.go): roles, tool calls, requests, responses.
//   - Tool schema adapter (toolspec.go): one canonical declaration format,
//     translated to each provider's dialect.
//   - Provider adapters (openai.go, anthropic.go, gemini.go): raw wire
//     codecs, one blocking round trip per Send, no retries.
//   - Client facade (client.go): lifecycle, validation, middleware.
//   - Generate (generate.go): an optional tool-execution loop on top.
//
// # Quick start
//
//	client, err := cachedllm.NewClient(cachedllm.ProviderOpenAI)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	msg, err := client.Invoke(ctx, "gpt-5-mini", []cachedllm.Message{
//		cachedllm.UserMessage("Say hello in exactly three words."),
//	})
//
// # Tool calling
//
// Declare tools once in the canonical format and offer them on any provider:
//
//	weather := cachedllm.NewToolSpec("get_weather",
//		"Get the current weather for a location",
//		map[string]any{
//			"type": "object",
//			"properties": map[string]any{
//				"location": map[string]any{"type": "string"},
//			},
//			"required":             []string{"location"},
//			"additionalProperties": false,
//		})
//
//	msg, err := client.Invoke(ctx, "claude-sonnet-4-0", messages,
//		cachedllm.WithTools(weather),
//		cachedllm.WithToolChoice(cachedllm.ToolChoiceAuto))
//
// When the assistant answers with tool calls, execute them and append a
// ToolMessage per call, then invoke again. Generate automates that loop.
//
// Retries are opt-in: wrap calls with Retry, or register RetryMiddleware on
// the client. The core client and the adapters never retry on their own.
package cachedllm
