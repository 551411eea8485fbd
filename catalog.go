package cachedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     *int     `json:"max_output,omitempty"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int { return &v }

// Models is the built-in model catalog. It informs defaults (Anthropic
// max_tokens, per-provider default models); adapters never gate requests on
// it — an unknown model goes to the provider, which rejects it itself.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-5", Provider: ProviderOpenAI, DisplayName: "GPT-5",
		ContextWindow: 400000, MaxOutput: intPtr(128000),
		SupportsTools: true,
	},
	{
		ID: "gpt-5-mini", Provider: ProviderOpenAI, DisplayName: "GPT-5 Mini",
		ContextWindow: 400000, MaxOutput: intPtr(128000),
		SupportsTools: true,
		Aliases:       []string{"gpt5-mini"},
	},

	// Anthropic
	{
		ID: "claude-opus-4-1", Provider: ProviderAnthropic, DisplayName: "Claude Opus 4.1",
		ContextWindow: 200000, MaxOutput: intPtr(32000),
		SupportsTools: true,
		Aliases:       []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-0", Provider: ProviderAnthropic, DisplayName: "Claude Sonnet 4",
		ContextWindow: 200000, MaxOutput: intPtr(64000),
		SupportsTools: true,
		Aliases:       []string{"sonnet", "claude-sonnet"},
	},

	// Gemini
	{
		ID: "gemini-2.5-pro", Provider: ProviderGemini, DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, MaxOutput: intPtr(65536),
		SupportsTools: true,
		Aliases:       []string{"gemini-pro"},
	},
	{
		ID: "gemini-2.5-flash", Provider: ProviderGemini, DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, MaxOutput: intPtr(65536),
		SupportsTools: true,
		Aliases:       []string{"gemini-flash"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the first catalog entry for a provider, or nil when
// the provider has none.
func DefaultModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}
