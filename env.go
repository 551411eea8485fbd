package cachedllm

import (
	"github.com/joho/godotenv"
)

// apiKeyEnvVar returns the environment variable holding a provider's API
// key. Unknown providers map to the empty string; NewClient rejects them
// before the lookup matters.
func apiKeyEnvVar(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return openAIKeyEnvVar
	case ProviderAnthropic:
		return anthropicKeyEnvVar
	case ProviderGemini:
		return geminiKeyEnvVar
	}
	return ""
}

// NewClientFromEnv creates a client after loading a .env file from the
// working directory when one exists. Missing files are not an error, and a
// key that is still absent surfaces on the first call, like NewClient.
func NewClientFromEnv(provider string, opts ...ClientOption) (*Client, error) {
	_ = godotenv.Load()
	return NewClient(provider, opts...)
}
