package llmclient

import (
	"fmt"

	"go.uber.org/zap"
)

// Keys are what config.LLMConfig.DefaultProvider and Run.LLMProvider are
// expected to hold; anything else is rejected rather than silently treated
// as an OpenAI-compatible endpoint, since this sidecar (unlike the
// multi-provider framework it's grounded on) only ships three adapters.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// ProviderKeys carries the per-provider API keys a NewClient call needs.
// Only the key matching provider is read.
type ProviderKeys struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	BaseURL         string // overrides the provider's default endpoint, mainly for tests
}

// NewClient builds the concrete Client for provider, the way the teacher's
// llm/factory/factory.go dispatches on a provider name string to pick a
// constructor.
func NewClient(provider string, keys ProviderKeys, logger *zap.Logger) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		if keys.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but no API key configured")
		}
		return NewAnthropicClient(keys.AnthropicAPIKey, keys.BaseURL, logger), nil
	case ProviderOpenAI:
		if keys.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured")
		}
		return NewOpenAIClient(keys.OpenAIAPIKey, keys.BaseURL, logger), nil
	case ProviderGemini:
		if keys.GoogleAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but no API key configured")
		}
		return NewGeminiClient(keys.GoogleAPIKey, keys.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
