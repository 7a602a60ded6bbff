package config

import (
	"strings"
	"time"
)

// AIConfig holds the model provider settings.
type AIConfig struct {
	Provider string // "openai", "anthropic", "ollama" or "deepseek"
	Model    string // model name, optionally "provider:model-name"

	OpenAIAPIKey     string
	AnthropicAPIKey  string
	DeepSeekAPIKey   string
	OpenAIBaseURL    string // custom OpenAI-compatible endpoint (optional)
	AnthropicBaseURL string // messages endpoint override, e.g. for a proxy (optional)
	OllamaBaseURL    string // default: http://localhost:11434

	// RequestTimeout bounds a single provider call. Local models may need more.
	RequestTimeout time.Duration
	// MaxTurns caps provider calls per user prompt.
	MaxTurns  int
	MaxTokens int
}

// AIProvider constants
const (
	AIProviderAnthropic = "anthropic"
	AIProviderOpenAI    = "openai"
	AIProviderOllama    = "ollama"
	AIProviderDeepSeek  = "deepseek"
)

// Default models per provider
const (
	DefaultAIModelOpenAI    = "gpt-3.5-turbo-1106"
	DefaultAIModelAnthropic = "claude-3-5-haiku-latest"
	DefaultAIModelOllama    = "llama3.1"
	DefaultAIModelDeepSeek  = "deepseek-chat"
	DefaultOllamaBaseURL    = "http://localhost:11434"
	DefaultDeepSeekBaseURL  = "https://api.deepseek.com/chat/completions"
	DefaultMaxTurns         = 10
	DefaultRequestTimeout   = 2 * time.Minute
)

// NewDefaultAIConfig returns an AIConfig with sensible defaults
func NewDefaultAIConfig() AIConfig {
	return AIConfig{
		Provider:       AIProviderOpenAI,
		RequestTimeout: DefaultRequestTimeout,
		MaxTurns:       DefaultMaxTurns,
	}
}

// KnownProvider reports whether provider names a supported backend.
func KnownProvider(provider string) bool {
	switch provider {
	case AIProviderOpenAI, AIProviderAnthropic, AIProviderOllama, AIProviderDeepSeek:
		return true
	}
	return false
}

// GetAPIKeyForProvider returns the API key for the specified provider
func (c *AIConfig) GetAPIKeyForProvider(provider string) string {
	switch provider {
	case AIProviderAnthropic:
		return c.AnthropicAPIKey
	case AIProviderOpenAI:
		return c.OpenAIAPIKey
	case AIProviderDeepSeek:
		return c.DeepSeekAPIKey
	}
	return ""
}

// GetBaseURLForProvider returns the base URL for the specified provider
func (c *AIConfig) GetBaseURLForProvider(provider string) string {
	switch provider {
	case AIProviderOllama:
		if c.OllamaBaseURL != "" {
			return c.OllamaBaseURL
		}
		return DefaultOllamaBaseURL
	case AIProviderOpenAI:
		return c.OpenAIBaseURL // empty uses the default OpenAI URL
	case AIProviderAnthropic:
		return c.AnthropicBaseURL
	case AIProviderDeepSeek:
		return DefaultDeepSeekBaseURL
	}
	return ""
}

// ParseModelString parses a model string in "provider:model-name" format.
// Without a known prefix, the provider is empty.
func ParseModelString(model string) (provider, modelName string) {
	for _, p := range []string{AIProviderAnthropic, AIProviderOpenAI, AIProviderDeepSeek, AIProviderOllama} {
		if rest, ok := strings.CutPrefix(model, p+":"); ok && rest != "" {
			return p, rest
		}
	}
	return "", model
}

// GetProvider returns the provider, honouring a "provider:" prefix on Model.
func (c *AIConfig) GetProvider() string {
	if p, _ := ParseModelString(c.Model); p != "" {
		return p
	}
	if c.Provider == "" {
		return AIProviderOpenAI
	}
	return c.Provider
}

// GetModel returns the model name without any provider prefix, using the
// provider default when unset.
func (c *AIConfig) GetModel() string {
	if _, name := ParseModelString(c.Model); name != "" {
		return name
	}
	switch c.GetProvider() {
	case AIProviderAnthropic:
		return DefaultAIModelAnthropic
	case AIProviderOllama:
		return DefaultAIModelOllama
	case AIProviderDeepSeek:
		return DefaultAIModelDeepSeek
	default:
		return DefaultAIModelOpenAI
	}
}
