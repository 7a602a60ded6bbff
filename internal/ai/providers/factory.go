package providers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rcourtman/bashmate/internal/config"
)

// NewFromConfig creates a Provider based on the AIConfig settings
func NewFromConfig(cfg *config.AIConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("AI config is nil")
	}

	provider := cfg.GetProvider()
	model := cfg.GetModel()

	switch provider {
	case config.AIProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key is required")
		}
		return NewAnthropicClientWithBaseURL(cfg.AnthropicAPIKey, model, cfg.GetBaseURLForProvider(provider), cfg.RequestTimeout), nil

	case config.AIProviderOpenAI:
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		c := NewOpenAIClient(cfg.OpenAIAPIKey, model, cfg.GetBaseURLForProvider(provider))
		setTimeout(c.client, cfg.RequestTimeout)
		return c, nil

	case config.AIProviderOllama:
		c := NewOllamaClient(model, cfg.GetBaseURLForProvider(provider))
		setTimeout(c.client, cfg.RequestTimeout)
		return c, nil

	case config.AIProviderDeepSeek:
		if cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("DeepSeek API key is required")
		}
		// DeepSeek uses OpenAI-compatible API
		c := NewOpenAIClient(cfg.DeepSeekAPIKey, model, cfg.GetBaseURLForProvider(provider))
		setTimeout(c.client, cfg.RequestTimeout)
		return c, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// setTimeout overrides a client's default timeout when one is configured.
func setTimeout(c *http.Client, d time.Duration) {
	if d > 0 {
		c.Timeout = d
	}
}
