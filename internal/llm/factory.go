package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/auditrag/internal/model"
)

// NewProvider creates a generative provider based on configuration.
// An empty provider name disables generation and returns nil, nil.
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "azure":
		return NewAzureOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, azure, anthropic, ollama)", config.Provider)
	}
}

// NewEmbedder creates an embedding client based on configuration
func NewEmbedder(config Config) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIEmbedder(config)

	case "azure":
		return NewAzureOpenAIEmbedder(config)

	case "ollama":
		return NewOllamaEmbedder(config)

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, azure, ollama)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(c model.LLMConfig, proxy model.HTTPConfig) Config {
	return Config{
		Provider:        c.Provider,
		Model:           c.Model,
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		APIVersion:      c.APIVersion,
		Timeout:         c.Timeout,
		MaxTokens:       c.MaxTokens,
		StrictCitations: c.StrictCitations,
		HTTPProxy:       proxy.HTTPProxy,
		HTTPSProxy:      proxy.HTTPSProxy,
		NoProxy:         proxy.NoProxy,
	}
}

// EmbeddingConfigFromModel converts model.EmbeddingConfig to llm.Config
func EmbeddingConfigFromModel(c model.EmbeddingConfig, proxy model.HTTPConfig) Config {
	return Config{
		Provider:   c.Provider,
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		APIVersion: c.APIVersion,
		Timeout:    c.Timeout,
		HTTPProxy:  proxy.HTTPProxy,
		HTTPSProxy: proxy.HTTPSProxy,
		NoProxy:    proxy.NoProxy,
	}
}
