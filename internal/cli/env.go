package cli

import (
	"strings"

	"github.com/ppiankov/auditrag/internal/model"
)

// applyEnvFallbacks reads the environment names used by existing deployments.
// Keys and endpoints only fill empty settings; the Azure API version and
// deployment names replace the built-in defaults.
func applyEnvFallbacks(cfg *model.Config, getenv func(string) string) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		*dst = strings.TrimSpace(getenv(key))
	}

	applyProviderEnv(strings.ToLower(cfg.LLM.Provider), &cfg.LLM.APIKey, &cfg.LLM.BaseURL, fill)
	applyProviderEnv(strings.ToLower(cfg.Embedding.Provider), &cfg.Embedding.APIKey, &cfg.Embedding.BaseURL, fill)

	override := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	if strings.EqualFold(cfg.LLM.Provider, "azure") {
		override(&cfg.LLM.Model, "AZURE_OPENAI_DEPLOYMENT_CHAT")
		override(&cfg.LLM.APIVersion, "AZURE_OPENAI_API_VERSION")
	}
	if strings.EqualFold(cfg.Embedding.Provider, "azure") {
		override(&cfg.Embedding.Model, "AZURE_OPENAI_DEPLOYMENT_EMBEDDING")
		override(&cfg.Embedding.APIVersion, "AZURE_OPENAI_API_VERSION")
	}
}

func applyProviderEnv(provider string, apiKey, baseURL *string, fill func(*string, string)) {
	switch provider {
	case "azure":
		fill(apiKey, "AZURE_OPENAI_API_KEY")
		fill(baseURL, "AZURE_OPENAI_ENDPOINT")
	case "openai":
		fill(apiKey, "OPENAI_API_KEY")
	case "anthropic", "claude":
		fill(apiKey, "ANTHROPIC_API_KEY")
	case "ollama":
		fill(baseURL, "OLLAMA_BASE_URL")
	}
}
