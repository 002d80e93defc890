package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/auditrag/internal/util"
)

// OpenAIProvider implements the Provider interface for OpenAI and Azure OpenAI chat models
type OpenAIProvider struct {
	client *openai.Client
	config Config
	azure  bool
}

// NewOpenAIProvider creates a provider for api.openai.com or an OpenAI-compatible endpoint
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = util.NewHTTPClient(0, config.HTTPProxy, config.HTTPSProxy, config.NoProxy)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewAzureOpenAIProvider creates a provider for an Azure OpenAI deployment.
// config.Model is the deployment name and config.BaseURL the resource endpoint.
func NewAzureOpenAIProvider(config Config) (*OpenAIProvider, error) {
	clientConfig, err := azureClientConfig(config)
	if err != nil {
		return nil, err
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		azure:  true,
	}, nil
}

func azureClientConfig(config Config) (openai.ClientConfig, error) {
	if config.APIKey == "" {
		return openai.ClientConfig{}, fmt.Errorf("Azure OpenAI API key is required")
	}
	if config.BaseURL == "" {
		return openai.ClientConfig{}, fmt.Errorf("Azure OpenAI endpoint is required")
	}
	if config.Model == "" {
		return openai.ClientConfig{}, fmt.Errorf("Azure OpenAI deployment name is required")
	}

	clientConfig := openai.DefaultAzureConfig(config.APIKey, config.BaseURL)
	if config.APIVersion != "" {
		clientConfig.APIVersion = config.APIVersion
	}
	deployment := config.Model
	clientConfig.AzureModelMapperFunc = func(string) string {
		return deployment
	}
	clientConfig.HTTPClient = util.NewHTTPClient(0, config.HTTPProxy, config.HTTPSProxy, config.NoProxy)

	return clientConfig, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	if p.azure {
		return "azure"
	}
	return "openai"
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	// Listing models is the lightest authenticated call on both APIs
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Complete runs a chat completion with the system and grounding prompts
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokensOr(req.MaxTokens, p.config.MaxTokens),
		Temperature: openAITemperature(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.Name(), err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrNoChoices)
	}

	text, err := finishCompletion(resp.Choices[0].Message.Content, req, p.config.StrictCitations)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}

	return &CompletionResponse{
		Text:       text,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
