package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/cache"
	"github.com/ppiankov/auditrag/internal/util"
)

// ErrNoEmbedding is returned when the service answers without a vector
var ErrNoEmbedding = errors.New("no embedding returned")

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	IsAvailable(ctx context.Context) bool
}

// OpenAIEmbedder calls the OpenAI or Azure OpenAI embeddings endpoint
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIEmbedder creates an embedder for api.openai.com or a compatible endpoint
func NewOpenAIEmbedder(config Config) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = util.NewHTTPClient(0, config.HTTPProxy, config.HTTPSProxy, config.NoProxy)

	return newOpenAIEmbedder(openai.NewClientWithConfig(clientConfig), config), nil
}

// NewAzureOpenAIEmbedder creates an embedder for an Azure OpenAI embedding deployment
func NewAzureOpenAIEmbedder(config Config) (*OpenAIEmbedder, error) {
	clientConfig, err := azureClientConfig(config)
	if err != nil {
		return nil, err
	}
	return newOpenAIEmbedder(openai.NewClientWithConfig(clientConfig), config), nil
}

func newOpenAIEmbedder(client *openai.Client, config Config) *OpenAIEmbedder {
	model := config.Model
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{client: client, model: model, timeout: timeout}
}

// Embed returns the embedding of text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API error: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// IsAvailable checks the credentials with a lightweight call
func (e *OpenAIEmbedder) IsAvailable(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// Model returns the embedding model or deployment name
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// OllamaEmbedder calls Ollama's /api/embeddings endpoint
type OllamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder backed by a local Ollama
func NewOllamaEmbedder(config Config) (*OllamaEmbedder, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("ollama embedding model must be specified (e.g., nomic-embed-text)")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OllamaEmbedder{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      config.Model,
		httpClient: util.NewHTTPClient(timeout, config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
	}, nil
}

// Embed returns the embedding of text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: e.model, Prompt: text}
	if err := postJSON(ctx, e.httpClient, e.baseURL+"/api/embeddings", req, &resp, nil); err != nil {
		return nil, fmt.Errorf("ollama embeddings error: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}

	vector := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// IsAvailable checks if Ollama is running
func (e *OllamaEmbedder) IsAvailable(ctx context.Context) bool {
	return ollamaReachable(ctx, e.httpClient, e.baseURL)
}

// Model returns the embedding model name
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// CachedEmbedder memoizes embeddings so repeated questions skip the API
type CachedEmbedder struct {
	inner  Embedder
	cache  cache.Cache
	ttl    time.Duration
	model  string
	logger *zap.Logger
}

// NewCachedEmbedder wraps inner with cache. model namespaces the keys.
func NewCachedEmbedder(inner Embedder, c cache.Cache, model string, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: c, ttl: ttl, model: model, logger: logger}
}

// Embed returns a cached vector or computes and stores a new one
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key("embedding", e.model, text)

	if raw, ok := e.cache.Get(key); ok {
		var vector []float32
		if err := json.Unmarshal(raw, &vector); err == nil && len(vector) > 0 {
			return vector, nil
		}
		_ = e.cache.Delete(key)
	}

	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(vector)
	if err == nil {
		err = e.cache.Set(key, raw, e.ttl)
	}
	if err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}

	return vector, nil
}

// IsAvailable delegates to the wrapped embedder
func (e *CachedEmbedder) IsAvailable(ctx context.Context) bool {
	return e.inner.IsAvailable(ctx)
}
