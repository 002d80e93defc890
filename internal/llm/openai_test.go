package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      "chatcmpl-123",
		Object:  "chat.completion",
		Created: 1677652288,
		Model:   "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: openai.Usage{TotalTokens: 100},
	}
}

func TestOpenAIProvider_Complete_Success(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(chatResponse("  A senha deve ter 12 caracteres (politica-senhas.pdf).  "))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{
		APIKey:          "test-key",
		BaseURL:         server.URL,
		Model:           "gpt-4o-mini",
		Timeout:         5,
		StrictCitations: true,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		System:         "system",
		Prompt:         "prompt",
		Temperature:    0,
		MaxTokens:      500,
		AllowedSources: []string{"politica-senhas.pdf"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != "A senha deve ter 12 caracteres (politica-senhas.pdf)." {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if resp.TokensUsed != 100 {
		t.Errorf("Unexpected token usage: %d", resp.TokensUsed)
	}

	if captured["max_tokens"] != float64(500) {
		t.Errorf("Expected max_tokens 500, got %v", captured["max_tokens"])
	}
	temp, ok := captured["temperature"].(float64)
	if !ok {
		t.Fatalf("Expected temperature to be sent, got %v", captured["temperature"])
	}
	if temp <= 0 || temp > 1e-30 {
		t.Errorf("Expected temperature to be effectively zero, got %v", temp)
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("Expected system and user messages, got %d", len(msgs))
	}
}

func TestOpenAIProvider_Complete_CitationLeak(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("Veja manual-rh.pdf para detalhes."))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL, StrictCitations: true})

	_, err := provider.Complete(context.Background(), CompletionRequest{
		Prompt:         "p",
		AllowedSources: []string{"politica-senhas.pdf"},
	})
	if !errors.Is(err, ErrCitationLeak) {
		t.Fatalf("Expected ErrCitationLeak, got %v", err)
	}
}

func TestOpenAIProvider_Complete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse("")
		resp.Choices = nil
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL})
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("Expected ErrNoChoices, got %v", err)
	}
}

func TestOpenAIProvider_Complete_BlankText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("   "))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL})
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("Expected ErrEmptyCompletion, got %v", err)
	}
}

func TestOpenAIProvider_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "Internal Server Error", "type": "server_error"}}`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOpenAIProvider_Complete_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit exceeded", "type": "rate_limit_error"}}`))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOpenAIProvider_Complete_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{malformed json`))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("Expected error for malformed JSON, got nil")
	}
}

func TestOpenAIProvider_Complete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 1})

	// The caller's shorter deadline wins over the provider timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := provider.Complete(ctx, CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestOpenAIProvider_IsAvailable(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy && r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"data": [{"id": "gpt-4o-mini"}]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be true")
	}

	healthy = false
	if provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be false on error")
	}
}

func TestAzureOpenAIProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-35-turbo/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2023-05-15" {
			t.Errorf("Unexpected api-version %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("api-key") != "azure-key" {
			t.Errorf("Expected api-key header, got %q", r.Header.Get("api-key"))
		}
		_ = json.NewEncoder(w).Encode(chatResponse("ok"))
	}))
	defer server.Close()

	provider, err := NewAzureOpenAIProvider(Config{
		Provider:   "azure",
		APIKey:     "azure-key",
		BaseURL:    server.URL,
		Model:      "gpt-35-turbo",
		APIVersion: "2023-05-15",
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if provider.Name() != "azure" {
		t.Errorf("Expected name azure, got %s", provider.Name())
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Unexpected text %q", resp.Text)
	}
}

func TestAzureOpenAIProvider_RequiresEndpointAndDeployment(t *testing.T) {
	if _, err := NewAzureOpenAIProvider(Config{APIKey: "k", Model: "d"}); err == nil {
		t.Error("Expected error without endpoint")
	}
	if _, err := NewAzureOpenAIProvider(Config{APIKey: "k", BaseURL: "https://x.openai.azure.com"}); err == nil {
		t.Error("Expected error without deployment")
	}
	_, err := NewAzureOpenAIProvider(Config{BaseURL: "https://x.openai.azure.com", Model: "d"})
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("Expected API key error, got %v", err)
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Expected path /embeddings, got %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "text-embedding-ada-002" {
			t.Errorf("Unexpected model %v", req["model"])
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-ada-002"}`))
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(Config{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	vec, err := embedder.Embed(context.Background(), "O que diz a política de senhas?")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 || vec[1] != float32(0.2) {
		t.Errorf("Unexpected vector %v", vec)
	}
}

func TestOpenAIEmbedder_EmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer server.Close()

	embedder, _ := NewOpenAIEmbedder(Config{APIKey: "k", BaseURL: server.URL})
	if _, err := embedder.Embed(context.Background(), "q"); !errors.Is(err, ErrNoEmbedding) {
		t.Fatalf("Expected ErrNoEmbedding, got %v", err)
	}
}
