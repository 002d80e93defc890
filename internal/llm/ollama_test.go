package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaProvider_Complete_Success(t *testing.T) {
	var captured ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)

		resp := ollamaResponse{
			Model:           "llama3.1",
			Response:        "A política exige MFA (politica-acesso.pdf).",
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       20,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{
		BaseURL:         server.URL,
		Model:           "llama3.1",
		Timeout:         5,
		StrictCitations: true,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		System:         "sys",
		Prompt:         "prompt",
		MaxTokens:      500,
		AllowedSources: []string{"politica-acesso.pdf"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != "A política exige MFA (politica-acesso.pdf)." {
		t.Errorf("Unexpected text: %s", resp.Text)
	}
	if resp.TokensUsed != 30 {
		t.Errorf("Expected 30 tokens used, got %d", resp.TokensUsed)
	}
	if captured.Stream {
		t.Error("Expected non-streaming request")
	}
	if captured.System != "sys" {
		t.Errorf("Expected system prompt to be forwarded, got %q", captured.System)
	}
	if captured.Options.NumPredict != 500 {
		t.Errorf("Expected num_predict 500, got %d", captured.Options.NumPredict)
	}
}

func TestOllamaProvider_SendsZeroTemperature(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "ok", Done: true})
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "m"})
	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	options, _ := raw["options"].(map[string]any)
	temp, ok := options["temperature"]
	if !ok {
		t.Fatal("Expected temperature to be present")
	}
	if temp != float64(0) {
		t.Errorf("Expected temperature 0, got %v", temp)
	}
}

func TestOllamaProvider_Complete_ModelRequired(t *testing.T) {
	provider, _ := NewOllamaProvider(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "model must be specified") {
		t.Errorf("Expected model error, got %v", err)
	}
}

func TestOllamaProvider_Complete_CitationLeak(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "Consulte contrato-2019.docx.", Done: true})
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "m", StrictCitations: true})
	_, err := provider.Complete(context.Background(), CompletionRequest{
		Prompt:         "p",
		AllowedSources: []string{"politica-acesso.pdf"},
	})
	if !errors.Is(err, ErrCitationLeak) {
		t.Errorf("Expected ErrCitationLeak, got %v", err)
	}
}

func TestOllamaProvider_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ollamaError{Error: "model 'llama9' not found"})
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama9"})
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected error to carry server message, got %v", err)
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "m"})
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected provider to be available")
	}

	down, _ := NewOllamaProvider(Config{BaseURL: "http://127.0.0.1:1", Model: "m"})
	if down.IsAvailable(context.Background()) {
		t.Error("Expected unreachable provider to be unavailable")
	}
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("Expected path /api/embeddings, got %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("Unexpected model %s", req.Model)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.5, -0.25}})
	}))
	defer server.Close()

	embedder, err := NewOllamaEmbedder(Config{BaseURL: server.URL, Model: "nomic-embed-text"})
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	vec, err := embedder.Embed(context.Background(), "pergunta")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != -0.25 {
		t.Errorf("Unexpected vector %v", vec)
	}
}

func TestOllamaEmbedder_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer server.Close()

	embedder, _ := NewOllamaEmbedder(Config{BaseURL: server.URL, Model: "m"})
	if _, err := embedder.Embed(context.Background(), "q"); !errors.Is(err, ErrNoEmbedding) {
		t.Errorf("Expected ErrNoEmbedding, got %v", err)
	}
}
