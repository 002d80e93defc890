package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/auditrag/internal/model"
)

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleepFunc
	sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { sleepFunc = orig })
	return &slept
}

func TestAsk_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != askPath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question != "Qual a política de senhas?" {
			t.Errorf("unexpected body %+v (%v)", req, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"answer":"12 caracteres","sources":["politica.pdf (p. 3)"],"confidence":"ALTA","confidence_score":"92.00%","documents_used":1,"metadata":{"timestamp":"2026-03-01T09:30:00Z","model":"gpt","rate_limit_remaining":9}}`)
	}))
	defer server.Close()

	c := New(server.URL+"/", Options{Timeout: 5 * time.Second})
	resp, err := c.Ask(context.Background(), "Qual a política de senhas?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Confidence != "ALTA" || resp.DocumentsUsed != 1 || resp.Metadata.RateLimitRemaining != 9 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAsk_RetriesRateLimit(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprint(w, `{"error":"rate limit exceeded","retry_after_seconds":7}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"answer":"ok","sources":[],"confidence":"N/A","documents_used":0,"metadata":{}}`)
	}))
	defer server.Close()

	slept := noSleep(t)

	c := New(server.URL, Options{MaxRetries: 3})
	resp, err := c.Ask(context.Background(), "Qual a política de senhas?")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if resp.Answer != "ok" {
		t.Errorf("unexpected answer: %s", resp.Answer)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if len(*slept) != 2 || (*slept)[0] != 7*time.Second {
		t.Errorf("expected two 7s waits from Retry-After, got %v", *slept)
	}
}

func TestAsk_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprint(w, `{"error":"service unavailable"}`)
	}))
	defer server.Close()

	noSleep(t)

	c := New(server.URL, Options{MaxRetries: 2})
	_, err := c.Ask(context.Background(), "Qual a política de senhas?")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Body.Error != "service unavailable" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestAsk_BadRequestNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error":"too short","message":"Pergunta muito curta (mínimo 10 caracteres)"}`)
	}))
	defer server.Close()

	noSleep(t)

	c := New(server.URL, Options{MaxRetries: 3})
	_, err := c.Ask(context.Background(), "oi")
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if got := err.Error(); got != "unexpected status: 400 too short: Pergunta muito curta (mínimo 10 caracteres)" {
		t.Errorf("unexpected error: %s", got)
	}
	if attempts.Load() != 1 {
		t.Errorf("400 is not retryable, got %d attempts", attempts.Load())
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"healthy", http.StatusOK, `{"status":"healthy","services":{"search":"up","embedding":"up","llm":"up"}}`, "healthy", false},
		{"degraded", http.StatusOK, `{"status":"degraded","services":{"search":"up","embedding":"up","llm":"down"}}`, "degraded", false},
		{"unhealthy", http.StatusServiceUnavailable, `{"status":"unhealthy","services":{"search":"down","embedding":"up","llm":"up"}}`, "unhealthy", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != healthPath {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			report, err := New(server.URL, Options{}).Health(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if report == nil || report.Status != tt.want {
				t.Errorf("expected status %s, got %+v", tt.want, report)
			}
		})
	}
}

func TestHealth_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if _, err := New(url, Options{Timeout: time.Second}).Health(context.Background()); err == nil {
		t.Error("expected error for closed server")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("12"); got != 12*time.Second {
		t.Errorf("expected 12s, got %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("expected 0 for garbage, got %v", got)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 {
		t.Errorf("expected positive duration for HTTP date, got %v", got)
	}
}

func TestBackoff(t *testing.T) {
	if got := backoff(1, nil); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
	if got := backoff(3, nil); got != 4*time.Second {
		t.Errorf("expected 4s, got %v", got)
	}
	if got := backoff(10, nil); got != maxBackoff {
		t.Errorf("expected cap %v, got %v", maxBackoff, got)
	}
	if got := backoff(1, &APIError{RetryAfter: 3 * time.Second}); got != 3*time.Second {
		t.Errorf("expected Retry-After to win, got %v", got)
	}
}

func TestServiceStatusOverall(t *testing.T) {
	if s := (model.ServiceStatus{Search: "down", Embedding: "up", LLM: "up"}).Overall(); s != model.HealthUnhealthy {
		t.Errorf("expected unhealthy, got %s", s)
	}
	if s := (model.ServiceStatus{Search: "up", Embedding: "up", LLM: "disabled"}).Overall(); s != model.HealthDegraded {
		t.Errorf("expected degraded, got %s", s)
	}
}

func TestAsk_CancelDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer server.Close()

	c := New(server.URL, Options{Timeout: 5 * time.Second, MaxRetries: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Ask(ctx, "Qual a política de senhas?")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("backoff ignored cancellation, took %s", elapsed)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected nil after sleeping, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
