package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/model"
	"github.com/ppiankov/auditrag/internal/pipeline"
)

type fakeHandler struct {
	mu        sync.Mutex
	resp      *pipeline.Response
	clientKey string
	raw       any
	requestID string
	panics    bool
}

func (f *fakeHandler) Handle(ctx context.Context, clientKey string, raw any) *pipeline.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	f.clientKey = clientKey
	f.raw = raw
	f.requestID = pipeline.RequestIDFrom(ctx)
	return f.resp
}

type fakeChecker bool

func (f fakeChecker) IsAvailable(context.Context) bool { return bool(f) }

type fakeSweeper struct {
	swept int
	keys  int
}

func (f *fakeSweeper) Sweep() int {
	f.swept++
	return 1
}

func (f *fakeSweeper) Keys() int { return f.keys }

func okResponse() *pipeline.Response {
	return &pipeline.Response{
		Status: http.StatusOK,
		Body: model.AnswerResponse{
			Answer:        "Senhas exigem 12 caracteres.",
			Sources:       []string{"politica.pdf (p. 3)"},
			Confidence:    "ALTA",
			DocumentsUsed: 1,
			Metadata:      model.Metadata{Model: "gpt", RateLimitRemaining: 19},
		},
	}
}

func newTestServer(h Handler, checks Checks, deep bool) (*Server, *metrics.Metrics) {
	m := metrics.New()
	s := New(model.ServerConfig{GinMode: "test", DeepHealth: deep}, h, checks, nil, m, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return s, m
}

func post(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, askRoute, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestAskCompliance_Success(t *testing.T) {
	h := &fakeHandler{resp: okResponse()}
	s, _ := newTestServer(h, Checks{}, true)

	w := post(t, s, `{"question":"Qual a política de senhas?"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body model.AnswerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ALTA", body.Confidence)
	assert.Equal(t, 19, body.Metadata.RateLimitRemaining)

	assert.Equal(t, "Qual a política de senhas?", h.raw)
	assert.Equal(t, "192.0.2.1", h.clientKey)
	assert.Len(t, h.requestID, 36)
	assert.Equal(t, h.requestID, w.Header().Get("X-Request-ID"))
}

func TestAskCompliance_ForwardedFor(t *testing.T) {
	h := &fakeHandler{resp: okResponse()}
	s, _ := newTestServer(h, Checks{}, true)

	post(t, s, `{"question":"Qual a política de senhas?"}`, map[string]string{
		"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1",
		"X-Request-ID":    "abc-123",
	})
	assert.Equal(t, "203.0.113.7", h.clientKey)
	assert.Equal(t, "abc-123", h.requestID)
}

func TestAskCompliance_InvalidJSONGoesThroughHandler(t *testing.T) {
	h := &fakeHandler{resp: &pipeline.Response{
		Status: http.StatusBadRequest,
		Body:   model.ErrorResponse{Error: "invalid json"},
	}}
	s, _ := newTestServer(h, Checks{}, true)

	w := post(t, s, `{"question":`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid json"}`, w.Body.String())
	require.IsType(t, pipeline.MalformedBody{}, h.raw)
	assert.Error(t, h.raw.(pipeline.MalformedBody).Err)
	assert.Equal(t, "192.0.2.1", h.clientKey)
}

func TestAskCompliance_NonStringPassedThrough(t *testing.T) {
	h := &fakeHandler{resp: &pipeline.Response{
		Status: http.StatusBadRequest,
		Body:   model.ErrorResponse{Error: "not text", Message: "Pergunta deve ser texto"},
	}}
	s, _ := newTestServer(h, Checks{}, true)

	w := post(t, s, `{"question":42}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(42), h.raw)
	assert.Contains(t, w.Body.String(), `"error":"not text"`)
}

func TestAskCompliance_RetryAfterHeader(t *testing.T) {
	h := &fakeHandler{resp: &pipeline.Response{
		Status:            http.StatusTooManyRequests,
		Body:              model.ErrorResponse{Error: "rate limit exceeded", RetryAfterSeconds: 42},
		RetryAfterSeconds: 42,
	}}
	s, _ := newTestServer(h, Checks{}, true)

	w := post(t, s, `{"question":"Qual a política de senhas?"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"retry_after_seconds":42`)
}

func TestAskCompliance_PanicIsGeneric500(t *testing.T) {
	h := &fakeHandler{panics: true}
	s, _ := newTestServer(h, Checks{}, true)

	w := post(t, s, `{"question":"Qual a política de senhas?"}`, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     Checks
		wantCode   int
		wantStatus string
		wantLLM    string
	}{
		{"all up", Checks{Search: fakeChecker(true), Embedding: fakeChecker(true), LLM: fakeChecker(true)}, http.StatusOK, model.HealthHealthy, model.ServiceUp},
		{"llm down", Checks{Search: fakeChecker(true), Embedding: fakeChecker(true), LLM: fakeChecker(false)}, http.StatusOK, model.HealthDegraded, model.ServiceDown},
		{"llm disabled", Checks{Search: fakeChecker(true), Embedding: fakeChecker(true)}, http.StatusOK, model.HealthDegraded, model.ServiceDisabled},
		{"search down", Checks{Search: fakeChecker(false), Embedding: fakeChecker(true), LLM: fakeChecker(true)}, http.StatusServiceUnavailable, model.HealthUnhealthy, model.ServiceUp},
		{"embedding down", Checks{Search: fakeChecker(true), Embedding: fakeChecker(false), LLM: fakeChecker(true)}, http.StatusServiceUnavailable, model.HealthUnhealthy, model.ServiceUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&fakeHandler{}, tt.checks, true)

			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, healthRoute, nil))
			require.Equal(t, tt.wantCode, w.Code)

			var report model.HealthReport
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Equal(t, tt.wantLLM, report.Services.LLM)
			assert.Equal(t, "2026-03-01T09:30:00Z", report.Timestamp)
		})
	}
}

func TestHealth_Static(t *testing.T) {
	s, _ := newTestServer(&fakeHandler{}, Checks{Search: fakeChecker(false)}, false)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, healthRoute, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestHealth_SetsCollaboratorGauge(t *testing.T) {
	s, m := newTestServer(&fakeHandler{}, Checks{Search: fakeChecker(false), Embedding: fakeChecker(true), LLM: fakeChecker(true)}, true)

	s.Probe(context.Background())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CollaboratorUp.WithLabelValues("search")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CollaboratorUp.WithLabelValues("embedding")))
}

func TestMetricsRoute(t *testing.T) {
	s, m := newTestServer(&fakeHandler{}, Checks{}, true)
	m.ObserveRateLimited()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, metricsRoute, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "auditrag_rate_limited_total 1")
}

func TestSweep(t *testing.T) {
	sweeper := &fakeSweeper{keys: 4}
	m := metrics.New()
	s := New(model.ServerConfig{GinMode: "test"}, &fakeHandler{}, Checks{}, sweeper, m, nil)

	s.sweep()
	assert.Equal(t, 1, sweeper.swept)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.RateLimitKeys))
}

func TestRun_GracefulShutdown(t *testing.T) {
	s := New(model.ServerConfig{Addr: "127.0.0.1:0", GinMode: "test", ShutdownTimeout: time.Second}, &fakeHandler{}, Checks{}, &fakeSweeper{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
