// Package client talks to a running auditrag server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/auditrag/internal/model"
	"github.com/ppiankov/auditrag/internal/util"
)

const (
	askPath    = "/api/ask_compliance"
	healthPath = "/api/health"

	maxBodyBytes = 1 << 20
	maxBackoff   = 30 * time.Second
)

// sleepFunc is replaced in tests
var sleepFunc = sleepContext

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// APIError is a non-2xx answer from the server
type APIError struct {
	Status     int
	Body       model.ErrorResponse
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("unexpected status: %d %s: %s", e.Status, e.Body.Error, e.Body.Message)
	}
	return fmt.Sprintf("unexpected status: %d %s", e.Status, http.StatusText(e.Status))
}

// Temporary reports whether retrying later may succeed
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusServiceUnavailable
}

// Options configure a Client
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
	HTTP       model.HTTPConfig
}

// Client calls the question and health endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	maxRetries int
}

// New creates a client for the server at baseURL
func New(baseURL string, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "auditrag-client"
	}
	httpClient := util.NewHTTPClient(opts.Timeout, opts.HTTP.HTTPProxy, opts.HTTP.HTTPSProxy, opts.HTTP.NoProxy)
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return nil
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		userAgent:  opts.UserAgent,
		maxRetries: opts.MaxRetries,
	}
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask posts one question. 429 and 503 are retried up to MaxRetries times,
// honoring Retry-After when the server sends it.
func (c *Client) Ask(ctx context.Context, question string) (*model.AnswerResponse, error) {
	payload, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := sleepFunc(ctx, backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}

		var out model.AnswerResponse
		lastErr = c.do(ctx, http.MethodPost, askPath, payload, &out)
		if lastErr == nil {
			return &out, nil
		}

		apiErr, ok := lastErr.(*APIError)
		if !ok || !apiErr.Temporary() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// Health fetches the health report. A 503 still returns the decoded report
// together with an *APIError.
func (c *Client) Health(ctx context.Context) (*model.HealthReport, error) {
	var out model.HealthReport
	err := c.do(ctx, http.MethodGet, healthPath, nil, &out)
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusServiceUnavailable && out.Status != "" {
		return &out, err
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		_ = json.Unmarshal(raw, &apiErr.Body)
		// health reports share the status code with a decodable body
		if path == healthPath {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func backoff(attempt int, lastErr error) time.Duration {
	if apiErr, ok := lastErr.(*APIError); ok && apiErr.RetryAfter > 0 {
		return min(apiErr.RetryAfter, maxBackoff)
	}
	d := time.Duration(1<<(attempt-1)) * time.Second
	return min(d, maxBackoff)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
