package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/model"
)

// Weaviate runs hybrid (BM25 + vector) queries with relative score fusion.
// Fusion only ranks; by default each hit is scored by its cosine similarity
// to the question vector.
type Weaviate struct {
	client      *weaviate.Client
	class       string
	alpha       float32
	scoreSource string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewWeaviate creates a Weaviate backend. Host may carry a scheme prefix.
func NewWeaviate(cfg model.WeaviateConfig, timeout time.Duration, logger *zap.Logger) (*Weaviate, error) {
	if cfg.Class == "" {
		return nil, fmt.Errorf("weaviate class is required")
	}

	host, scheme := cfg.Host, cfg.Scheme
	switch {
	case strings.HasPrefix(host, "https://"):
		scheme, host = "https", strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		scheme, host = "http", strings.TrimPrefix(host, "http://")
	}
	if scheme == "" {
		scheme = "http"
	}

	wcfg := weaviate.Config{Host: host, Scheme: scheme}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	scoreSource := strings.ToLower(cfg.ScoreSource)
	switch scoreSource {
	case "":
		scoreSource = model.ScoreSourceVector
	case model.ScoreSourceVector, model.ScoreSourceFusion:
	default:
		return nil, fmt.Errorf("unknown weaviate score source: %s (supported: vector, fusion)", cfg.ScoreSource)
	}

	return &Weaviate{
		client:      client,
		class:       cfg.Class,
		alpha:       cfg.Alpha,
		scoreSource: scoreSource,
		timeout:     timeout,
		logger:      logger.With(zap.String("backend", "weaviate")),
	}, nil
}

// Name returns the backend name
func (w *Weaviate) Name() string {
	return "weaviate"
}

// Search runs one hybrid query for the top k chunks
func (w *Weaviate) Search(ctx context.Context, query string, vector []float32, k int) ([]model.Candidate, error) {
	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()

	hybrid := w.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(w.alpha).
		WithFusionType(graphql.RelativeScore)
	if len(vector) > 0 {
		hybrid = hybrid.WithVector(vector)
	}

	fields := make([]graphql.Field, 0, len(Projection)+1)
	for _, name := range Projection {
		fields = append(fields, graphql.Field{Name: name})
	}
	additional := []graphql.Field{{Name: "score"}}
	if w.scoreSource == model.ScoreSourceVector {
		additional = append(additional, graphql.Field{Name: "vector"})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: additional})

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate hybrid search: %w", err)
	}

	hits, err := parseHybridResult(result, w.class)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(hits))
	for _, h := range hits {
		c := h.candidate()
		if w.scoreSource == model.ScoreSourceVector {
			c.Score = clampScore(cosineSimilarity(vector, h.Additional.Vector))
		}
		candidates = append(candidates, c)
	}

	w.logger.Debug("hybrid search", zap.Int("hits", len(candidates)), zap.Int("k", k))
	return candidates, nil
}

// IsAvailable checks the readiness endpoint
func (w *Weaviate) IsAvailable(ctx context.Context) bool {
	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()

	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	return err == nil && ready
}

// Close is a no-op; the client holds no long-lived connections
func (w *Weaviate) Close() error {
	return nil
}

type weaviateHit struct {
	Content         string    `json:"content"`
	SourceFile      string    `json:"source_file"`
	PageNumber      flexFloat `json:"page_number"`
	ComplianceLevel string    `json:"compliance_level"`
	Additional      struct {
		Score  flexFloat `json:"score"`
		Vector []float32 `json:"vector"`
	} `json:"_additional"`
}

// candidate carries the fusion score; callers may replace it
func (h weaviateHit) candidate() model.Candidate {
	return model.Candidate{
		Content:         h.Content,
		Source:          h.SourceFile,
		Page:            int(h.PageNumber),
		ComplianceLevel: h.ComplianceLevel,
		Score:           float64(h.Additional.Score),
	}
}

type weaviateGetResponse struct {
	Get map[string][]weaviateHit `json:"Get"`
}

func parseHybridResult(resp *models.GraphQLResponse, class string) ([]weaviateHit, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("weaviate graphql error: %s", resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL data: %w", err)
	}

	var parsed weaviateGetResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode GraphQL data: %w", err)
	}

	return parsed.Get[class], nil
}

// flexFloat accepts both JSON numbers and numeric strings; Weaviate returns
// _additional.score as a string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse score %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
