// Package retrieve gates search hits by relevance before they reach the generator.
package retrieve

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/model"
)

var tracer = otel.Tracer("github.com/ppiankov/auditrag/internal/retrieve")

// Stage names where a retrieval failed
const (
	StageEmbed  = "embed"
	StageSearch = "search"
)

// Embedder turns the question into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a hybrid query and returns candidates ranked best first
type Searcher interface {
	Search(ctx context.Context, query string, vector []float32, k int) ([]model.Candidate, error)
}

// RetrievalError wraps an embedding or search failure. It is never downgraded
// to an empty result.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Config holds the relevance gate
type Config struct {
	TopK         int
	MinRelevance float64
}

// Retriever fetches evidence for a question
type Retriever struct {
	embedder Embedder
	searcher Searcher
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewRetriever creates a retriever. logger and m may be nil.
func NewRetriever(embedder Embedder, searcher Searcher, config Config, logger *zap.Logger, m *metrics.Metrics) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		config:   config,
		logger:   logger.Named("retriever"),
		metrics:  m,
	}
}

// Config returns the active gate settings
func (r *Retriever) Config() Config {
	return r.config
}

// Retrieve embeds the question, searches, and keeps candidates scoring at
// least MinRelevance. Order follows the searcher; the result holds at most TopK items.
func (r *Retriever) Retrieve(ctx context.Context, question string) (model.EvidenceSet, error) {
	ctx, span := tracer.Start(ctx, "retrieve")
	defer span.End()

	start := time.Now()
	vector, err := r.embedder.Embed(ctx, question)
	r.metrics.ObserveStage(StageEmbed, start)
	if err != nil {
		return nil, r.fail(span, StageEmbed, err)
	}

	start = time.Now()
	candidates, err := r.searcher.Search(ctx, question, vector, r.config.TopK)
	r.metrics.ObserveStage(StageSearch, start)
	if err != nil {
		return nil, r.fail(span, StageSearch, err)
	}

	evidence, discarded := r.gate(candidates)

	r.metrics.ObserveRetrieval(len(evidence), discarded)
	span.SetAttributes(
		attribute.Int("retrieve.candidates", len(candidates)),
		attribute.Int("retrieve.kept", len(evidence)),
		attribute.Int("retrieve.discarded", discarded),
	)
	r.logger.Debug("retrieval complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(evidence)),
		zap.Int("discarded", discarded))

	return evidence, nil
}

// gate applies the relevance threshold and the top-K cap
func (r *Retriever) gate(candidates []model.Candidate) (model.EvidenceSet, int) {
	evidence := make(model.EvidenceSet, 0, min(len(candidates), r.config.TopK))
	discarded := 0

	for _, c := range candidates {
		if !model.ValidScore(c.Score) {
			discarded++
			r.logger.Warn("discarding candidate with invalid score",
				zap.String("source", c.Source),
				zap.Int("page", c.Page),
				zap.Float64("score", c.Score))
			continue
		}
		if c.Score < r.config.MinRelevance {
			discarded++
			r.logger.Warn("discarding candidate below relevance threshold",
				zap.String("source", c.Source),
				zap.Int("page", c.Page),
				zap.Float64("score", c.Score),
				zap.Float64("min_relevance", r.config.MinRelevance))
			continue
		}
		if len(evidence) == r.config.TopK {
			discarded++
			continue
		}

		evidence = append(evidence, c.Evidence())
	}

	return evidence, discarded
}

func (r *Retriever) fail(span trace.Span, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	r.logger.Error("retrieval failed", zap.String("stage", stage), zap.Error(err))
	return &RetrievalError{Stage: stage, Err: err}
}
