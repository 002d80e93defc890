package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/audit"
	"github.com/ppiankov/auditrag/internal/cache"
	"github.com/ppiankov/auditrag/internal/compose"
	"github.com/ppiankov/auditrag/internal/llm"
	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/model"
	"github.com/ppiankov/auditrag/internal/retrieve"
	"github.com/ppiankov/auditrag/internal/score"
	"github.com/ppiankov/auditrag/internal/search"
	"github.com/ppiankov/auditrag/internal/validate"
	"github.com/ppiankov/auditrag/internal/worker"
)

// Services are the collaborators a running pipeline depends on, exposed for health checks
type Services struct {
	Search   search.Backend
	Embedder llm.Embedder
	Provider llm.Provider // nil when generation is disabled
	Limiter  *worker.Limiter
	Audit    *audit.Logger
}

// Close releases collaborator connections
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Search != nil {
		errs = append(errs, s.Search.Close())
	}
	if s.Audit != nil {
		errs = append(errs, s.Audit.Close(ctx))
	}
	return errors.Join(errs...)
}

// Build wires every collaborator from configuration
func Build(ctx context.Context, cfg *model.Config, logger *zap.Logger, m *metrics.Metrics) (*Pipeline, *Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	backend, err := search.New(ctx, cfg.Search, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("search backend: %w", err)
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
	if err != nil {
		// without a generator every answer is a contingency answer
		logger.Warn("generator disabled", zap.Error(err))
		provider = nil
	}

	sink, err := audit.NewSink(ctx, cfg.Audit, logger)
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("audit sink: %w", err)
	}
	auditor := audit.NewLogger(sink, logger, m)

	limiter := worker.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	retriever := retrieve.NewRetriever(embedder, backend, retrieve.Config{
		TopK:         cfg.Retrieval.TopK,
		MinRelevance: cfg.Retrieval.MinRelevance,
	}, logger, m)

	composer := compose.NewComposer(provider, auditor, score.NewScorer(cfg.Retrieval.MinRelevance), compose.Config{
		MaxTokens: cfg.LLM.MaxTokens,
		Model:     cfg.LLM.Model,
	}, logger, m)

	p := New(limiter, validate.NewValidator(cfg.Validation), retriever, composer, Options{
		ComplianceLevel: cfg.Server.ComplianceLevel,
	}, logger, m)

	return p, &Services{
		Search:   backend,
		Embedder: embedder,
		Provider: provider,
		Limiter:  limiter,
		Audit:    auditor,
	}, nil
}

func buildEmbedder(cfg *model.Config, logger *zap.Logger) (llm.Embedder, error) {
	embedder, err := llm.NewEmbedder(llm.EmbeddingConfigFromModel(cfg.Embedding, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if !cfg.Cache.Enabled {
		return embedder, nil
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Warn("embedding cache disabled", zap.Error(err))
		return embedder, nil
	}
	return llm.NewCachedEmbedder(embedder, c, cfg.Embedding.Model, cfg.Cache.TTL, logger), nil
}
