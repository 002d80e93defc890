// Package compose builds the answer from evidence: generated, contingency or empty.
package compose

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/llm"
	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/model"
	"github.com/ppiankov/auditrag/internal/score"
)

var tracer = otel.Tracer("github.com/ppiankov/auditrag/internal/compose")

// ErrInvalidEvidence is returned for an item with an empty source or an out-of-range score
var ErrInvalidEvidence = errors.New("invalid evidence")

const (
	// NoEvidenceMessage is returned when nothing cleared the relevance threshold
	NoEvidenceMessage = "Não encontrei informações confiáveis nos documentos aprovados para responder esta pergunta."

	// InsufficientDataWarning accompanies the empty answer
	InsufficientDataWarning = "Resposta baseada em dados insuficientes"

	// ContingencyWarning accompanies the contingency answer
	ContingencyWarning = "Resposta em modo contingência: trecho citado sem geração"

	// ContingencyMarker opens every contingency answer
	ContingencyMarker = "MODO CONTINGÊNCIA"

	// ContingencyExcerptRunes caps the quoted passage
	ContingencyExcerptRunes = 500
)

// Auditor receives one record per composed answer
type Auditor interface {
	Record(ctx context.Context, clientKey, question string, sources []string, confidence any)
}

// Config holds the generation settings. Temperature is always 0.
type Config struct {
	MaxTokens int
	Model     string
}

// Composer turns evidence into an answer
type Composer struct {
	provider llm.Provider
	auditor  Auditor
	scorer   *score.Scorer
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewComposer creates a composer. A nil provider always yields contingency answers.
func NewComposer(provider llm.Provider, auditor Auditor, scorer *score.Scorer, config Config, logger *zap.Logger, m *metrics.Metrics) *Composer {
	if scorer == nil {
		scorer = score.NewScorer(0)
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		provider: provider,
		auditor:  auditor,
		scorer:   scorer,
		config:   config,
		logger:   logger.Named("composer"),
		metrics:  m,
	}
}

// ModelName identifies the generator for response metadata
func (c *Composer) ModelName() string {
	if c.config.Model != "" {
		return c.config.Model
	}
	if c.provider != nil {
		return c.provider.Name()
	}
	return "none"
}

// Compose builds the answer for question from evidence and audits it
func (c *Composer) Compose(ctx context.Context, question string, evidence model.EvidenceSet, clientKey string) (*model.Answer, error) {
	ctx, span := tracer.Start(ctx, "compose")
	defer span.End()

	for i, item := range evidence {
		if !item.Valid() {
			return nil, fmt.Errorf("%w: item %d (source %q, score %v)", ErrInvalidEvidence, i, item.Source, item.RelevanceScore)
		}
	}

	var answer *model.Answer
	switch {
	case len(evidence) == 0:
		answer = c.empty()
	default:
		answer = c.generate(ctx, question, evidence)
	}

	span.SetAttributes(
		attribute.String("compose.outcome", string(answer.Outcome)),
		attribute.String("compose.confidence", string(answer.Label)),
		attribute.Int("compose.documents_used", answer.DocumentsUsed),
	)
	c.metrics.ObserveAnswer(string(answer.Outcome), string(answer.Label))

	if c.auditor != nil {
		c.auditor.Record(ctx, clientKey, question, answer.Sources, answer.AuditConfidence())
	}

	return answer, nil
}

func (c *Composer) empty() *model.Answer {
	return &model.Answer{
		Outcome: model.OutcomeEmpty,
		Text:    NoEvidenceMessage,
		Sources: []string{},
		Label:   model.ConfidenceNone,
		Warning: InsufficientDataWarning,
	}
}

func (c *Composer) generate(ctx context.Context, question string, evidence model.EvidenceSet) *model.Answer {
	if c.provider == nil {
		c.logger.Warn("no generator configured, answering in contingency mode")
		return c.contingency(evidence)
	}

	req := llm.CompletionRequest{
		System:         SystemPrompt,
		Prompt:         BuildPrompt(question, evidence),
		Temperature:    0,
		MaxTokens:      c.config.MaxTokens,
		AllowedSources: sourceNames(evidence),
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	c.metrics.ObserveStage("generate", start)
	if err != nil {
		c.logger.Warn("generation failed, answering in contingency mode",
			zap.String("provider", c.provider.Name()),
			zap.Error(err))
		return c.contingency(evidence)
	}

	assessment := c.scorer.Assess(evidence)
	for _, s := range assessment.Signals {
		c.logger.Debug("confidence signal",
			zap.String("type", string(s.Type)),
			zap.String("severity", string(s.Severity)),
			zap.String("description", s.Description))
	}

	mean := assessment.Score
	return &model.Answer{
		Outcome:         model.OutcomeGenerated,
		Text:            resp.Text,
		Sources:         evidence.Citations(),
		Label:           assessment.Label,
		Score:           &mean,
		DocumentsUsed:   len(evidence),
		ComplianceLevel: evidence[0].ComplianceLevel,
	}
}

// contingency quotes the top-ranked item instead of generating
func (c *Composer) contingency(evidence model.EvidenceSet) *model.Answer {
	top := evidence[0]
	text := fmt.Sprintf("%s: o serviço de geração está indisponível. Trecho mais relevante dos documentos aprovados:\n\n%s\n\nFonte: %s",
		ContingencyMarker, truncateRunes(top.Content, ContingencyExcerptRunes), top.Citation())

	return &model.Answer{
		Outcome:         model.OutcomeContingency,
		Text:            text,
		Sources:         []string{top.Citation()},
		Label:           model.ConfidenceContingency,
		DocumentsUsed:   1,
		Warning:         ContingencyWarning,
		ComplianceLevel: top.ComplianceLevel,
	}
}

func sourceNames(evidence model.EvidenceSet) []string {
	names := make([]string, 0, len(evidence))
	for _, item := range evidence {
		names = append(names, item.Source)
	}
	return names
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
