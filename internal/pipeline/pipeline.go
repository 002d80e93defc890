// Package pipeline sequences admission, validation, retrieval and composition
// for one question and maps the outcome to an HTTP status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/compose"
	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/model"
	"github.com/ppiankov/auditrag/internal/retrieve"
	"github.com/ppiankov/auditrag/internal/validate"
	"github.com/ppiankov/auditrag/internal/worker"
)

var tracer = otel.Tracer("github.com/ppiankov/auditrag/internal/pipeline")

// State is a step of the request state machine
type State string

const (
	StateReceived    State = "RECEIVED"
	StateRateChecked State = "RATE_CHECKED"
	StateValidated   State = "VALIDATED"
	StateRetrieved   State = "RETRIEVED"
	StateAnswered    State = "ANSWERED"
	StateResponded   State = "RESPONDED"
	StateError       State = "ERROR"
)

// Generic bodies for failures the caller cannot act on
const (
	errorServiceUnavailable = "service unavailable"
	errorInternal           = "internal error"
	errorInvalidJSON        = "invalid json"
	messageRetrieval        = "Serviço de busca temporariamente indisponível. Tente novamente em instantes."
	messageInternal         = "Erro interno ao processar a pergunta."
	messageRateLimited      = "Limite de requisições excedido. Tente novamente mais tarde."
)

// AdmissionDeniedError is returned when the client's window is full
type AdmissionDeniedError struct {
	RetryAfter time.Duration
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds rounds up to whole seconds, minimum 1
func (e *AdmissionDeniedError) RetryAfterSeconds() int {
	return worker.Decision{RetryAfter: e.RetryAfter}.RetryAfterSeconds()
}

// MalformedBody stands in for a request body that did not parse. It is
// admitted like any other request and then rejected with 400.
type MalformedBody struct {
	Err error
}

// Admitter is the per-client rate limiter
type Admitter interface {
	Admit(key string) worker.Decision
}

// Retriever fetches gated evidence
type Retriever interface {
	Retrieve(ctx context.Context, question string) (model.EvidenceSet, error)
}

// Composer builds and audits the answer
type Composer interface {
	Compose(ctx context.Context, question string, evidence model.EvidenceSet, clientKey string) (*model.Answer, error)
	ModelName() string
}

// Response is what the transport writes back
type Response struct {
	Status int
	Body   any

	// RetryAfterSeconds is set on 429 for the Retry-After header
	RetryAfterSeconds int

	// Answer is the composed answer on 200
	Answer *model.Answer
}

// Options are the non-collaborator settings
type Options struct {
	ComplianceLevel string
}

// Pipeline handles one question at a time; it holds no per-request state
type Pipeline struct {
	limiter   Admitter
	validator *validate.Validator
	retriever Retriever
	composer  Composer
	options   Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a pipeline. logger and m may be nil.
func New(limiter Admitter, validator *validate.Validator, retriever Retriever, composer Composer, options Options, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		limiter:   limiter,
		validator: validator,
		retriever: retriever,
		composer:  composer,
		options:   options,
		logger:    logger.Named("pipeline"),
		metrics:   m,
		now:       time.Now,
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that Handle reports in metadata
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id set by WithRequestID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Ask handles a question already known to be a string
func (p *Pipeline) Ask(ctx context.Context, clientKey, question string) *Response {
	return p.Handle(ctx, clientKey, question)
}

// Handle runs the state machine for one raw question. It never panics and
// never returns nil.
func (p *Pipeline) Handle(ctx context.Context, clientKey string, raw any) (resp *Response) {
	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if clientKey == "" {
		clientKey = "unknown"
	}

	ctx, span := tracer.Start(ctx, "ask_compliance")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	log := p.logger.With(zap.String("request_id", requestID), zap.String("client", clientKey))
	state := StateReceived

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			log.Error("request panicked",
				zap.String("state", string(state)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			resp = internalError()
		}
		p.metrics.ObserveRequest(resp.Status)
		span.SetAttributes(
			attribute.Int("http.status_code", resp.Status),
			attribute.String("pipeline.state", string(state)),
		)
	}()

	decision := p.limiter.Admit(clientKey)
	if !decision.Allowed {
		denied := &AdmissionDeniedError{RetryAfter: decision.RetryAfter}
		p.metrics.ObserveRateLimited()
		log.Warn("rate limited", zap.Duration("retry_after", decision.RetryAfter))
		state = StateResponded
		return &Response{
			Status: http.StatusTooManyRequests,
			Body: model.ErrorResponse{
				Error:             "rate limit exceeded",
				Message:           messageRateLimited,
				RetryAfterSeconds: denied.RetryAfterSeconds(),
			},
			RetryAfterSeconds: denied.RetryAfterSeconds(),
		}
	}
	state = StateRateChecked

	if body, ok := raw.(MalformedBody); ok {
		log.Warn("invalid json", zap.Error(body.Err))
		state = StateResponded
		return &Response{
			Status: http.StatusBadRequest,
			Body:   model.ErrorResponse{Error: errorInvalidJSON},
		}
	}

	question, err := p.validator.Validate(raw)
	if err != nil {
		var verr *validate.ValidationError
		if !errors.As(err, &verr) {
			log.Error("unexpected validation failure", zap.Error(err))
			state = StateError
			return internalError()
		}
		log.Warn("validation failed", zap.String("reason", verr.Reason))
		state = StateResponded
		return &Response{
			Status: http.StatusBadRequest,
			Body:   model.ErrorResponse{Error: verr.Reason, Message: verr.Message},
		}
	}
	state = StateValidated

	evidence, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval")
		state = StateError

		var rerr *retrieve.RetrievalError
		if errors.As(err, &rerr) {
			log.Error("retrieval failed", zap.String("stage", rerr.Stage), zap.Error(rerr.Err))
			return &Response{
				Status: http.StatusServiceUnavailable,
				Body:   model.ErrorResponse{Error: errorServiceUnavailable, Message: messageRetrieval},
			}
		}
		log.Error("unexpected retrieval failure", zap.Error(err))
		return internalError()
	}
	state = StateRetrieved

	answer, err := p.composer.Compose(ctx, question, evidence, clientKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compose")
		state = StateError
		if errors.Is(err, compose.ErrInvalidEvidence) {
			log.Error("invalid evidence", zap.Error(err))
		} else {
			log.Error("compose failed", zap.Error(err))
		}
		return internalError()
	}
	state = StateAnswered

	meta := model.Metadata{
		Timestamp:          p.now().UTC().Format(time.RFC3339),
		Model:              p.composer.ModelName(),
		ComplianceLevel:    p.complianceLevel(answer),
		RateLimitRemaining: decision.Remaining,
		RequestID:          requestID,
	}

	log.Info("answered",
		zap.String("outcome", string(answer.Outcome)),
		zap.String("confidence", string(answer.Label)),
		zap.Int("documents_used", answer.DocumentsUsed))

	state = StateResponded
	return &Response{
		Status: http.StatusOK,
		Body:   model.NewAnswerResponse(answer, meta),
		Answer: answer,
	}
}

func (p *Pipeline) complianceLevel(a *model.Answer) string {
	if a.ComplianceLevel != "" {
		return a.ComplianceLevel
	}
	return p.options.ComplianceLevel
}

func internalError() *Response {
	return &Response{
		Status: http.StatusInternalServerError,
		Body:   model.ErrorResponse{Error: errorInternal, Message: messageInternal},
	}
}
