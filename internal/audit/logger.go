// Package audit records every answered question without storing the question itself.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/model"
)

// HashLength is the number of hex characters kept from the question digest
const HashLength = 16

// Sink stores audit entries
type Sink interface {
	Write(ctx context.Context, entry model.AuditEntry) error
	Close(ctx context.Context) error
}

// Logger is the audit trail. Record never fails and never panics to the caller.
type Logger struct {
	sink    Sink
	ops     *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewLogger creates an audit logger. ops receives sink failures.
func NewLogger(sink Sink, ops *zap.Logger, m *metrics.Metrics) *Logger {
	if ops == nil {
		ops = zap.NewNop()
	}
	return &Logger{
		sink:    sink,
		ops:     ops.Named("audit"),
		metrics: m,
		now:     time.Now,
	}
}

// Record appends one entry for an answered question
func (l *Logger) Record(ctx context.Context, clientKey, question string, sources []string, confidence any) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.ObserveAuditFailure()
			l.ops.Error("audit record panicked", zap.Any("panic", r))
		}
	}()

	if sources == nil {
		sources = []string{}
	}

	entry := model.AuditEntry{
		Timestamp:    l.timestamp(),
		ClientKey:    clientKey,
		QuestionHash: HashQuestion(question),
		Sources:      sources,
		Confidence:   confidence,
	}

	if l.sink == nil {
		return
	}

	// The entry is written even if the request context was cancelled
	if err := l.sink.Write(context.WithoutCancel(ctx), entry); err != nil {
		l.metrics.ObserveAuditFailure()
		l.ops.Error("audit write failed",
			zap.String("question_hash", entry.QuestionHash),
			zap.Error(err))
	}
}

// Close flushes and closes the sink
func (l *Logger) Close(ctx context.Context) error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close(ctx)
}

// timestamp returns a strictly increasing time for this process
func (l *Logger) timestamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if !ts.After(l.last) {
		ts = l.last.Add(time.Nanosecond)
	}
	l.last = ts
	return ts
}

// HashQuestion returns the first 16 hex characters of the question's SHA-256
func HashQuestion(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// LogSink writes entries as structured log lines
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs through a logger named "audit"
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, entry model.AuditEntry) error {
	s.logger.Info("audit",
		zap.Time("timestamp", entry.Timestamp),
		zap.String("client_ip", entry.ClientKey),
		zap.String("question_hash", entry.QuestionHash),
		zap.Strings("sources", entry.Sources),
		zap.Any("confidence", entry.Confidence))
	return nil
}

func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}

// NewSink creates the configured sink
func NewSink(ctx context.Context, cfg model.AuditConfig, logger *zap.Logger) (Sink, error) {
	switch strings.ToLower(cfg.Sink) {
	case "log", "":
		return NewLogSink(logger), nil
	case "mongo":
		return NewMongoSink(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown audit sink: %s (supported: log, mongo)", cfg.Sink)
	}
}
