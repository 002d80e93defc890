// Package search adapts the hybrid and vector search backends to the retriever.
package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/model"
)

// Projection is the fixed set of chunk fields every backend returns
var Projection = []string{"content", "source_file", "page_number", "compliance_level"}

// Backend is a search index the retriever can query
type Backend interface {
	// Name identifies the backend in logs and health output
	Name() string

	// Search returns up to k candidates ranked by the backend, best first
	Search(ctx context.Context, query string, vector []float32, k int) ([]model.Candidate, error)

	// IsAvailable reports whether the index answers
	IsAvailable(ctx context.Context) bool

	// Close releases connections
	Close() error
}

// New creates the configured backend
func New(ctx context.Context, cfg model.SearchConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(cfg.Backend) {
	case "weaviate", "":
		return NewWeaviate(cfg.Weaviate, cfg.Timeout, logger)
	case "milvus":
		return NewMilvus(ctx, cfg.Milvus, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown search backend: %s (supported: weaviate, milvus)", cfg.Backend)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// clampScore maps a similarity onto [0,1]
func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// cosineSimilarity is 0 when either vector is empty, zero or of a different length
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
