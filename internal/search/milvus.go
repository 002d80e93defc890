package search

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/model"
)

// Milvus runs vector-only searches against a COSINE index. The query text
// is not used; scores are clamped to [0,1].
type Milvus struct {
	client      *milvusclient.Client
	collection  string
	vectorField string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewMilvus connects to Milvus
func NewMilvus(ctx context.Context, cfg model.MilvusConfig, timeout time.Duration, logger *zap.Logger) (*Milvus, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("milvus collection is required")
	}

	connectCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	c, err := milvusclient.New(connectCtx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	vectorField := cfg.VectorField
	if vectorField == "" {
		vectorField = "content_vector"
	}

	return &Milvus{
		client:      c,
		collection:  cfg.Collection,
		vectorField: vectorField,
		timeout:     timeout,
		logger:      logger.With(zap.String("backend", "milvus")),
	}, nil
}

// Name returns the backend name
func (m *Milvus) Name() string {
	return "milvus"
}

// Search performs a vector similarity search for the top k chunks
func (m *Milvus) Search(ctx context.Context, _ string, vector []float32, k int) ([]model.Candidate, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("milvus search requires a query vector")
	}

	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	results, err := m.client.Search(ctx, milvusclient.NewSearchOption(
		m.collection,
		k,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(m.vectorField).
		WithOutputFields(Projection...))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if len(results) == 0 {
		return []model.Candidate{}, nil
	}

	candidates, err := candidatesFromResult(results[0])
	if err != nil {
		return nil, err
	}

	m.logger.Debug("vector search", zap.Int("hits", len(candidates)), zap.Int("k", k))
	return candidates, nil
}

// IsAvailable checks that the collection exists
func (m *Milvus) IsAvailable(ctx context.Context) bool {
	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	ok, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(m.collection))
	return err == nil && ok
}

// Close closes the Milvus client connection
func (m *Milvus) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Close(ctx)
}

func candidatesFromResult(rs milvusclient.ResultSet) ([]model.Candidate, error) {
	if rs.Err != nil {
		return nil, fmt.Errorf("milvus result: %w", rs.Err)
	}
	if len(rs.Scores) < rs.ResultCount {
		return nil, fmt.Errorf("milvus result: %d scores for %d hits", len(rs.Scores), rs.ResultCount)
	}

	candidates := make([]model.Candidate, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		c := model.Candidate{Score: clampScore(float64(rs.Scores[i]))}

		for _, field := range rs.Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				if i >= col.Len() {
					continue
				}
				switch col.Name() {
				case "content":
					c.Content = col.Data()[i]
				case "source_file":
					c.Source = col.Data()[i]
				case "compliance_level":
					c.ComplianceLevel = col.Data()[i]
				}
			case *column.ColumnInt64:
				if col.Name() == "page_number" && i < col.Len() {
					c.Page = int(col.Data()[i])
				}
			case *column.ColumnInt32:
				if col.Name() == "page_number" && i < col.Len() {
					c.Page = int(col.Data()[i])
				}
			}
		}

		candidates = append(candidates, c)
	}
	return candidates, nil
}
