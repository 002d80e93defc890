package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/auditrag/internal/model"
)

const defaultHealthTimeout = 5 * time.Second

// Checker probes one collaborator
type Checker interface {
	IsAvailable(ctx context.Context) bool
}

// Checks are the collaborators behind the health endpoint. A nil LLM means
// generation is disabled.
type Checks struct {
	Search    Checker
	Embedding Checker
	LLM       Checker
}

// Probe checks every collaborator concurrently
func (s *Server) Probe(ctx context.Context) model.HealthReport {
	timeout := s.cfg.HealthTimeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var services model.ServiceStatus
	g, gctx := errgroup.WithContext(ctx)
	probe := func(name string, checker Checker, out *string) {
		g.Go(func() error {
			*out = s.probeOne(gctx, name, checker)
			return nil
		})
	}
	probe("search", s.checks.Search, &services.Search)
	probe("embedding", s.checks.Embedding, &services.Embedding)
	probe("llm", s.checks.LLM, &services.LLM)
	_ = g.Wait()

	return model.HealthReport{
		Status:    services.Overall(),
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Services:  services,
	}
}

func (s *Server) probeOne(ctx context.Context, name string, checker Checker) string {
	if checker == nil {
		return model.ServiceDisabled
	}
	up := checker.IsAvailable(ctx)
	s.metrics.SetCollaboratorUp(name, up)
	if !up {
		s.logger.Warn("collaborator unavailable", zap.String("service", name))
		return model.ServiceDown
	}
	return model.ServiceUp
}

func (s *Server) health(c *gin.Context) {
	if !s.cfg.DeepHealth {
		c.JSON(http.StatusOK, model.HealthReport{
			Status:    model.HealthHealthy,
			Timestamp: s.now().UTC().Format(time.RFC3339),
			Services: model.ServiceStatus{
				Search:    model.ServiceUnchecked,
				Embedding: model.ServiceUnchecked,
				LLM:       model.ServiceUnchecked,
			},
		})
		return
	}

	report := s.Probe(c.Request.Context())
	status := http.StatusOK
	if report.Status == model.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
