// Package server exposes the question pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/model"
	"github.com/ppiankov/auditrag/internal/pipeline"
)

const (
	askRoute     = "/api/ask_compliance"
	healthRoute  = "/api/health"
	metricsRoute = "/metrics"

	maxRequestBytes = 64 << 10
	sweepInterval   = time.Minute
)

// Handler runs one question through the pipeline
type Handler interface {
	Handle(ctx context.Context, clientKey string, raw any) *pipeline.Response
}

// Sweeper is the limiter housekeeping the server drives
type Sweeper interface {
	Sweep() int
	Keys() int
}

// Server is the HTTP front of the pipeline
type Server struct {
	cfg     model.ServerConfig
	handler Handler
	checks  Checks
	sweeper Sweeper
	metrics *metrics.Metrics
	logger  *zap.Logger
	engine  *gin.Engine
	now     func() time.Time
}

// New builds the router. sweeper, m and logger may be nil.
func New(cfg model.ServerConfig, handler Handler, checks Checks, sweeper Sweeper, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		checks:  checks,
		sweeper: sweeper,
		metrics: m,
		logger:  logger.Named("server"),
		now:     time.Now,
	}

	engine := gin.New()
	engine.Use(
		otelgin.Middleware("auditrag"),
		requestID(),
		accessLog(s.logger),
		recovery(s.logger),
	)

	api := engine.Group("/api")
	api.POST("/ask_compliance", s.askCompliance)
	api.GET("/health", s.health)
	if m != nil {
		engine.GET(metricsRoute, gin.WrapH(m.Handler()))
	}

	s.engine = engine
	return s
}

// Handler returns the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.sweepLoop(sweepCtx, sweepInterval)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.logger.Info("shutting down", zap.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) sweepLoop(ctx context.Context, interval time.Duration) {
	if s.sweeper == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	removed := s.sweeper.Sweep()
	tracked := s.sweeper.Keys()
	s.metrics.SetTrackedClients(tracked)
	if removed > 0 {
		s.logger.Debug("rate limiter swept", zap.Int("removed", removed), zap.Int("tracked", tracked))
	}
}

type askRequest struct {
	Question any `json:"question"`
}

func (s *Server) askCompliance(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	var req askRequest
	var raw any
	if err := c.ShouldBindJSON(&req); err != nil {
		raw = pipeline.MalformedBody{Err: err}
	} else {
		raw = req.Question
	}

	resp := s.handler.Handle(c.Request.Context(), clientKey(c), raw)
	if resp.Status == http.StatusTooManyRequests && resp.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	c.JSON(resp.Status, resp.Body)
}

// clientKey is the first X-Forwarded-For entry, else the peer address
func clientKey(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := c.RemoteIP(); ip != "" {
		return ip
	}
	return "unknown"
}
