package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/auditrag/internal/logging"
	"github.com/ppiankov/auditrag/internal/metrics"
	"github.com/ppiankov/auditrag/internal/pipeline"
	"github.com/ppiankov/auditrag/internal/server"
	"github.com/ppiankov/auditrag/internal/tracing"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the question-answering HTTP service",
	Long: `Serve POST /api/ask_compliance, GET /api/health and GET /metrics.

Example:
  auditrag serve
  auditrag serve --addr :8080 --posture permissive`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper(), posture)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Setup(cfg.Tracing, Version, nil)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	m := metrics.New()
	p, services, err := pipeline.Build(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := services.Close(closeCtx); err != nil {
			logger.Warn("closing collaborators", zap.Error(err))
		}
	}()

	checks := server.Checks{
		Search:    services.Search,
		Embedding: services.Embedder,
		LLM:       services.Provider,
	}

	logger.Info("starting auditrag",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("search", cfg.Search.Backend),
		zap.String("generator", cfg.LLM.Provider),
		zap.Float64("min_relevance", cfg.Retrieval.MinRelevance),
		zap.Int("top_k", cfg.Retrieval.TopK),
		zap.Int("rate_limit", cfg.RateLimit.Requests),
		zap.Bool("strict_validation", cfg.Validation.Strict),
		zap.Bool("tracing", tp.Enabled()))

	srv := server.New(cfg.Server, p, checks, services.Limiter, m, logger)
	return srv.Run(ctx)
}
