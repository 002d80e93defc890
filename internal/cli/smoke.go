package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/auditrag/internal/client"
	"github.com/ppiankov/auditrag/internal/model"
)

var defaultSmokeQuestions = []string{
	"Quais são os requisitos de segurança para dados em repouso?",
}

var (
	smokeServer    string
	smokeQuestions []string
	smokeTimeout   time.Duration
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Check a running service end to end",
	Long: `Smoke checks /api/health and asks sample questions against a running
service. It exits non-zero if the service is unhealthy or a question fails.

Example:
  auditrag smoke --server http://localhost:7071
  auditrag smoke -q "O que diz a política de senhas?"`,
	Args: cobra.NoArgs,
	RunE: runSmoke,
}

func init() {
	rootCmd.AddCommand(smokeCmd)
	smokeCmd.Flags().StringVar(&smokeServer, "server", "http://localhost:7071", "base URL of the service")
	smokeCmd.Flags().StringArrayVarP(&smokeQuestions, "question", "q", nil, "question to ask (repeatable)")
	smokeCmd.Flags().DurationVar(&smokeTimeout, "timeout", 2*time.Minute, "overall timeout")
}

func runSmoke(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), smokeTimeout)
	defer cancel()

	c := client.New(smokeServer, client.Options{Timeout: smokeTimeout})
	questions := smokeQuestions
	if len(questions) == 0 {
		questions = defaultSmokeQuestions
	}

	return smoke(ctx, c, questions)
}

type smokeClient interface {
	Health(ctx context.Context) (*model.HealthReport, error)
	Ask(ctx context.Context, question string) (*model.AnswerResponse, error)
}

func smoke(ctx context.Context, c smokeClient, questions []string) error {
	fmt.Fprintf(os.Stderr, "Checking health...\n")
	report, err := c.Health(ctx)
	if report != nil {
		fmt.Fprintf(os.Stderr, "  status:    %s\n", report.Status)
		fmt.Fprintf(os.Stderr, "  search:    %s\n", report.Services.Search)
		fmt.Fprintf(os.Stderr, "  embedding: %s\n", report.Services.Embedding)
		fmt.Fprintf(os.Stderr, "  llm:       %s\n", report.Services.LLM)
	}
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	failed := 0
	for _, q := range questions {
		fmt.Fprintf(os.Stderr, "\nAsking: %q\n", q)
		resp, err := c.Ask(ctx, q)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
			continue
		}

		fmt.Fprintf(os.Stderr, "  answer:     %s\n", preview(resp.Answer, 100))
		fmt.Fprintf(os.Stderr, "  sources:    %s\n", strings.Join(resp.Sources, "; "))
		fmt.Fprintf(os.Stderr, "  confidence: %s %s\n", resp.Confidence, resp.ConfidenceScore)
		fmt.Fprintf(os.Stderr, "  model:      %s\n", resp.Metadata.Model)
		if len(resp.Sources) > 0 {
			fmt.Fprintf(os.Stderr, "✓ sources retrieved\n")
		} else {
			fmt.Fprintf(os.Stderr, "⚠ answered without sources\n")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d questions failed", failed, len(questions))
	}
	return nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
