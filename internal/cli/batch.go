package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/auditrag/internal/client"
	"github.com/ppiankov/auditrag/internal/worker"
)

var (
	batchServer      string
	batchConcurrency int
	batchRate        int
	batchRetries     int
	batchTimeout     time.Duration
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Ask every question in a file against a running service",
	Long: `Batch reads one question per line (blank lines, # comments and repeats are
skipped) and submits them concurrently, paced to stay under the server's
per-client rate limit.

Example:
  auditrag batch questions.txt --server http://localhost:7071
  auditrag batch questions.txt --concurrency 4 --rate 20`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVar(&batchServer, "server", "http://localhost:7071", "base URL of the service")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "number of concurrent workers")
	batchCmd.Flags().IntVar(&batchRate, "rate", 10, "requests per minute (match the server's rate limit; 0 disables pacing)")
	batchCmd.Flags().IntVar(&batchRetries, "retries", 2, "retries on 429 and 503")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Server:       %s\n", batchServer)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", batchConcurrency)
	fmt.Fprintf(os.Stderr, "  Rate:         %d/min\n", batchRate)
	fmt.Fprintf(os.Stderr, "\n")

	c := client.New(batchServer, client.Options{MaxRetries: batchRetries})
	processor := worker.NewBatchProcessor(c, batchConcurrency, worker.PacerForBudget(batchRate, time.Minute))

	start := time.Now()
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	for _, r := range results {
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.Question, r.Error)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ %s [%s %s] %d source(s)\n", r.Question, r.Response.Confidence, r.Response.ConfidenceScore, len(r.Response.Sources))
	}

	summary := worker.Summarize(results)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d questions\n", summary.Total)
	fmt.Fprintf(os.Stderr, "  Answered:  %d\n", summary.Answered)
	fmt.Fprintf(os.Stderr, "  Failed:    %d\n", summary.Failed)
	for _, label := range summary.Labels() {
		fmt.Fprintf(os.Stderr, "    %-13s %d\n", label+":", summary.ByConfidence[label])
	}
	fmt.Fprintf(os.Stderr, "  Elapsed:   %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "\n")

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d questions failed", summary.Failed, summary.Total)
	}
	return nil
}
