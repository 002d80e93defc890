package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/auditrag/internal/client"
	"github.com/ppiankov/auditrag/internal/logging"
	"github.com/ppiankov/auditrag/internal/pipeline"
)

var (
	serverURL  string
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and print the JSON response",
	Long: `Ask runs the full pipeline in-process against the configured collaborators,
or calls a running service when --server is given.

Example:
  auditrag ask "Quais são os requisitos de segurança para dados em repouso?"
  auditrag ask --server http://localhost:7071 "O que diz a política de senhas?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&serverURL, "server", "", "base URL of a running auditrag service")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "overall timeout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	if serverURL != "" {
		c := client.New(serverURL, client.Options{Timeout: askTimeout})
		resp, err := c.Ask(ctx, question)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}

	cfg, err := loadConfig(viper.GetViper(), posture)
	if err != nil {
		return err
	}
	if !verbose {
		cfg.Logging.Level = "warn"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, services, err := pipeline.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = services.Close(context.Background()) }()

	resp := p.Ask(ctx, "cli", question)
	if err := printJSON(resp.Body); err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.Status)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
