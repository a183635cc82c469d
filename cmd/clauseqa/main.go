package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/cli"
	"github.com/cloo-solutions/clauseqa/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clauseqa",
		Short: "Clauseqa CLI - ask questions about your contracts",
		Long: `Clauseqa CLI talks to a running clauseqad server.

Environment variables:
  CLAUSEQA_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	rootCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "Request timeout")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.HealthCmd())
	rootCmd.AddCommand(client.IngestCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
