package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/cli"
	"github.com/cloo-solutions/clauseqa/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clauseqad",
		Short: "Clauseqa daemon and CLI",
		Long:  "Clauseqa daemon for serving contract questions and building the retrieval indexes",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.IngestCmd())
	rootCmd.AddCommand(admin.QueryCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
