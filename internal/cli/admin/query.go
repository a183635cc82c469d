package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/config"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/service"
)

// QueryCmd answers a question in-process, without a running server.
func QueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question against the local indexes",
		Long:  "Restore the persisted indexes (ingesting the corpus if none exist) and answer one question",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}

	cmd.Flags().IntP("top-k", "k", 0, "Number of passages to retrieve (defaults to CLAUSEQA_TOP_K)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")
	topK, _ := cmd.Flags().GetInt("top-k")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stack, err := BuildStack(ctx, cfg, StackOptions{})
	if err != nil {
		return err
	}
	defer stack.Close()

	if _, err := stack.Ingestion.Restore(ctx, cfg.CorpusDir); err != nil {
		return fmt.Errorf("failed to load indexes: %w", err)
	}

	outcome, err := stack.Orchestrator.Query(ctx, service.QueryInput{
		Query: strings.Join(args, " "),
		TopK:  topK,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}
	printOutcome(os.Stdout, outcome)
	return nil
}

func printOutcome(w io.Writer, o *domain.QueryOutcome) {
	fmt.Fprintln(w, o.Answer)
	fmt.Fprintln(w)
	if o.Reasoning != "" {
		fmt.Fprintf(w, "(%s, tier: %s)\n", o.Reasoning, o.TierUsed)
	} else {
		fmt.Fprintf(w, "(tier: %s)\n", o.TierUsed)
	}
	if len(o.Citations) == 0 {
		return
	}

	fmt.Fprintln(w, "\nSources:")
	for i, c := range o.Citations {
		label := c.SourceID
		if c.Page != nil {
			label = fmt.Sprintf("%s, page %d", c.SourceID, *c.Page)
		}
		if c.Confidence != nil {
			fmt.Fprintf(w, "%d. %s (%.3f)\n", i+1, label, *c.Confidence)
		} else {
			fmt.Fprintf(w, "%d. %s\n", i+1, label)
		}
	}
}
