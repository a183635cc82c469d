package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
)

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the contracts",
		Long:  "Sends a question to the clauseqa server and prints the answer with its sources.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAsk(NewAPIClientWithCmd(cmd), strings.Join(args, " "), topK, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to retrieve (server default when 0)")

	return cmd
}

func runAsk(api *APIClient, question string, topK int, outputJSON bool) error {
	resp, err := api.Post("/api/rag-query", handlers.QueryRequest{Query: question, TopK: topK})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var answer handlers.QueryResponse
	if err := json.Unmarshal(resp.Data, &answer); err != nil {
		return fmt.Errorf("failed to parse answer: %w", err)
	}

	if outputJSON {
		printJSON(answer)
		return nil
	}
	printAnswer(os.Stdout, &answer)
	return nil
}

func printAnswer(w io.Writer, a *handlers.QueryResponse) {
	fmt.Fprintln(w, a.Answer)
	fmt.Fprintf(w, "\n(tier: %s)\n", a.TierUsed)
	if len(a.Citations) == 0 {
		return
	}

	fmt.Fprintln(w, "\nSources:")
	for i, c := range a.Citations {
		label := c.S3Object
		if c.Page != nil {
			label = fmt.Sprintf("%s, page %d", label, *c.Page)
		}
		fmt.Fprintf(w, "%d. %s\n", i+1, label)

		snippet := c.Snippet
		if len(snippet) > 120 {
			snippet = snippet[:117] + "..."
		}
		if snippet != "" {
			fmt.Fprintf(w, "   %s\n", snippet)
		}
	}
}
