package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/service"
)

// IngestResponse mirrors the ingest endpoint payload.
type IngestResponse struct {
	Status string               `json:"status"`
	Result service.IngestResult `json:"result"`
}

// IngestCmd creates the ingest command.
func IngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the server's indexes",
		Long:  "Asks the server to re-read its corpus directory and rebuild every retrieval index.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIngest(NewAPIClientWithCmd(cmd), outputJSON)
		},
	}
}

func runIngest(api *APIClient, outputJSON bool) error {
	resp, err := api.Post("/api/rag-ingest", nil)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	var ingest IngestResponse
	if err := json.Unmarshal(resp.Data, &ingest); err != nil {
		return fmt.Errorf("failed to parse ingest result: %w", err)
	}

	if outputJSON {
		printJSON(ingest)
		return nil
	}

	r := ingest.Result
	fmt.Printf("%s: %d documents, %d pages, %d chunks\n", ingest.Status, r.Documents, r.Pages, r.Chunks)
	if r.Chunks > 0 {
		fmt.Printf("  embeddings: %t, mirrored: %t, took %s\n", r.Embedded, r.Mirrored, r.Duration)
	}
	return nil
}
