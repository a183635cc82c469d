package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
)

// HealthCmd creates the health command.
func HealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server retrieval status",
		Long:  "Prints the configured tiers, their probe state and the loaded index statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runHealth(NewAPIClientWithCmd(cmd), outputJSON)
		},
	}
}

func runHealth(api *APIClient, outputJSON bool) error {
	resp, err := api.Get("/api/rag-health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	var health handlers.HealthResponse
	if err := json.Unmarshal(resp.Data, &health); err != nil {
		return fmt.Errorf("failed to parse health response: %w", err)
	}

	if outputJSON {
		printJSON(health)
		return nil
	}

	fmt.Printf("Status: %s (mode: %s)\n", health.Status, health.Mode)
	if health.KnowledgeBaseID != "" {
		fmt.Printf("Knowledge base: %s (%s)\n", health.KnowledgeBaseID, health.Region)
	}
	fmt.Printf("Index: %d chunks, %d terms, embedded: %t\n", health.Index.Chunks, health.Index.Vocabulary, health.Index.Embedded)
	fmt.Println("Tiers:")
	for _, t := range health.Tiers {
		state := "available"
		switch {
		case !t.Probed:
			state = "not probed"
		case !t.Available:
			state = "unavailable: " + t.Error
		}
		fmt.Printf("  %-8s %s\n", t.Tier, state)
	}
	if health.IngestRunning {
		fmt.Println("An ingestion is in progress.")
	}
	return nil
}
