package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/config"
	"github.com/cloo-solutions/clauseqa/internal/service"
)

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the retrieval indexes",
		Long:  "Chunk every document in the corpus directory, rebuild the lexical and dense indexes and persist them",
		RunE:  runIngest,
	}

	cmd.Flags().String("dir", "", "Corpus directory (defaults to CLAUSEQA_CORPUS_DIR)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.CorpusDir = dir
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	stack, err := BuildStack(ctx, cfg, StackOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer stack.Close()

	result, err := stack.Ingestion.Ingest(ctx, cfg.CorpusDir)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}
	printIngestResult(result)
	return nil
}

func printIngestResult(r *service.IngestResult) {
	fmt.Printf("Ingested %d documents (%d pages) into %d chunks\n", r.Documents, r.Pages, r.Chunks)
	if r.Chunks == 0 {
		fmt.Println("Warning: no chunks were produced, check the corpus directory")
		return
	}
	fmt.Printf("  Vocabulary: %d terms\n", r.Vocabulary)
	fmt.Printf("  Lexical index: %t\n", r.Lexical)
	fmt.Printf("  Embeddings: %t\n", r.Embedded)
	fmt.Printf("  Mirrored: %t\n", r.Mirrored)
	fmt.Printf("  Took: %s\n", r.Duration)
}
