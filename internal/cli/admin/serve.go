package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
	"github.com/cloo-solutions/clauseqa/internal/config"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/jobs"
	"github.com/cloo-solutions/clauseqa/internal/server"
	"github.com/cloo-solutions/clauseqa/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Restore or build the retrieval indexes and start the clauseqa API server",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	stack, err := BuildStack(ctx, cfg, StackOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer stack.Close()

	var indexed string
	if result, err := stack.Ingestion.Restore(ctx, cfg.CorpusDir); err != nil {
		if !errors.Is(err, domain.ErrIndexNotBuilt) {
			log.Printf("failed to restore indexes: %v", err)
		}
		log.Printf("serving without an index, POST /api/rag-ingest once documents are in %s", cfg.CorpusDir)
	} else {
		log.Printf("indexes ready: %d chunks from %s", result.Chunks, result.Source)
		indexed = result.Fingerprint
	}

	var reindexWorker *jobs.Worker
	if cfg.ReindexInterval > 0 {
		processor := jobs.NewReindexProcessor(stack.Ingestion, cfg.CorpusDir, indexed)
		reindexWorker = jobs.NewWorker("reindex", processor, cfg.ReindexInterval)
		go reindexWorker.Start(ctx)
		log.Printf("reindex worker started (every %s)", cfg.ReindexInterval)
	}

	ragHandler := handlers.NewRAGHandler(stack.Orchestrator, stack.Ingestion, stack.Provider, cfg.CorpusDir, stack.Info)
	router := server.NewRouter(server.RouterConfig{RAGHandler: ragHandler})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if reindexWorker != nil {
		reindexWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// initTelemetry starts Sentry when a DSN is configured.
func initTelemetry(cfg *config.Config) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}

	// 10% sampling in production, everything in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		return func() {}
	}
	return shutdown
}
