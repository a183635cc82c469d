package admin

import (
	"context"
	"fmt"
	"log"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
	"github.com/cloo-solutions/clauseqa/internal/config"
	"github.com/cloo-solutions/clauseqa/internal/database"
	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/lexical"
	"github.com/cloo-solutions/clauseqa/internal/managed"
	"github.com/cloo-solutions/clauseqa/internal/openai"
	"github.com/cloo-solutions/clauseqa/internal/repository"
	"github.com/cloo-solutions/clauseqa/internal/service"
	"github.com/cloo-solutions/clauseqa/internal/storage"
)

// Stack is every component a server or one-shot command needs.
type Stack struct {
	Config       *config.Config
	Provider     *service.AtomicIndexProvider
	Ingestion    *service.IngestionService
	Orchestrator *service.Orchestrator
	Info         handlers.HealthInfo

	closers []func()
}

// StackOptions controls optional start-up steps.
type StackOptions struct {
	Migrate bool
}

// Close releases connections opened by BuildStack.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// BuildStack connects the configured backends and assembles the query and
// ingestion services. Optional backends that are not configured are skipped.
func BuildStack(ctx context.Context, cfg *config.Config, opts StackOptions) (*Stack, error) {
	s := &Stack{Config: cfg, Provider: service.NewAtomicIndexProvider()}
	deps := service.IngestionDeps{}

	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		log.Println("connected to database")

		if opts.Migrate {
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		deps.Embeddings = repository.NewChunkEmbeddingRepository(pool)
	}

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    cfg.S3Endpoint != "",
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		deps.Mirror = s3Client
	}

	var generator service.Generator
	var embedder dense.Embedder
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
			MaxTokens:           cfg.ChatMaxTokens,
			Temperature:         cfg.ChatTemperature,
			RequestsPerSecond:   cfg.OpenAIRequestsPerSec,
		})
		generator = client
		if cfg.Tiers().EmbeddingsEnabled {
			embedder = client
			deps.Embedder = client
		}
		s.Info.Model = cfg.ChatModel
		s.Info.GenerationOn = true
	}

	var kb service.KnowledgeBase
	if cfg.HasKnowledgeBase() {
		client, err := managed.NewClient(ctx, managed.Config{
			Region:          cfg.AWSRegion,
			KnowledgeBaseID: cfg.KnowledgeBaseID,
			ModelID:         cfg.BedrockModelID,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create knowledge base client: %w", err)
		}
		kb = client
		s.Info.Region = cfg.AWSRegion
		s.Info.ManagedKBID = cfg.KnowledgeBaseID
	}

	s.Ingestion = service.NewIngestionService(s.Provider, deps, service.IngestionConfig{
		Chunking: service.ChunkConfig{
			WindowWords:      cfg.ChunkWindowWords,
			OverlapWords:     cfg.ChunkOverlapWords,
			MinChars:         cfg.ChunkMinChars,
			MaxChunksPerPage: cfg.ChunkMaxPerPage,
		},
		Lexical: lexical.Config{
			MaxVocabulary: cfg.MaxVocabulary,
			NGramMax:      lexical.DefaultNGramMax,
		},
		Dense:       dense.BuildOptions{Model: cfg.EmbeddingModel},
		IndexPath:   cfg.IndexPath,
		ArtifactKey: cfg.S3IndexKey,
	})

	tiers := buildTiers(cfg, s.Provider, embedder, kb)
	synth := service.NewSynthesizer(generator, service.SynthesizerConfig{MaxContextChars: cfg.MaxContextChars})
	s.Orchestrator = service.NewOrchestrator(tiers, synth, service.OrchestratorConfig{
		TopK:            cfg.TopK,
		SnippetMaxChars: cfg.SnippetMaxChars,
		TierTimeout:     cfg.TierTimeout,
	})

	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t.Name())
	}
	log.Printf("retrieval tiers: %v", names)

	return s, nil
}

// buildTiers creates the configured tiers in priority order. A tier whose
// backend is missing is left out.
func buildTiers(cfg *config.Config, provider service.IndexProvider, embedder dense.Embedder, kb service.KnowledgeBase) []service.Tier {
	var tiers []service.Tier
	for _, name := range cfg.Tiers().Configured() {
		switch name {
		case domain.TierManaged:
			if kb != nil {
				tiers = append(tiers, service.NewManagedTier(kb))
			}
		case domain.TierDense:
			if embedder != nil {
				tiers = append(tiers, service.NewDenseTier(provider, embedder, cfg.DenseMinScore))
			}
		case domain.TierLexical:
			tiers = append(tiers, service.NewLexicalTier(provider, cfg.LexicalMinScore))
		case domain.TierKeyword:
			tiers = append(tiers, service.NewKeywordTier(provider))
		}
	}
	return tiers
}
