package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CLAUSEQA"

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	CorpusDir string `envconfig:"CORPUS_DIR" default:"./data/contracts"`
	IndexPath string `envconfig:"INDEX_PATH" default:"./data/index/lexical.json.gz"`

	// Chunking
	ChunkWindowWords  int `envconfig:"CHUNK_WINDOW_WORDS" default:"200"`
	ChunkOverlapWords int `envconfig:"CHUNK_OVERLAP_WORDS" default:"50"`
	ChunkMinChars     int `envconfig:"CHUNK_MIN_CHARS" default:"50"`
	ChunkMaxPerPage   int `envconfig:"CHUNK_MAX_PER_PAGE" default:"0"`

	// Retrieval
	MaxVocabulary   int           `envconfig:"MAX_VOCABULARY" default:"5000"`
	TopK            int           `envconfig:"TOP_K" default:"5"`
	LexicalMinScore float64       `envconfig:"LEXICAL_MIN_SCORE" default:"0.003"`
	DenseMinScore   float64       `envconfig:"DENSE_MIN_SCORE" default:"0.2"`
	SnippetMaxChars int           `envconfig:"SNIPPET_MAX_CHARS" default:"400"`
	MaxContextChars int           `envconfig:"MAX_CONTEXT_CHARS" default:"6000"`
	TierTimeout     time.Duration `envconfig:"TIER_TIMEOUT" default:"30s"`
	ReindexInterval time.Duration `envconfig:"REINDEX_INTERVAL" default:"0s"`

	// OpenAI: embeddings for the dense tier and answer generation
	OpenAIAPIKey          string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL         string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel        string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions   int     `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	ChatModel             string  `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	ChatMaxTokens         int     `envconfig:"CHAT_MAX_TOKENS" default:"500"`
	ChatTemperature       float32 `envconfig:"CHAT_TEMPERATURE" default:"0.2"`
	OpenAIRequestsPerSec  float64 `envconfig:"OPENAI_REQUESTS_PER_SECOND" default:"0"`
	DisableDenseRetrieval bool    `envconfig:"DISABLE_DENSE" default:"false"`

	// Dense embedding persistence
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// AWS Bedrock knowledge base
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
	KnowledgeBaseID string `envconfig:"KNOWLEDGE_BASE_ID"`
	BedrockModelID  string `envconfig:"BEDROCK_MODEL_ID" default:"anthropic.claude-3-5-sonnet-20241022-v1:0"`

	// S3 mirror of the lexical index
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3IndexKey  string `envconfig:"S3_INDEX_KEY" default:"indexes/lexical.json.gz"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	switch {
	case c.ChunkWindowWords <= 0:
		return fmt.Errorf("invalid config: %s_CHUNK_WINDOW_WORDS must be positive", EnvPrefix)
	case c.ChunkOverlapWords < 0 || c.ChunkOverlapWords >= c.ChunkWindowWords:
		return fmt.Errorf("invalid config: %s_CHUNK_OVERLAP_WORDS must be in [0, window)", EnvPrefix)
	case c.ChunkMaxPerPage < 0:
		return fmt.Errorf("invalid config: %s_CHUNK_MAX_PER_PAGE cannot be negative", EnvPrefix)
	case c.TopK <= 0:
		return fmt.Errorf("invalid config: %s_TOP_K must be positive", EnvPrefix)
	case c.MaxVocabulary <= 0:
		return fmt.Errorf("invalid config: %s_MAX_VOCABULARY must be positive", EnvPrefix)
	}
	return nil
}

// HasS3 reports whether the index mirror bucket is configured. Credentials
// fall back to the default AWS chain when keys are not given.
func (c *Config) HasS3() bool {
	return c.S3Bucket != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasKnowledgeBase() bool {
	return c.KnowledgeBaseID != ""
}

// Tiers describes which retrieval tiers this configuration enables.
func (c *Config) Tiers() domain.TierConfig {
	return domain.TierConfig{
		ManagedKnowledgeBaseID: c.KnowledgeBaseID,
		EmbeddingsEnabled:      c.HasOpenAI() && !c.DisableDenseRetrieval,
		LexicalIndexPath:       c.IndexPath,
		DenseStoreConfigured:   c.HasDatabase(),
	}
}
