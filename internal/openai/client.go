package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from text-embedding-3-small
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel answers questions from retrieved passages
	DefaultChatModel = openai.GPT4oMini
	// DefaultMaxTokens bounds generated answers
	DefaultMaxTokens = 500
	// DefaultTemperature keeps answers close to the quoted context
	DefaultTemperature = 0.2

	backendName = "openai"
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatAPI defines the interface for text generation
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the OpenAI API client
type Client struct {
	api         EmbeddingAPI
	chat        ChatAPI
	limiter     *rate.Limiter
	dimensions  int
	chatModel   string
	maxTokens   int
	temperature float32
}

// OpenAIAdapter implements EmbeddingAPI and ChatAPI with the go-openai client.
type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAIAdapter creates an adapter for cfg, honouring a custom BaseURL.
func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: cfg.EmbeddingDimensions,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings for a batch of inputs
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	}
	// text-embedding-3 models accept a reduced output size
	if a.dimensions > 0 && a.model != openai.AdaEmbeddingV2 {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CreateChatCompletion forwards to the OpenAI chat endpoint
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return a.client.CreateChatCompletion(ctx, req)
}

// Config configures the embedding and chat clients.
type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
	MaxTokens           int
	Temperature         float32
	// RequestsPerSecond throttles every call; 0 disables throttling.
	RequestsPerSecond float64
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	adapter := NewOpenAIAdapter(cfg)
	return newClient(adapter, adapter, cfg)
}

func newClient(api EmbeddingAPI, chat ChatAPI, cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		api:         api,
		chat:        chat,
		limiter:     rate.NewLimiter(limit, 1),
		dimensions:  dimensions,
		chatModel:   chatModel,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Dimensions returns the embedding size the client enforces.
func (c *Client) Dimensions() int { return c.dimensions }

// EmbedBatch embeds texts in one request, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyText
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewBackendError(backendName, domain.KindTransport, err)
	}

	embeddings, err := c.api.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", classifyError(err))
	}

	for _, e := range embeddings {
		if len(e) != c.dimensions {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(e))
		}
	}
	return embeddings, nil
}

// Generate returns the model's completion for a single-turn prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyText
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", domain.NewBackendError(backendName, domain.KindTransport, err)
	}

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", classifyError(err))
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", domain.NewBackendError(backendName, domain.KindEmptyResponse, errors.New("no completion returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Model returns the generation model name.
func (c *Client) Model() string { return c.chatModel }

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsBackendError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isQuotaCode(apiErr.Code) || apiErr.Type == "insufficient_quota" {
			return domain.NewBackendError(backendName, domain.KindRateLimited, err)
		}
		return domain.NewBackendError(backendName, kindForStatus(apiErr.HTTPStatusCode), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewBackendError(backendName, kindForStatus(reqErr.HTTPStatusCode), err)
	}

	return domain.NewBackendError(backendName, domain.KindTransport, err)
}

func isQuotaCode(code any) bool {
	s, ok := code.(string)
	return ok && (s == "insufficient_quota" || s == "rate_limit_exceeded")
}

func kindForStatus(status int) domain.BackendKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAccessDenied
	case status == http.StatusNotFound:
		return domain.KindNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.KindInvalidInput
	default:
		return domain.KindTransport
	}
}
