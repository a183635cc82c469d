// Package managed queries an AWS Bedrock knowledge base, which retrieves and
// generates in a single call.
package managed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

const (
	DefaultRegion      = "us-east-1"
	DefaultModelID     = "anthropic.claude-3-5-sonnet-20241022-v1:0"
	DefaultMaxResults  = 5
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.2
	DefaultTopP        = 0.9
	// DefaultSnippetChars bounds the passage text kept per reference.
	DefaultSnippetChars = 500

	backendName = "bedrock"
)

// DefaultPromptTemplate instructs the model to stay within the retrieved passages.
// $search_results$ and $query$ are substituted by the service.
const DefaultPromptTemplate = `You are a legal assistant answering questions about contracts and legal documents.
Use only the information in the search results below. Quote the relevant clause where possible and name the document it came from.
If the search results do not contain the answer, say that the provided documents do not contain this information.

Search results:
$search_results$

Question: $query$`

// RetrieveAndGenerateAPI is the subset of the Bedrock Agent Runtime client used here.
type RetrieveAndGenerateAPI interface {
	RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// Config selects the knowledge base and generation parameters.
type Config struct {
	Region          string
	KnowledgeBaseID string
	ModelID         string
	MaxResults      int
	MaxTokens       int
	Temperature     float32
	TopP            float32
	PromptTemplate  string
	SnippetChars    int
}

func (c Config) withDefaults() Config {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.ModelID == "" {
		c.ModelID = DefaultModelID
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.TopP <= 0 {
		c.TopP = DefaultTopP
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultPromptTemplate
	}
	if c.SnippetChars <= 0 {
		c.SnippetChars = DefaultSnippetChars
	}
	return c
}

// ModelARN returns the foundation model ARN for the configured region.
func (c Config) ModelARN() string {
	if strings.HasPrefix(c.ModelID, "arn:") {
		return c.ModelID
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", c.Region, c.ModelID)
}

// Reference is a passage the knowledge base grounded its answer on.
type Reference struct {
	SourceURI string
	Page      *int
	Text      string
	Metadata  map[string]any
}

// Answer is the generated text plus the references the service cited.
type Answer struct {
	Text       string
	References []Reference
	SessionID  string
}

// Client calls RetrieveAndGenerate against a single knowledge base.
type Client struct {
	api RetrieveAndGenerateAPI
	cfg Config
}

// NewClient loads AWS credentials from the environment and builds a client.
// Retries are left to the caller so a failing knowledge base falls through quickly.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.KnowledgeBaseID == "" {
		return nil, domain.NewConfigurationError("knowledge base id is required", nil)
	}
	cfg = cfg.withDefaults()

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewClientWithAPI(bedrockagentruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api RetrieveAndGenerateAPI, cfg Config) *Client {
	return &Client{api: api, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// RetrieveAndGenerate answers query from the knowledge base.
func (c *Client) RetrieveAndGenerate(ctx context.Context, query string) (*Answer, error) {
	out, err := c.api.RetrieveAndGenerate(ctx, c.input(query))
	if err != nil {
		return nil, classifyError(err)
	}
	if out == nil || out.Output == nil {
		return nil, domain.NewBackendError(backendName, domain.KindEmptyResponse, errors.New("no output returned"))
	}

	answer := &Answer{
		Text:      strings.TrimSpace(aws.ToString(out.Output.Text)),
		SessionID: aws.ToString(out.SessionId),
	}
	for _, citation := range out.Citations {
		for _, ref := range citation.RetrievedReferences {
			answer.References = append(answer.References, c.reference(ref))
		}
	}
	return answer, nil
}

func (c *Client) input(query string) *bedrockagentruntime.RetrieveAndGenerateInput {
	return &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(query)},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(c.cfg.KnowledgeBaseID),
				ModelArn:        aws.String(c.cfg.ModelARN()),
				RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
					VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
						NumberOfResults: aws.Int32(int32(c.cfg.MaxResults)),
					},
				},
				GenerationConfiguration: &types.GenerationConfiguration{
					PromptTemplate: &types.PromptTemplate{
						TextPromptTemplate: aws.String(c.cfg.PromptTemplate),
					},
					InferenceConfig: &types.InferenceConfig{
						TextInferenceConfig: &types.TextInferenceConfig{
							MaxTokens:   aws.Int32(int32(c.cfg.MaxTokens)),
							Temperature: aws.Float32(c.cfg.Temperature),
							TopP:        aws.Float32(c.cfg.TopP),
						},
					},
				},
			},
		},
	}
}

func (c *Client) reference(ref types.RetrievedReference) Reference {
	r := Reference{
		SourceURI: locationURI(ref.Location),
		Metadata:  decodeMetadata(ref.Metadata),
	}
	if ref.Content != nil {
		r.Text = truncate(aws.ToString(ref.Content.Text), c.cfg.SnippetChars)
	}
	r.Page = pageFromMetadata(r.Metadata)
	return r
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
