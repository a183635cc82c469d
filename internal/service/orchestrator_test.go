package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/lexical"
	"github.com/cloo-solutions/clauseqa/internal/managed"
)

const (
	terminationClause = "Either party may terminate this Agreement for termination upon thirty (30) days written notice to the other party."
	paymentClause     = "Payment amounts of five thousand dollars are due monthly by wire transfer to the supplier account."
)

func contractChunks() []domain.Chunk {
	return []domain.Chunk{
		domain.NewChunk("msa.pdf", 4, 0, terminationClause),
		domain.NewChunk("msa.pdf", 7, 0, paymentClause),
	}
}

func publishedProvider(t *testing.T, chunks []domain.Chunk) *AtomicIndexProvider {
	t.Helper()
	ix, err := lexical.Build(chunks, lexical.DefaultConfig())
	require.NoError(t, err)
	p := NewAtomicIndexProvider()
	p.Publish(&Snapshot{Chunks: chunks, Lexical: ix})
	return p
}

func lexicalOnly(t *testing.T, provider IndexProvider) *Orchestrator {
	t.Helper()
	return NewOrchestrator([]Tier{
		NewLexicalTier(provider, lexical.DefaultMinScore),
		NewKeywordTier(provider),
	}, nil, OrchestratorConfig{})
}

func TestOrchestrator_LexicalServesTerminationQuery(t *testing.T) {
	o := lexicalOnly(t, publishedProvider(t, contractChunks()))

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination notice period"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierLexical, outcome.TierUsed)
	require.Len(t, outcome.Citations, 1)
	c := outcome.Citations[0]
	assert.Equal(t, "msa.pdf", c.SourceID)
	require.NotNil(t, c.Page)
	assert.Equal(t, 4, *c.Page)
	require.NotNil(t, c.Confidence)
	assert.Greater(t, *c.Confidence, lexical.DefaultMinScore)
	assert.Contains(t, outcome.Answer, terminationClause)
	assert.Contains(t, outcome.Reasoning, "Found 1 relevant passages using TF-IDF similarity")
	assert.Equal(t, []domain.TierAttempt{{Tier: domain.TierLexical, Outcome: domain.AttemptServed}}, outcome.Attempts)
}

func TestOrchestrator_DenseUnavailableFallsThrough(t *testing.T) {
	provider := publishedProvider(t, contractChunks())
	denseTier := newMockTier(domain.TierDense)
	denseTier.On("Probe", mock.Anything).Return(nil)
	denseTier.On("Retrieve", mock.Anything, "termination notice", 5).
		Return(nil, domain.NewTierUnavailable(domain.TierDense, errors.New("embedding service down"))).Once()

	o := NewOrchestrator([]Tier{denseTier, NewLexicalTier(provider, lexical.DefaultMinScore), NewKeywordTier(provider)}, nil, OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination notice"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierLexical, outcome.TierUsed)
	require.Len(t, outcome.Attempts, 2)
	assert.Equal(t, domain.AttemptFellThrough, outcome.Attempts[0].Outcome)
	assert.Contains(t, outcome.Attempts[0].Error, "embedding service down")
	denseTier.AssertExpectations(t)
}

func TestOrchestrator_ProbeFailureSkipsTierForProcessLifetime(t *testing.T) {
	provider := publishedProvider(t, contractChunks())
	denseTier := newMockTier(domain.TierDense)
	denseTier.On("Probe", mock.Anything).Return(errors.New("401 unauthorized")).Once()

	o := NewOrchestrator([]Tier{denseTier, NewLexicalTier(provider, lexical.DefaultMinScore)}, nil, OrchestratorConfig{})

	for i := 0; i < 2; i++ {
		outcome, err := o.Query(context.Background(), QueryInput{Query: "payment wire transfer"})
		require.NoError(t, err)
		assert.Equal(t, domain.TierLexical, outcome.TierUsed)
		assert.Equal(t, domain.AttemptSkipped, outcome.Attempts[0].Outcome)
	}

	denseTier.AssertExpectations(t)
	denseTier.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything)

	status := o.Status()
	require.Len(t, status, 2)
	assert.True(t, status[0].Probed)
	assert.False(t, status[0].Available)
	assert.True(t, status[1].Available)
}

func TestOrchestrator_ZeroResultsIsFinal(t *testing.T) {
	provider := publishedProvider(t, contractChunks())
	keyword := newMockTier(domain.TierKeyword)
	keyword.On("Probe", mock.Anything).Return(nil)

	o := NewOrchestrator([]Tier{NewLexicalTier(provider, lexical.DefaultMinScore), keyword}, nil, OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "indemnification obligations"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierLexical, outcome.TierUsed)
	assert.Equal(t, NoInformationAnswer, outcome.Answer)
	assert.Empty(t, outcome.Citations)
	assert.NotNil(t, outcome.Citations)
	keyword.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_RetriesTransportOnce(t *testing.T) {
	kb := new(MockKnowledgeBase)
	transport := domain.NewBackendError("bedrock", domain.KindTransport, errors.New("connection reset"))
	kb.On("RetrieveAndGenerate", mock.Anything, "notice period").Return(nil, transport).Once()
	kb.On("RetrieveAndGenerate", mock.Anything, "notice period").Return(&managed.Answer{
		Text: "Thirty days written notice.",
		References: []managed.Reference{
			{SourceURI: "s3://contracts/msa.pdf", Page: intPtr(4), Text: "thirty (30) days written notice"},
		},
	}, nil).Once()

	o := NewOrchestrator([]Tier{NewManagedTier(kb)}, nil, OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "notice period"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierManaged, outcome.TierUsed)
	assert.Equal(t, "Thirty days written notice.", outcome.Answer)
	require.Len(t, outcome.Citations, 1)
	assert.Equal(t, "s3://contracts/msa.pdf", outcome.Citations[0].SourceID)
	assert.Nil(t, outcome.Citations[0].Confidence)
	assert.Equal(t, "managed_kb", outcome.Citations[0].RawMetadata["tier"])
	kb.AssertExpectations(t)
}

func TestOrchestrator_RateLimitedTwiceFallsThrough(t *testing.T) {
	provider := publishedProvider(t, contractChunks())
	kb := new(MockKnowledgeBase)
	throttled := domain.NewBackendError("bedrock", domain.KindRateLimited, errors.New("throttled"))
	kb.On("RetrieveAndGenerate", mock.Anything, mock.Anything).Return(nil, throttled).Twice()

	o := NewOrchestrator([]Tier{NewManagedTier(kb), NewLexicalTier(provider, lexical.DefaultMinScore)}, nil, OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierLexical, outcome.TierUsed)
	kb.AssertNumberOfCalls(t, "RetrieveAndGenerate", 2)
}

func TestOrchestrator_ConfigurationErrorSurfaced(t *testing.T) {
	provider := publishedProvider(t, contractChunks())
	kb := new(MockKnowledgeBase)
	kb.On("RetrieveAndGenerate", mock.Anything, mock.Anything).
		Return(nil, domain.NewBackendError("bedrock", domain.KindNotFound, errors.New("no such knowledge base")))

	o := NewOrchestrator([]Tier{NewManagedTier(kb), NewLexicalTier(provider, lexical.DefaultMinScore)}, nil, OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination"})

	assert.Nil(t, outcome)
	assert.True(t, domain.HasCode(err, domain.ErrCodeConfiguration))
	kb.AssertNumberOfCalls(t, "RetrieveAndGenerate", 1)
}

func TestOrchestrator_BackendRejectionSurfaced(t *testing.T) {
	dense := newMockTier(domain.TierDense)
	dense.On("Probe", mock.Anything).Return(nil)
	dense.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.NewBackendError("openai", domain.KindAccessDenied, errors.New("invalid api key")))
	keyword := newMockTier(domain.TierKeyword)

	o := NewOrchestrator([]Tier{dense, keyword}, nil, OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination"})

	assert.Nil(t, outcome)
	assert.True(t, domain.HasCode(err, domain.ErrCodeConfiguration))
	be, ok := domain.AsBackendError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindAccessDenied, be.Kind)
	dense.AssertNumberOfCalls(t, "Retrieve", 1)
	keyword.AssertNotCalled(t, "Probe", mock.Anything)
}

func TestOrchestrator_UnavailableTierWithRejectionFallsThrough(t *testing.T) {
	provider := publishedProvider(t, contractChunks())
	dense := newMockTier(domain.TierDense)
	dense.On("Probe", mock.Anything).Return(nil)
	dense.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.NewTierUnavailable(domain.TierDense,
			domain.NewBackendError("openai", domain.KindAccessDenied, errors.New("invalid api key"))))

	o := NewOrchestrator([]Tier{dense, NewLexicalTier(provider, lexical.DefaultMinScore)}, nil, OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination notice"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierLexical, outcome.TierUsed)
}

func TestOrchestrator_LexicalBuildFailureUsesKeyword(t *testing.T) {
	provider := NewAtomicIndexProvider()
	provider.Publish(&Snapshot{Chunks: contractChunks()})

	o := lexicalOnly(t, provider)

	outcome, err := o.Query(context.Background(), QueryInput{Query: "wire transfer"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierKeyword, outcome.TierUsed)
	require.Len(t, outcome.Citations, 1)
	assert.Equal(t, 7, *outcome.Citations[0].Page)
	assert.Nil(t, outcome.Citations[0].Confidence)
	assert.Equal(t, 2, outcome.Citations[0].RawMetadata["keyword_hits"])
}

func TestOrchestrator_KeywordConfidenceStaysInRange(t *testing.T) {
	provider := NewAtomicIndexProvider()
	provider.Publish(&Snapshot{Chunks: []domain.Chunk{
		domain.NewChunk("lease.txt", 2, 0, "Rent is due monthly. Unpaid rent accrues interest; rent, rent, rent and rent."),
	}})

	outcome, err := lexicalOnly(t, provider).Query(context.Background(), QueryInput{Query: "rent"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierKeyword, outcome.TierUsed)
	require.Len(t, outcome.Citations, 1)
	assert.Equal(t, 6, outcome.Citations[0].RawMetadata["keyword_hits"])
	assertConfidenceInRange(t, outcome.Citations)
}

func TestOrchestrator_LexicalConfidenceStaysInRange(t *testing.T) {
	o := lexicalOnly(t, publishedProvider(t, contractChunks()))

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination notice wire transfer"})
	require.NoError(t, err)

	require.NotEmpty(t, outcome.Citations)
	assertConfidenceInRange(t, outcome.Citations)
}

func assertConfidenceInRange(t *testing.T, citations []domain.Citation) {
	t.Helper()
	for i, c := range citations {
		if c.Confidence == nil {
			continue
		}
		assert.GreaterOrEqual(t, *c.Confidence, 0.0, "citation %d", i)
		assert.LessOrEqual(t, *c.Confidence, 1.0, "citation %d", i)
	}
}

func TestOrchestrator_IndexNotBuiltReturnsEmpty(t *testing.T) {
	o := lexicalOnly(t, NewAtomicIndexProvider())

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination"})
	require.NoError(t, err)

	assert.Equal(t, domain.TierLexical, outcome.TierUsed)
	assert.Equal(t, NoInformationAnswer, outcome.Answer)
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	tier := newMockTier(domain.TierLexical)
	o := NewOrchestrator([]Tier{tier}, nil, OrchestratorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Query(ctx, QueryInput{Query: "termination"})

	assert.ErrorIs(t, err, context.Canceled)
	tier.AssertNotCalled(t, "Probe", mock.Anything)
}

func TestOrchestrator_EmptyQuery(t *testing.T) {
	o := lexicalOnly(t, NewAtomicIndexProvider())

	_, err := o.Query(context.Background(), QueryInput{Query: "   "})

	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestOrchestrator_NoTierAvailable(t *testing.T) {
	dense := newMockTier(domain.TierDense)
	dense.On("Probe", mock.Anything).Return(nil)
	dense.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.NewTierUnavailable(domain.TierDense, errors.New("down")))

	o := NewOrchestrator([]Tier{dense}, nil, OrchestratorConfig{})

	_, err := o.Query(context.Background(), QueryInput{Query: "termination"})

	assert.ErrorIs(t, err, domain.ErrNoTierAvailable)
	assert.ErrorIs(t, err, domain.ErrTierUnavailable)
}

func TestOrchestrator_TopKOverride(t *testing.T) {
	tier := newMockTier(domain.TierLexical)
	tier.On("Probe", mock.Anything).Return(nil)
	tier.On("Retrieve", mock.Anything, "rent", 2).Return(&TierResponse{}, nil)

	o := NewOrchestrator([]Tier{tier}, nil, OrchestratorConfig{TopK: 7})

	_, err := o.Query(context.Background(), QueryInput{Query: "rent", TopK: 2})
	require.NoError(t, err)
	tier.AssertExpectations(t)
}

func TestOrchestrator_SynthesizerUsesGenerator(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "[From msa.pdf, Page 4]") &&
			strings.Contains(prompt, "Question: termination notice period")
	})).Return("Thirty days written notice is required.", nil)

	provider := publishedProvider(t, contractChunks())
	o := NewOrchestrator([]Tier{NewLexicalTier(provider, lexical.DefaultMinScore)},
		NewSynthesizer(gen, SynthesizerConfig{}), OrchestratorConfig{})

	outcome, err := o.Query(context.Background(), QueryInput{Query: "termination notice period"})
	require.NoError(t, err)

	assert.Equal(t, "Thirty days written notice is required.", outcome.Answer)
	assert.Equal(t, "Found 1 relevant passages using TF-IDF similarity", outcome.Reasoning)
	gen.AssertExpectations(t)
}

func intPtr(v int) *int { return &v }
