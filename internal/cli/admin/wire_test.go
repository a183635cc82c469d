package admin

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clauseqa/internal/config"
	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/managed"
	"github.com/cloo-solutions/clauseqa/internal/service"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubKB struct{}

func (stubKB) RetrieveAndGenerate(context.Context, string) (*managed.Answer, error) {
	return &managed.Answer{Text: "ok"}, nil
}

func tierNames(tiers []service.Tier) []domain.Tier {
	names := make([]domain.Tier, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name()
	}
	return names
}

func TestBuildTiers(t *testing.T) {
	provider := service.NewAtomicIndexProvider()

	tests := []struct {
		name     string
		cfg      config.Config
		embedder bool
		kb       bool
		want     []domain.Tier
	}{
		{
			name: "local only",
			cfg:  config.Config{},
			want: []domain.Tier{domain.TierLexical, domain.TierKeyword},
		},
		{
			name:     "embeddings",
			cfg:      config.Config{OpenAIAPIKey: "sk-test"},
			embedder: true,
			want:     []domain.Tier{domain.TierDense, domain.TierLexical, domain.TierKeyword},
		},
		{
			name: "embeddings disabled",
			cfg:  config.Config{OpenAIAPIKey: "sk-test", DisableDenseRetrieval: true},
			want: []domain.Tier{domain.TierLexical, domain.TierKeyword},
		},
		{
			name:     "every tier",
			cfg:      config.Config{OpenAIAPIKey: "sk-test", KnowledgeBaseID: "KB123"},
			embedder: true,
			kb:       true,
			want:     []domain.Tier{domain.TierManaged, domain.TierDense, domain.TierLexical, domain.TierKeyword},
		},
		{
			name: "knowledge base without client",
			cfg:  config.Config{KnowledgeBaseID: "KB123"},
			want: []domain.Tier{domain.TierLexical, domain.TierKeyword},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var embedder dense.Embedder
			if tt.embedder {
				embedder = stubEmbedder{}
			}
			var kb service.KnowledgeBase
			if tt.kb {
				kb = stubKB{}
			}
			assert.Equal(t, tt.want, tierNames(buildTiers(&tt.cfg, provider, embedder, kb)))
		})
	}
}

func TestBuildStack_LocalOnly(t *testing.T) {
	cfg := &config.Config{
		ChunkWindowWords:  200,
		ChunkOverlapWords: 50,
		ChunkMinChars:     50,
		MaxVocabulary:     5000,
		TopK:              5,
		IndexPath:         t.TempDir() + "/lexical.json.gz",
	}

	stack, err := BuildStack(context.Background(), cfg, StackOptions{})
	require.NoError(t, err)
	defer stack.Close()

	assert.False(t, stack.Info.GenerationOn)
	assert.Empty(t, stack.Info.ManagedKBID)
	assert.Nil(t, stack.Provider.Current())

	statuses := stack.Orchestrator.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, domain.TierLexical, statuses[0].Tier)
}

func TestPrintOutcome(t *testing.T) {
	page := 3
	confidence := 0.5
	var buf bytes.Buffer
	printOutcome(&buf, &domain.QueryOutcome{
		Answer:    "The lease runs for five years.",
		Reasoning: "Found 1 relevant passages using TF-IDF similarity",
		TierUsed:  domain.TierLexical,
		Citations: []domain.Citation{
			{SourceID: "lease.pdf", Page: &page, Confidence: &confidence},
			{SourceID: "kb://doc"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "The lease runs for five years.")
	assert.Contains(t, out, "tier: lexical")
	assert.Contains(t, out, "1. lease.pdf, page 3 (0.500)")
	assert.Contains(t, out, "2. kb://doc")
}
