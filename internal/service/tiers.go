package service

import (
	"context"
	"errors"
	"maps"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/managed"
	"github.com/cloo-solutions/clauseqa/internal/ranking"
)

// Tier is one retrieval strategy the orchestrator can delegate a query to.
type Tier interface {
	Name() domain.Tier
	// Probe checks once whether the tier can serve at all. A failing probe disables the tier.
	Probe(ctx context.Context) error
	Retrieve(ctx context.Context, query string, k int) (*TierResponse, error)
}

// TierResponse is what a tier returns for a query. Tiers that generate their own
// answer set Answer and Citations; the others return ranked Results.
type TierResponse struct {
	Results   []domain.RetrievalResult
	Answer    string
	Citations []domain.Citation
}

// Generated reports whether the tier already produced the final answer.
func (r *TierResponse) Generated() bool {
	return r != nil && (r.Answer != "" || len(r.Citations) > 0)
}

// Empty reports whether the tier found nothing.
func (r *TierResponse) Empty() bool {
	return r == nil || (len(r.Results) == 0 && !r.Generated())
}

// LexicalTier serves queries from the TF-IDF index of the current snapshot.
type LexicalTier struct {
	provider IndexProvider
	minScore float64
}

// NewLexicalTier creates a LexicalTier keeping results scoring at least minScore.
func NewLexicalTier(provider IndexProvider, minScore float64) *LexicalTier {
	return &LexicalTier{provider: provider, minScore: minScore}
}

// Name returns domain.TierLexical.
func (t *LexicalTier) Name() domain.Tier { return domain.TierLexical }

func (t *LexicalTier) Probe(context.Context) error { return nil }

// Retrieve searches the TF-IDF index. A snapshot whose lexical build failed
// reports the tier unavailable.
func (t *LexicalTier) Retrieve(_ context.Context, query string, k int) (*TierResponse, error) {
	snap := t.provider.Current()
	if snap.Len() == 0 {
		return &TierResponse{}, nil
	}
	if snap.Lexical == nil {
		return nil, domain.NewTierUnavailable(domain.TierLexical, errors.New("lexical index was not built for the current corpus"))
	}
	return &TierResponse{Results: snap.Lexical.Search(query, k, t.minScore)}, nil
}

// DenseTier serves queries from chunk embeddings.
type DenseTier struct {
	provider IndexProvider
	embedder dense.Embedder
	minScore float64
}

// NewDenseTier creates a DenseTier that embeds queries with embedder.
func NewDenseTier(provider IndexProvider, embedder dense.Embedder, minScore float64) *DenseTier {
	return &DenseTier{provider: provider, embedder: embedder, minScore: minScore}
}

// Name returns domain.TierDense.
func (t *DenseTier) Name() domain.Tier { return domain.TierDense }

// Probe embeds a short string to confirm the embedding service is reachable.
func (t *DenseTier) Probe(ctx context.Context) error {
	if _, err := t.embedder.EmbedBatch(ctx, []string{"contract"}); err != nil {
		return domain.NewTierUnavailable(domain.TierDense, err)
	}
	return nil
}

// Retrieve ranks chunks by cosine similarity to the embedded query.
func (t *DenseTier) Retrieve(ctx context.Context, query string, k int) (*TierResponse, error) {
	snap := t.provider.Current()
	if snap == nil || snap.Dense == nil {
		return nil, domain.NewTierUnavailable(domain.TierDense, errors.New("no embeddings for the current corpus"))
	}
	results, err := snap.Dense.Search(ctx, t.embedder, query, k, t.minScore)
	if err != nil {
		return nil, err
	}
	return &TierResponse{Results: results}, nil
}

// KeywordTier counts literal occurrences of query words. It needs no index and
// serves when everything else is unavailable.
type KeywordTier struct {
	provider IndexProvider
}

// NewKeywordTier creates a KeywordTier over the current snapshot.
func NewKeywordTier(provider IndexProvider) *KeywordTier {
	return &KeywordTier{provider: provider}
}

// Name returns domain.TierKeyword.
func (t *KeywordTier) Name() domain.Tier { return domain.TierKeyword }

func (t *KeywordTier) Probe(context.Context) error { return nil }

// Retrieve ranks chunks by occurrence count of the query words.
func (t *KeywordTier) Retrieve(_ context.Context, query string, k int) (*TierResponse, error) {
	snap := t.provider.Current()
	if snap.Len() == 0 {
		return &TierResponse{}, nil
	}

	words := keywordTerms(query)
	if len(words) == 0 {
		return &TierResponse{}, nil
	}

	lowered := make([]string, len(snap.Chunks))
	for i := range snap.Chunks {
		lowered[i] = strings.ToLower(snap.Chunks[i].Text)
	}

	ranked := ranking.TopK(len(lowered), func(i int) float64 {
		var hits int
		for _, w := range words {
			hits += strings.Count(lowered[i], w)
		}
		return float64(hits)
	}, ranking.Options{TopK: k, MinScore: 1})

	results := make([]domain.RetrievalResult, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, domain.RetrievalResult{
			Chunk: snap.Chunks[r.Position],
			Score: r.Score,
			Tier:  domain.TierKeyword,
		})
	}
	return &TierResponse{Results: results}, nil
}

// keywordTerms lowercases query and keeps words longer than two characters.
func keywordTerms(query string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if utf8.RuneCountInString(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// KnowledgeBase retrieves and generates in one call.
type KnowledgeBase interface {
	RetrieveAndGenerate(ctx context.Context, query string) (*managed.Answer, error)
}

// ManagedTier delegates the whole query to a cloud knowledge base.
type ManagedTier struct {
	kb KnowledgeBase
}

// NewManagedTier creates a ManagedTier backed by kb.
func NewManagedTier(kb KnowledgeBase) *ManagedTier {
	return &ManagedTier{kb: kb}
}

// Name returns domain.TierManaged.
func (t *ManagedTier) Name() domain.Tier { return domain.TierManaged }

func (t *ManagedTier) Probe(context.Context) error { return nil }

// Retrieve asks the knowledge base for an answer. Rejected credentials,
// unknown resources and invalid requests become configuration errors.
func (t *ManagedTier) Retrieve(ctx context.Context, query string, _ int) (*TierResponse, error) {
	answer, err := t.kb.RetrieveAndGenerate(ctx, query)
	if err != nil {
		if be, ok := domain.AsBackendError(err); ok {
			switch be.Kind {
			case domain.KindAccessDenied:
				return nil, domain.NewConfigurationError("access to the knowledge base was denied", err)
			case domain.KindNotFound:
				return nil, domain.NewConfigurationError("knowledge base or model not found", err)
			case domain.KindInvalidInput:
				return nil, domain.NewConfigurationError("knowledge base rejected the request", err)
			}
		}
		return nil, err
	}

	citations := make([]domain.Citation, 0, len(answer.References))
	for _, ref := range answer.References {
		metadata := make(map[string]any, len(ref.Metadata)+1)
		maps.Copy(metadata, ref.Metadata)
		metadata["tier"] = string(domain.TierManaged)
		citations = append(citations, domain.Citation{
			SourceID:    ref.SourceURI,
			Page:        ref.Page,
			Snippet:     ref.Text,
			RawMetadata: metadata,
		})
	}
	return &TierResponse{Answer: answer.Text, Citations: citations}, nil
}
