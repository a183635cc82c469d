// Package lexical implements the TF-IDF retrieval index.
package lexical

import (
	"sort"
	"time"

	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/ranking"
)

const (
	// DefaultTopK is the number of results returned when the caller does not specify one.
	DefaultTopK = 5
	// DefaultMinScore drops near-orthogonal matches.
	DefaultMinScore = 0.003
	// maxContributions caps the explanation attached to each result.
	maxContributions = 5
)

// Index is an immutable TF-IDF index over a batch of chunks.
type Index struct {
	chunks     []domain.Chunk
	vectorizer *Vectorizer
	docs       []SparseVector
	builtAt    time.Time
	corpus     string
}

// Build fits a vocabulary over chunks and weights every chunk against it.
// An empty batch produces an empty, valid index.
func Build(chunks []domain.Chunk, cfg Config) (*Index, error) {
	cfg = cfg.normalized()
	owned := append([]domain.Chunk(nil), chunks...)
	if len(owned) == 0 {
		return &Index{vectorizer: &Vectorizer{cfg: cfg, index: map[string]int32{}}, builtAt: time.Now().UTC()}, nil
	}

	texts := make([]string, len(owned))
	for i := range owned {
		texts[i] = owned[i].Text
	}

	vec, counts, err := fitVectorizer(texts, cfg)
	if err != nil {
		return nil, err
	}

	docs := make([]SparseVector, len(counts))
	for i, tf := range counts {
		docs[i] = vec.weigh(tf)
	}

	return &Index{
		chunks:     owned,
		vectorizer: vec,
		docs:       docs,
		builtAt:    time.Now().UTC(),
	}, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}

// Chunks returns the indexed chunks in build order. The slice must not be modified.
func (ix *Index) Chunks() []domain.Chunk {
	if ix == nil {
		return nil
	}
	return ix.chunks
}

// VocabularySize returns the number of terms in the fitted vocabulary.
func (ix *Index) VocabularySize() int {
	if ix == nil || ix.vectorizer == nil {
		return 0
	}
	return ix.vectorizer.Size()
}

// BuiltAt returns when the index was fitted.
func (ix *Index) BuiltAt() time.Time {
	if ix == nil {
		return time.Time{}
	}
	return ix.builtAt
}

// CorpusFingerprint identifies the corpus contents the index was built from.
// Empty when unknown.
func (ix *Index) CorpusFingerprint() string {
	if ix == nil {
		return ""
	}
	return ix.corpus
}

// SetCorpusFingerprint records the corpus the index was built from. Call it
// before the index is saved or published.
func (ix *Index) SetCorpusFingerprint(fp string) {
	ix.corpus = fp
}

// Search returns up to k chunks whose cosine similarity with query is at least minScore,
// best first. Each result carries the per-term breakdown of its score.
func (ix *Index) Search(query string, k int, minScore float64) []domain.RetrievalResult {
	if ix.Len() == 0 {
		return nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	q := ix.vectorizer.Transform(query)
	if q.Len() == 0 {
		return nil
	}

	ranked := ranking.TopK(len(ix.docs), func(i int) float64 {
		return q.Dot(ix.docs[i])
	}, ranking.Options{TopK: k, MinScore: minScore})

	results := make([]domain.RetrievalResult, 0, len(ranked))
	for _, r := range ranked {
		if r.Score <= 0 {
			continue
		}
		results = append(results, domain.RetrievalResult{
			Chunk:         ix.chunks[r.Position],
			Score:         r.Score,
			Tier:          domain.TierLexical,
			Contributions: ix.contributions(q, ix.docs[r.Position]),
		})
	}
	return results
}

// contributions decomposes q·d into per-term products. They sum to the cosine score.
func (ix *Index) contributions(q, d SparseVector) []domain.TermContribution {
	var out []domain.TermContribution
	i, j := 0, 0
	for i < len(q.Indices) && j < len(d.Indices) {
		switch {
		case q.Indices[i] == d.Indices[j]:
			out = append(out, domain.TermContribution{
				Term:   ix.vectorizer.terms[q.Indices[i]],
				Weight: q.Values[i] * d.Values[j],
			})
			i++
			j++
		case q.Indices[i] < d.Indices[j]:
			i++
		default:
			j++
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Weight > out[b].Weight })
	if len(out) > maxContributions {
		out = out[:maxContributions]
	}
	return out
}
