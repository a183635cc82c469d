// Package dense implements the embedding-based retrieval index.
package dense

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/ranking"
)

const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 2
	DefaultMinScore    = 0.2
	DefaultTopK        = 5
)

// Embedder turns texts into fixed-size vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// BuildOptions controls how chunks are sent to the embedding service.
type BuildOptions struct {
	BatchSize   int
	Concurrency int
	Model       string
}

// Index is an immutable set of chunk embeddings.
type Index struct {
	chunks  []domain.Chunk
	vectors [][]float32
	model   string
	builtAt time.Time
}

// New assembles an index from precomputed vectors, one per chunk.
func New(chunks []domain.Chunk, vectors [][]float32, model string) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("dense: %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		if err := domain.ValidateChunk(&chunks[i]); err != nil {
			return nil, fmt.Errorf("dense: chunk %d: %w", i, err)
		}
	}
	dim := -1
	for i, v := range vectors {
		if dim == -1 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("dense: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return &Index{
		chunks:  append([]domain.Chunk(nil), chunks...),
		vectors: vectors,
		model:   model,
		builtAt: time.Now().UTC(),
	}, nil
}

// Build embeds every chunk. Batches run concurrently up to opts.Concurrency.
// Any embedding failure is reported as the dense tier being unavailable.
func Build(ctx context.Context, emb Embedder, chunks []domain.Chunk, opts BuildOptions) (*Index, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for start := 0; start < len(chunks); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			embedded, err := emb.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(embedded) != len(texts) {
				return fmt.Errorf("embedding service returned %d vectors for %d texts", len(embedded), len(texts))
			}
			copy(vectors[start:end], embedded)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, domain.NewTierUnavailable(domain.TierDense, err)
	}

	ix, err := New(chunks, vectors, opts.Model)
	if err != nil {
		return nil, domain.NewTierUnavailable(domain.TierDense, err)
	}
	return ix, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}

// Chunks returns the indexed chunks in build order.
func (ix *Index) Chunks() []domain.Chunk {
	if ix == nil {
		return nil
	}
	return ix.chunks
}

// Vectors returns the embeddings parallel to Chunks.
func (ix *Index) Vectors() [][]float32 {
	if ix == nil {
		return nil
	}
	return ix.vectors
}

// Model names the embedding model the vectors came from.
func (ix *Index) Model() string {
	if ix == nil {
		return ""
	}
	return ix.model
}

// Matches reports whether the index covers exactly the given chunks in order.
func (ix *Index) Matches(chunks []domain.Chunk) bool {
	if ix.Len() != len(chunks) {
		return false
	}
	for i := range chunks {
		if ix.chunks[i].ID != chunks[i].ID {
			return false
		}
	}
	return true
}

// Search embeds query and returns the closest chunks scoring at least minScore.
func (ix *Index) Search(ctx context.Context, emb Embedder, query string, k int, minScore float64) ([]domain.RetrievalResult, error) {
	if ix.Len() == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	embedded, err := emb.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, domain.NewTierUnavailable(domain.TierDense, err)
	}
	if len(embedded) != 1 {
		return nil, domain.NewTierUnavailable(domain.TierDense, fmt.Errorf("expected 1 query vector, got %d", len(embedded)))
	}
	q := embedded[0]

	ranked := ranking.TopK(len(ix.vectors), func(i int) float64 {
		return ranking.Cosine(q, ix.vectors[i])
	}, ranking.Options{TopK: k, MinScore: minScore})

	results := make([]domain.RetrievalResult, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, domain.RetrievalResult{
			Chunk: ix.chunks[r.Position],
			Score: r.Score,
			Tier:  domain.TierDense,
		})
	}
	return results, nil
}
