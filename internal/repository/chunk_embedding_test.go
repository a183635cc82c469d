//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/testutil"
)

func TestChunkEmbeddingRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)
	defer pool.Close()

	repo := NewChunkEmbeddingRepository(pool)

	empty, err := repo.LoadEmbeddings(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	chunks := []domain.Chunk{
		domain.NewChunk("msa.pdf", 4, 0, "Either party may terminate upon thirty days notice."),
		domain.NewChunk("msa.pdf", 4, 1, "Notice must be given in writing."),
		domain.NewChunk("nda.pdf", 1, 0, "Confidential information must not be disclosed."),
	}
	ix, err := dense.New(chunks, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, "text-embedding-3-small")
	require.NoError(t, err)

	require.NoError(t, repo.SaveEmbeddings(ctx, ix))

	loaded, err := repo.LoadEmbeddings(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Matches(chunks))
	assert.Equal(t, ix.Vectors(), loaded.Vectors())
	assert.Equal(t, "text-embedding-3-small", loaded.Model())
	assert.Equal(t, chunks[2].Text, loaded.Chunks()[2].Text)

	smaller, err := dense.New(chunks[:1], [][]float32{{0.5, 0.5, 0}}, "text-embedding-3-small")
	require.NoError(t, err)
	require.NoError(t, repo.SaveEmbeddings(ctx, smaller))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, testutil.TruncateAll(ctx, pool))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
