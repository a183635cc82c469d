package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/domain"
)

// ChunkEmbeddingRepository persists the dense index so embeddings survive restarts.
type ChunkEmbeddingRepository struct {
	db dbtx
	tx *TxRunner
}

// NewChunkEmbeddingRepository creates a repository on pool.
func NewChunkEmbeddingRepository(pool *pgxpool.Pool) *ChunkEmbeddingRepository {
	return &ChunkEmbeddingRepository{db: pool, tx: NewTxRunner(pool)}
}

// SaveEmbeddings replaces every stored embedding with the contents of ix.
func (r *ChunkEmbeddingRepository) SaveEmbeddings(ctx context.Context, ix *dense.Index) error {
	return r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return replaceAll(ctx, tx, ix)
	})
}

func replaceAll(ctx context.Context, db dbtx, ix *dense.Index) error {
	if _, err := db.Exec(ctx, `DELETE FROM chunk_embeddings`); err != nil {
		return fmt.Errorf("failed to clear chunk embeddings: %w", err)
	}
	if ix.Len() == 0 {
		return nil
	}

	chunks, vectors := ix.Chunks(), ix.Vectors()
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i, c := range chunks {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			return fmt.Errorf("chunk %d has invalid id %q: %w", i, c.ID, err)
		}
		batch.Queue(
			`INSERT INTO chunk_embeddings
				(chunk_id, ordinal, source_filename, page_number, sequence_index, content, model, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, i, c.SourceFilename, c.PageNumber, c.SequenceIndex, c.Text, ix.Model(), pgvector.NewVector(vectors[i]), now,
		)
	}

	results := db.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert chunk embedding: %w", err)
		}
	}
	return results.Close()
}

// LoadEmbeddings reads the stored dense index in its original chunk order.
// It returns nil when nothing is stored.
func (r *ChunkEmbeddingRepository) LoadEmbeddings(ctx context.Context) (*dense.Index, error) {
	rows, err := r.db.Query(ctx,
		`SELECT chunk_id::text, source_filename, page_number, sequence_index, content, model, embedding
		 FROM chunk_embeddings
		 ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk embeddings: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	var vectors [][]float32
	var model string
	for rows.Next() {
		var c domain.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.SourceFilename, &c.PageNumber, &c.SequenceIndex, &c.Text, &model, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan chunk embedding: %w", err)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return nil, nil
	}
	return dense.New(chunks, vectors, model)
}

// Count returns the number of stored embeddings.
func (r *ChunkEmbeddingRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_embeddings`).Scan(&n)
	return n, err
}
