package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunk(t *testing.T) {
	c := NewChunk("lease.pdf", 3, 1, "The tenant shall pay rent monthly.")

	assert.Equal(t, "lease.pdf", c.SourceFilename)
	assert.Equal(t, 3, c.PageNumber)
	assert.Equal(t, 1, c.SequenceIndex)
	assert.NotEmpty(t, c.ID)
	require.NoError(t, ValidateChunk(&c))
}

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("lease.pdf", 1, 0)
	b := ChunkID("lease.pdf", 1, 0)
	c := ChunkID("lease.pdf", 1, 1)
	d := ChunkID("other.pdf", 1, 0)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestValidateChunk(t *testing.T) {
	valid := NewChunk("a.pdf", 1, 0, "text")

	tests := []struct {
		name    string
		mutate  func(c *Chunk)
		wantErr string
	}{
		{"valid", func(c *Chunk) {}, ""},
		{"missing id", func(c *Chunk) { c.ID = "" }, "ID is required"},
		{"missing filename", func(c *Chunk) { c.SourceFilename = "" }, "SourceFilename is required"},
		{"blank text", func(c *Chunk) { c.Text = "  \n\t" }, "Text cannot be empty"},
		{"zero page", func(c *Chunk) { c.PageNumber = 0 }, "PageNumber must be positive"},
		{"negative sequence", func(c *Chunk) { c.SequenceIndex = -1 }, "SequenceIndex cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := ValidateChunk(&c)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Error(t, ValidateChunk(nil))
}

func TestTierConfig_Configured(t *testing.T) {
	assert.Equal(t, []Tier{TierLexical, TierKeyword}, TierConfig{}.Configured())

	full := TierConfig{ManagedKnowledgeBaseID: "KB123", EmbeddingsEnabled: true}
	assert.Equal(t, TierOrder, full.Configured())

	assert.Equal(t, []Tier{TierDense, TierLexical, TierKeyword}, TierConfig{EmbeddingsEnabled: true}.Configured())
}
