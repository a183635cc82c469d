package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// chunkNamespace scopes chunk ids so they stay stable across rebuilds of the same corpus.
var chunkNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e90-a1c3-2d4f6b8e0a17")

// Page is the extracted text of a single page of a source document.
type Page struct {
	Filename string
	Number   int
	Text     string
}

// Chunk is a window of consecutive words taken from one page.
type Chunk struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	SourceFilename string `json:"source_filename"`
	PageNumber     int    `json:"page_number"`
	SequenceIndex  int    `json:"sequence_index"`
}

// NewChunk creates a Chunk with a deterministic ID derived from its position in the corpus.
func NewChunk(filename string, page, seq int, text string) Chunk {
	return Chunk{
		ID:             ChunkID(filename, page, seq),
		Text:           text,
		SourceFilename: filename,
		PageNumber:     page,
		SequenceIndex:  seq,
	}
}

// ChunkID returns the UUIDv5 for the window seq of the given page.
func ChunkID(filename string, page, seq int) string {
	name := fmt.Sprintf("%s#%d#%d", filename, page, seq)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.SourceFilename == "" {
		return fmt.Errorf("chunk SourceFilename is required")
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("chunk Text cannot be empty")
	}
	if c.PageNumber < 1 {
		return fmt.Errorf("chunk PageNumber must be positive, got %d", c.PageNumber)
	}
	if c.SequenceIndex < 0 {
		return fmt.Errorf("chunk SequenceIndex cannot be negative")
	}
	return nil
}

