package service

import (
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

// ChunkConfig controls how pages are split into overlapping word windows.
type ChunkConfig struct {
	WindowWords  int
	OverlapWords int
	// MinChars drops windows whose trimmed text has no more than this many characters.
	MinChars int
	// MaxChunksPerPage caps the windows taken from a single page; 0 means unlimited.
	MaxChunksPerPage int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		WindowWords:  200,
		OverlapWords: 50,
		MinChars:     50,
	}
}

func (c ChunkConfig) normalized() ChunkConfig {
	def := DefaultChunkConfig()
	if c.WindowWords <= 0 {
		c.WindowWords = def.WindowWords
	}
	if c.OverlapWords < 0 || c.OverlapWords >= c.WindowWords {
		c.OverlapWords = 0
	}
	if c.MinChars < 0 {
		c.MinChars = 0
	}
	return c
}

// ChunkPages splits every page into word windows. Output order follows the
// input pages, then window position within the page.
func ChunkPages(pages []domain.Page, cfg ChunkConfig) []domain.Chunk {
	cfg = cfg.normalized()

	chunks := make([]domain.Chunk, 0, len(pages))
	for _, p := range pages {
		for seq, text := range chunkWords(p.Text, cfg) {
			chunks = append(chunks, domain.NewChunk(p.Filename, p.Number, seq, text))
		}
	}
	return chunks
}

func chunkWords(text string, cfg ChunkConfig) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := cfg.WindowWords - cfg.OverlapWords
	out := make([]string, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		if cfg.MaxChunksPerPage > 0 && len(out) >= cfg.MaxChunksPerPage {
			break
		}

		end := start + cfg.WindowWords
		if end > len(words) {
			end = len(words)
		}

		window := strings.Join(words[start:end], " ")
		if utf8.RuneCountInString(window) > cfg.MinChars {
			out = append(out, window)
		}

		if end == len(words) {
			break
		}
	}
	return out
}
