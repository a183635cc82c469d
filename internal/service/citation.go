package service

import (
	"unicode/utf8"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

// DefaultSnippetMaxChars bounds citation snippets.
const DefaultSnippetMaxChars = 400

// AssembleCitations converts ranked results into citations, keeping rank order.
// Overlapping chunks of the same page are not merged. Keyword scores are
// occurrence counts, so they go to raw metadata instead of confidence.
func AssembleCitations(results []domain.RetrievalResult, snippetMaxChars int) []domain.Citation {
	if snippetMaxChars <= 0 {
		snippetMaxChars = DefaultSnippetMaxChars
	}

	citations := make([]domain.Citation, 0, len(results))
	for _, r := range results {
		page := r.Chunk.PageNumber

		metadata := map[string]any{
			"filename":       r.Chunk.SourceFilename,
			"page":           r.Chunk.PageNumber,
			"chunk_id":       r.Chunk.ID,
			"sequence_index": r.Chunk.SequenceIndex,
			"tier":           string(r.Tier),
		}
		if len(r.Contributions) > 0 {
			metadata["matched_terms"] = r.Contributions
		}

		var confidence *float64
		if r.Tier == domain.TierKeyword {
			metadata["keyword_hits"] = int(r.Score)
		} else {
			score := r.Score
			confidence = &score
		}

		citations = append(citations, domain.Citation{
			SourceID:    r.Chunk.SourceFilename,
			Page:        &page,
			Snippet:     truncateRunes(r.Chunk.Text, snippetMaxChars),
			Confidence:  confidence,
			RawMetadata: metadata,
		})
	}
	return citations
}

// truncateRunes cuts s to at most limit characters without splitting a multibyte rune.
func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	i := 0
	for pos := range s {
		if i == limit {
			return s[:pos]
		}
		i++
	}
	return s
}
