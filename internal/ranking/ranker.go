// Package ranking orders scored candidates for every retrieval tier.
package ranking

import (
	"math"
	"sort"
)

// Ranked is the position of a candidate in the scored collection and its score.
type Ranked struct {
	Position int
	Score    float64
}

// Options bounds a ranking.
type Options struct {
	// TopK is the maximum number of results. Values <= 0 return every candidate above MinScore.
	TopK int
	// MinScore drops candidates scoring strictly below it.
	MinScore float64
}

// TopK scores n candidates, drops those below the threshold and returns at most
// opts.TopK of the rest in descending score order. Equal scores keep insertion order.
func TopK(n int, score func(i int) float64, opts Options) []Ranked {
	if n <= 0 {
		return nil
	}

	ranked := make([]Ranked, 0, n)
	for i := 0; i < n; i++ {
		s := score(i)
		if math.IsNaN(s) || s < opts.MinScore {
			continue
		}
		ranked = append(ranked, Ranked{Position: i, Score: s})
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})

	if opts.TopK > 0 && len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}
	return ranked
}

// Cosine returns the cosine similarity of two dense vectors.
// Mismatched lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
