package lexical

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultMaxVocabulary bounds the number of terms kept by a build.
	DefaultMaxVocabulary = 5000
	// DefaultNGramMax produces unigrams and bigrams.
	DefaultNGramMax = 2
)

// ErrEmptyVocabulary is returned when a non-empty batch yields no usable terms.
var ErrEmptyVocabulary = errors.New("lexical: empty vocabulary, documents contain only stop words or short tokens")

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Config controls vocabulary construction.
type Config struct {
	MaxVocabulary int `json:"max_vocabulary"`
	NGramMax      int `json:"ngram_max"`
}

// DefaultConfig returns the weighting used for legal corpora.
func DefaultConfig() Config {
	return Config{
		MaxVocabulary: DefaultMaxVocabulary,
		NGramMax:      DefaultNGramMax,
	}
}

func (c Config) normalized() Config {
	if c.MaxVocabulary <= 0 {
		c.MaxVocabulary = DefaultMaxVocabulary
	}
	if c.NGramMax <= 0 {
		c.NGramMax = DefaultNGramMax
	}
	return c
}

// SparseVector holds the non-zero weights of a document, indices ascending.
type SparseVector struct {
	Indices []int32   `json:"i"`
	Values  []float64 `json:"v"`
}

// Dot returns the inner product of two sparse vectors.
func (v SparseVector) Dot(o SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += v.Values[i] * o.Values[j]
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Len is the number of non-zero entries.
func (v SparseVector) Len() int { return len(v.Indices) }

// Vectorizer maps text onto a fixed TF-IDF vocabulary.
type Vectorizer struct {
	cfg   Config
	terms []string
	index map[string]int32
	idf   []float64
}

// Terms returns the vocabulary in index order.
func (v *Vectorizer) Terms() []string { return v.terms }

// Size returns the vocabulary size.
func (v *Vectorizer) Size() int { return len(v.terms) }

// Analyze lowercases text, drops stop words and returns its n-grams.
func Analyze(text string, ngramMax int) []string {
	if ngramMax <= 0 {
		ngramMax = DefaultNGramMax
	}
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, t := range raw {
		if _, stop := englishStopWords[t]; stop {
			continue
		}
		tokens = append(tokens, t)
	}

	grams := make([]string, 0, len(tokens)*ngramMax)
	grams = append(grams, tokens...)
	for n := 2; n <= ngramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			grams = append(grams, strings.Join(tokens[i:i+n], " "))
		}
	}
	return grams
}

// fitVectorizer learns a vocabulary and idf weights from docs and returns the
// raw term counts of every document alongside the fitted vectorizer.
func fitVectorizer(docs []string, cfg Config) (*Vectorizer, []map[string]int, error) {
	cfg = cfg.normalized()

	counts := make([]map[string]int, len(docs))
	corpusFreq := make(map[string]int)
	for i, doc := range docs {
		tf := make(map[string]int)
		for _, g := range Analyze(doc, cfg.NGramMax) {
			tf[g]++
			corpusFreq[g]++
		}
		counts[i] = tf
	}
	if len(corpusFreq) == 0 {
		return nil, nil, ErrEmptyVocabulary
	}

	terms := make([]string, 0, len(corpusFreq))
	for t := range corpusFreq {
		terms = append(terms, t)
	}
	if len(terms) > cfg.MaxVocabulary {
		sort.Slice(terms, func(a, b int) bool {
			fa, fb := corpusFreq[terms[a]], corpusFreq[terms[b]]
			if fa != fb {
				return fa > fb
			}
			return terms[a] < terms[b]
		})
		terms = terms[:cfg.MaxVocabulary]
	}
	sort.Strings(terms)

	index := make(map[string]int32, len(terms))
	for i, t := range terms {
		index[t] = int32(i)
	}

	df := make([]int, len(terms))
	for _, tf := range counts {
		for t := range tf {
			if idx, ok := index[t]; ok {
				df[idx]++
			}
		}
	}

	n := float64(len(docs))
	idf := make([]float64, len(terms))
	for i := range terms {
		idf[i] = math.Log((1+n)/(1+float64(df[i]))) + 1
	}

	return &Vectorizer{cfg: cfg, terms: terms, index: index, idf: idf}, counts, nil
}

// Transform weights text against the vocabulary and L2-normalises the result.
func (v *Vectorizer) Transform(text string) SparseVector {
	tf := make(map[string]int)
	for _, g := range Analyze(text, v.cfg.NGramMax) {
		tf[g]++
	}
	return v.weigh(tf)
}

func (v *Vectorizer) weigh(tf map[string]int) SparseVector {
	indices := make([]int32, 0, len(tf))
	for t := range tf {
		if idx, ok := v.index[t]; ok {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	values := make([]float64, len(indices))
	var norm float64
	for i, idx := range indices {
		w := float64(tf[v.terms[idx]]) * v.idf[idx]
		values[i] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range values {
			values[i] /= norm
		}
	}
	return SparseVector{Indices: indices, Values: values}
}
