package domain

// Tier names a retrieval strategy.
type Tier string

const (
	TierManaged Tier = "managed_kb"
	TierDense   Tier = "dense"
	TierLexical Tier = "lexical"
	TierKeyword Tier = "keyword"
)

// TierOrder is the fixed priority in which tiers are attempted.
var TierOrder = []Tier{TierManaged, TierDense, TierLexical, TierKeyword}

// TermContribution is the share of a lexical score contributed by one vocabulary term.
type TermContribution struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// RetrievalResult pairs a chunk with its relevance score for a query.
type RetrievalResult struct {
	Chunk         Chunk
	Score         float64
	Tier          Tier
	Contributions []TermContribution
}

// Citation references the passage an answer was drawn from.
type Citation struct {
	SourceID    string         `json:"source_id"`
	Page        *int           `json:"page,omitempty"`
	Snippet     string         `json:"snippet"`
	Confidence  *float64       `json:"confidence,omitempty"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
}

// TierAttempt records one tier that was tried while answering a query.
type TierAttempt struct {
	Tier    Tier   `json:"tier"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

const (
	AttemptServed      = "served"
	AttemptSkipped     = "skipped"
	AttemptFellThrough = "fell_through"
)

// QueryOutcome is the complete answer to a question.
type QueryOutcome struct {
	Answer    string        `json:"answer"`
	Reasoning string        `json:"reasoning"`
	Citations []Citation    `json:"citations"`
	TierUsed  Tier          `json:"tier_used"`
	Attempts  []TierAttempt `json:"attempts,omitempty"`
}

// Synthesis is the generated answer text plus a short note describing how it was produced.
type Synthesis struct {
	Answer    string
	Reasoning string
	Fallback  bool
}

// TierConfig describes which optional tiers the process was configured with.
type TierConfig struct {
	ManagedKnowledgeBaseID string `json:"managed_knowledge_base_id,omitempty"`
	EmbeddingsEnabled      bool   `json:"embeddings_enabled"`
	LexicalIndexPath       string `json:"lexical_index_path"`
	DenseStoreConfigured   bool   `json:"dense_store_configured"`
}

// ManagedEnabled reports whether the managed knowledge base tier is configured.
func (c TierConfig) ManagedEnabled() bool {
	return c.ManagedKnowledgeBaseID != ""
}

// Configured returns the tiers that will be constructed, in priority order.
func (c TierConfig) Configured() []Tier {
	tiers := make([]Tier, 0, len(TierOrder))
	if c.ManagedEnabled() {
		tiers = append(tiers, TierManaged)
	}
	if c.EmbeddingsEnabled {
		tiers = append(tiers, TierDense)
	}
	return append(tiers, TierLexical, TierKeyword)
}
