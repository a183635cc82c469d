package service

import (
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/lexical"
)

// Snapshot is one immutable generation of the retrieval indexes.
// Lexical is nil when the lexical build failed; Dense is nil when embeddings are disabled or failed.
type Snapshot struct {
	Chunks  []domain.Chunk
	Lexical *lexical.Index
	Dense   *dense.Index
	BuiltAt time.Time
	Source  string
}

// Len returns the number of chunks in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Chunks)
}

// IndexProvider hands out the currently published snapshot.
type IndexProvider interface {
	Current() *Snapshot
	Publish(s *Snapshot)
}

// AtomicIndexProvider swaps snapshots with a single atomic store so readers never block.
type AtomicIndexProvider struct {
	current atomic.Pointer[Snapshot]
}

// NewAtomicIndexProvider creates an empty provider.
func NewAtomicIndexProvider() *AtomicIndexProvider {
	return &AtomicIndexProvider{}
}

// Current returns the published snapshot, or nil before the first publish.
func (p *AtomicIndexProvider) Current() *Snapshot {
	return p.current.Load()
}

// Publish replaces the current snapshot.
func (p *AtomicIndexProvider) Publish(s *Snapshot) {
	p.current.Store(s)
}
