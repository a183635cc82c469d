package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/lexical"
	"github.com/cloo-solutions/clauseqa/internal/telemetry"
)

// Snapshot sources.
const (
	SourceIngest = "ingest"
	SourceLocal  = "local"
	SourceMirror = "mirror"
)

// DefaultArtifactKey is the object key of the mirrored lexical index.
const DefaultArtifactKey = "indexes/lexical.json.gz"

// ArtifactMirror stores the lexical index artifact off-host.
type ArtifactMirror interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// EmbeddingStore persists chunk embeddings between restarts.
type EmbeddingStore interface {
	SaveEmbeddings(ctx context.Context, ix *dense.Index) error
	LoadEmbeddings(ctx context.Context) (*dense.Index, error)
}

// IngestionConfig controls how a corpus becomes a snapshot.
type IngestionConfig struct {
	Chunking    ChunkConfig
	Lexical     lexical.Config
	Dense       dense.BuildOptions
	IndexPath   string
	ArtifactKey string
}

// IngestionDeps are the optional backends used during ingestion. Any may be nil.
type IngestionDeps struct {
	Embedder   dense.Embedder
	Embeddings EmbeddingStore
	Mirror     ArtifactMirror
}

// IngestResult summarizes one ingestion run. Fingerprint identifies the corpus
// contents behind the published snapshot and is empty when unknown.
type IngestResult struct {
	Documents   int           `json:"documents"`
	Pages       int           `json:"pages"`
	Chunks      int           `json:"chunks"`
	Vocabulary  int           `json:"vocabulary"`
	Lexical     bool          `json:"lexical"`
	Embedded    bool          `json:"embedded"`
	Mirrored    bool          `json:"mirrored"`
	Source      string        `json:"source"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// IngestionService builds snapshots from a corpus directory and publishes them.
type IngestionService struct {
	provider IndexProvider
	deps     IngestionDeps
	cfg      IngestionConfig

	running atomic.Bool
	mu      sync.Mutex
	last    *IngestResult
}

// NewIngestionService creates an IngestionService publishing to provider.
func NewIngestionService(provider IndexProvider, deps IngestionDeps, cfg IngestionConfig) *IngestionService {
	if cfg.ArtifactKey == "" {
		cfg.ArtifactKey = DefaultArtifactKey
	}
	if cfg.Lexical == (lexical.Config{}) {
		cfg.Lexical = lexical.DefaultConfig()
	}
	if cfg.Chunking == (ChunkConfig{}) {
		cfg.Chunking = DefaultChunkConfig()
	}
	return &IngestionService{provider: provider, deps: deps, cfg: cfg}
}

// Running reports whether an ingestion is in progress.
func (s *IngestionService) Running() bool {
	return s.running.Load()
}

// LastResult returns the result of the most recent successful run, or nil.
func (s *IngestionService) LastResult() *IngestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Ingest chunks every document in dir, rebuilds the indexes and publishes them
// as one snapshot. Only one ingestion runs at a time.
func (s *IngestionService) Ingest(ctx context.Context, dir string) (*IngestResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, domain.ErrIngestRunning
	}
	defer s.running.Store(false)

	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Ingest", telemetry.SpanAttributes{
		Corpus:    dir,
		Operation: "ingest",
	})
	defer span.End()

	start := time.Now()
	fingerprint, err := CorpusFingerprint(dir)
	if err != nil {
		log.Printf("ingest: failed to fingerprint %s: %v", dir, err)
	}
	pages, err := LoadCorpus(dir)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	chunks := ChunkPages(pages, s.cfg.Chunking)
	log.Printf("ingest: %d pages from %s produced %d chunks", len(pages), dir, len(chunks))

	snap, result, err := s.build(ctx, chunks, fingerprint)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	result.Documents = countDocuments(pages)
	result.Pages = len(pages)
	result.Source = SourceIngest
	result.Fingerprint = fingerprint
	result.Duration = time.Since(start)

	snap.Source = SourceIngest
	s.provider.Publish(snap)
	s.remember(result)

	span.SetData("chunks", result.Chunks)
	log.Printf("ingest: published snapshot with %d chunks (lexical=%t dense=%t) in %s",
		result.Chunks, result.Lexical, result.Embedded, result.Duration)
	return result, nil
}

// build creates the lexical and dense indexes for chunks. A failed lexical
// build leaves the keyword tier to serve and removes the persisted artifacts
// of the previous corpus; a failed dense build disables the dense tier.
func (s *IngestionService) build(ctx context.Context, chunks []domain.Chunk, fingerprint string) (*Snapshot, *IngestResult, error) {
	result := &IngestResult{Chunks: len(chunks)}
	snap := &Snapshot{Chunks: chunks, BuiltAt: time.Now().UTC()}

	lex, err := lexical.Build(chunks, s.cfg.Lexical)
	if err != nil {
		log.Printf("ingest: lexical index build failed, keyword matching only: %v", err)
		if err := s.discardArtifacts(ctx); err != nil {
			return nil, nil, err
		}
	} else {
		lex.SetCorpusFingerprint(fingerprint)
		snap.Lexical = lex
		result.Lexical = true
		result.Vocabulary = lex.VocabularySize()

		if s.cfg.IndexPath != "" {
			if err := lex.Save(s.cfg.IndexPath); err != nil {
				return nil, nil, fmt.Errorf("failed to persist lexical index: %w", err)
			}
		}
		result.Mirrored = s.mirror(ctx, lex)
	}

	if s.deps.Embedder != nil {
		dix, err := dense.Build(ctx, s.deps.Embedder, chunks, s.cfg.Dense)
		if err != nil {
			log.Printf("ingest: dense index build failed, dense tier disabled: %v", err)
		} else {
			snap.Dense = dix
			result.Embedded = true
			s.saveEmbeddings(ctx, dix)
		}
	}

	return snap, result, nil
}

func (s *IngestionService) mirror(ctx context.Context, lex *lexical.Index) bool {
	if s.deps.Mirror == nil {
		return false
	}
	var buf bytes.Buffer
	if _, err := lex.WriteTo(&buf); err != nil {
		log.Printf("ingest: failed to encode index for mirror: %v", err)
		return false
	}
	if err := s.deps.Mirror.PutObject(ctx, s.cfg.ArtifactKey, buf.Bytes(), "application/gzip"); err != nil {
		log.Printf("ingest: failed to mirror index to %s: %v", s.cfg.ArtifactKey, err)
		return false
	}
	return true
}

// discardArtifacts removes the persisted lexical index so a restart cannot
// restore a corpus that has since been replaced.
func (s *IngestionService) discardArtifacts(ctx context.Context) error {
	if s.cfg.IndexPath != "" {
		if err := lexical.Remove(s.cfg.IndexPath); err != nil {
			return fmt.Errorf("failed to discard stale lexical index: %w", err)
		}
	}
	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.DeleteObject(ctx, s.cfg.ArtifactKey); err != nil {
			log.Printf("ingest: failed to delete mirrored index %s: %v", s.cfg.ArtifactKey, err)
		}
	}
	return nil
}

func (s *IngestionService) saveEmbeddings(ctx context.Context, dix *dense.Index) {
	if s.deps.Embeddings == nil {
		return
	}
	if err := s.deps.Embeddings.SaveEmbeddings(ctx, dix); err != nil {
		log.Printf("ingest: failed to persist embeddings: %v", err)
	}
}

// Restore publishes the persisted index if one exists: the local artifact
// first, then the mirror. When neither exists the corpus in dir is ingested.
func (s *IngestionService) Restore(ctx context.Context, dir string) (*IngestResult, error) {
	lex, source, err := s.loadLexical(ctx)
	if err != nil {
		if !errors.Is(err, lexical.ErrIndexNotFound) {
			log.Printf("restore: persisted index unusable, re-ingesting: %v", err)
		}
		if dir == "" {
			return nil, domain.ErrIndexNotBuilt
		}
		return s.Ingest(ctx, dir)
	}

	chunks := lex.Chunks()
	snap := &Snapshot{Chunks: chunks, Lexical: lex, BuiltAt: lex.BuiltAt(), Source: source}
	result := &IngestResult{
		Chunks:      len(chunks),
		Vocabulary:  lex.VocabularySize(),
		Lexical:     true,
		Source:      source,
		Fingerprint: lex.CorpusFingerprint(),
	}

	if dix := s.restoreDense(ctx, chunks); dix != nil {
		snap.Dense = dix
		result.Embedded = true
	}

	s.provider.Publish(snap)
	s.remember(result)
	log.Printf("restore: published %d chunks from %s index", len(chunks), source)
	return result, nil
}

func (s *IngestionService) loadLexical(ctx context.Context) (*lexical.Index, string, error) {
	if s.cfg.IndexPath != "" {
		lex, err := lexical.Load(s.cfg.IndexPath)
		if err == nil {
			return lex, SourceLocal, nil
		}
		if !errors.Is(err, lexical.ErrIndexNotFound) {
			return nil, "", err
		}
	}

	if s.deps.Mirror == nil {
		return nil, "", lexical.ErrIndexNotFound
	}
	body, err := s.deps.Mirror.GetObject(ctx, s.cfg.ArtifactKey)
	if err != nil {
		log.Printf("restore: no mirrored index at %s: %v", s.cfg.ArtifactKey, err)
		return nil, "", lexical.ErrIndexNotFound
	}
	lex, err := lexical.ReadIndex(bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	if s.cfg.IndexPath != "" {
		if err := lex.Save(s.cfg.IndexPath); err != nil {
			log.Printf("restore: failed to cache mirrored index locally: %v", err)
		}
	}
	return lex, SourceMirror, nil
}

// restoreDense reuses stored embeddings when they cover exactly chunks,
// otherwise re-embeds when an embedder is configured.
func (s *IngestionService) restoreDense(ctx context.Context, chunks []domain.Chunk) *dense.Index {
	if s.deps.Embeddings != nil {
		dix, err := s.deps.Embeddings.LoadEmbeddings(ctx)
		switch {
		case err != nil:
			log.Printf("restore: failed to load embeddings: %v", err)
		case dix.Matches(chunks):
			return dix
		default:
			log.Printf("restore: stored embeddings are stale (%d vectors for %d chunks)", dix.Len(), len(chunks))
		}
	}
	if s.deps.Embedder == nil {
		return nil
	}
	dix, err := dense.Build(ctx, s.deps.Embedder, chunks, s.cfg.Dense)
	if err != nil {
		log.Printf("restore: dense index build failed, dense tier disabled: %v", err)
		return nil
	}
	s.saveEmbeddings(ctx, dix)
	return dix
}

func (s *IngestionService) remember(r *IngestResult) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

func countDocuments(pages []domain.Page) int {
	seen := make(map[string]struct{})
	for _, p := range pages {
		seen[p.Filename] = struct{}{}
	}
	return len(seen)
}
