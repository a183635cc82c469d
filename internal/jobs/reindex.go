package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/service"
)

// Ingester rebuilds and publishes the retrieval indexes for a corpus directory.
type Ingester interface {
	Ingest(ctx context.Context, dir string) (*service.IngestResult, error)
}

// ReindexProcessor re-ingests the corpus directory whenever its contents change.
type ReindexProcessor struct {
	ingester    Ingester
	dir         string
	fingerprint func(dir string) (string, error)

	mu   sync.Mutex
	last string
}

// NewReindexProcessor creates a processor watching dir. indexed is the corpus
// fingerprint of the published snapshot; an empty value forces a first ingest.
func NewReindexProcessor(ingester Ingester, dir, indexed string) *ReindexProcessor {
	return &ReindexProcessor{
		ingester:    ingester,
		dir:         dir,
		fingerprint: service.CorpusFingerprint,
		last:        indexed,
	}
}

// ProcessJobs ingests the corpus if it changed since the last successful run.
func (p *ReindexProcessor) ProcessJobs(ctx context.Context) error {
	fp, err := p.fingerprint(p.dir)
	if err != nil {
		return fmt.Errorf("failed to fingerprint corpus: %w", err)
	}

	p.mu.Lock()
	unchanged := fp == p.last
	p.mu.Unlock()
	if unchanged {
		return nil
	}

	log.Printf("reindex: corpus %s changed, re-ingesting", p.dir)
	result, err := p.ingester.Ingest(ctx, p.dir)
	if err != nil {
		if errors.Is(err, domain.ErrIngestRunning) {
			return nil
		}
		return fmt.Errorf("failed to re-ingest corpus: %w", err)
	}

	p.mu.Lock()
	p.last = fp
	p.mu.Unlock()
	log.Printf("reindex: published %d chunks", result.Chunks)
	return nil
}
