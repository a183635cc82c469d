package lexical

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

// formatVersion is bumped whenever the artifact layout changes.
const formatVersion = 1

// ErrIndexNotFound is returned by Load when no artifact exists at the path.
var ErrIndexNotFound = domain.NewDomainError(domain.ErrCodeIndexNotBuilt, "lexical index artifact not found")

type artifact struct {
	Version int            `json:"version"`
	BuiltAt time.Time      `json:"built_at"`
	Corpus  string         `json:"corpus_fingerprint,omitempty"`
	Config  Config         `json:"config"`
	Chunks  []domain.Chunk `json:"chunks"`
	Terms   []string       `json:"terms"`
	IDF     []float64      `json:"idf"`
	Docs    []SparseVector `json:"docs"`
}

// WriteTo serializes the index as gzip-compressed JSON.
func (ix *Index) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := gzip.NewWriter(cw)

	a := artifact{
		Version: formatVersion,
		BuiltAt: ix.builtAt,
		Corpus:  ix.corpus,
		Config:  ix.vectorizer.cfg,
		Chunks:  ix.chunks,
		Terms:   ix.vectorizer.terms,
		IDF:     ix.vectorizer.idf,
		Docs:    ix.docs,
	}
	if err := json.NewEncoder(zw).Encode(&a); err != nil {
		return cw.n, fmt.Errorf("failed to encode index: %w", err)
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to flush index: %w", err)
	}
	return cw.n, nil
}

// ReadIndex deserializes an index written by WriteTo.
func ReadIndex(r io.Reader) (*Index, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open index stream: %w", err)
	}
	defer zr.Close()

	var a artifact
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}
	if a.Version != formatVersion {
		return nil, fmt.Errorf("unsupported index format version %d", a.Version)
	}
	if len(a.Docs) != len(a.Chunks) {
		return nil, fmt.Errorf("corrupt index: %d vectors for %d chunks", len(a.Docs), len(a.Chunks))
	}
	if len(a.IDF) != len(a.Terms) {
		return nil, fmt.Errorf("corrupt index: %d idf weights for %d terms", len(a.IDF), len(a.Terms))
	}

	for i := range a.Chunks {
		if err := domain.ValidateChunk(&a.Chunks[i]); err != nil {
			return nil, fmt.Errorf("corrupt index: chunk %d: %w", i, err)
		}
	}

	index := make(map[string]int32, len(a.Terms))
	for i, t := range a.Terms {
		index[t] = int32(i)
	}
	for i := range a.Docs {
		if len(a.Docs[i].Indices) != len(a.Docs[i].Values) {
			return nil, fmt.Errorf("corrupt index: vector %d is malformed", i)
		}
	}

	return &Index{
		chunks: a.Chunks,
		vectorizer: &Vectorizer{
			cfg:   a.Config.normalized(),
			terms: a.Terms,
			index: index,
			idf:   a.IDF,
		},
		docs:    a.Docs,
		builtAt: a.BuiltAt,
		corpus:  a.Corpus,
	}, nil
}

// Save writes the index to path atomically.
func (ix *Index) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := ix.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish index: %w", err)
	}
	return nil
}

// Remove deletes the artifact at path. A missing artifact is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove index: %w", err)
	}
	return nil
}

// Load reads an index previously written by Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	return ReadIndex(f)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
