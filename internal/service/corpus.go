package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

const (
	textSuffix  = ".txt"
	pagesSuffix = ".pages.json"
)

type pageRecord struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// IsCorpusFile reports whether name is a file the corpus loader reads.
func IsCorpusFile(name string) bool {
	return strings.HasSuffix(name, pagesSuffix) || strings.HasSuffix(name, textSuffix)
}

// corpusFiles lists corpus files in dir sorted by name.
func corpusFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsCorpusFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LoadCorpus reads every document in dir as per-page text.
// Plain text files separate pages with form feeds; *.pages.json files hold
// an array of {"page", "text"} records.
func LoadCorpus(dir string) ([]domain.Page, error) {
	names, err := corpusFiles(dir)
	if err != nil {
		return nil, err
	}

	var pages []domain.Page
	for _, name := range names {
		path := filepath.Join(dir, name)
		var docPages []domain.Page
		if strings.HasSuffix(name, pagesSuffix) {
			docPages, err = readPagesJSON(path, strings.TrimSuffix(name, pagesSuffix))
		} else {
			docPages, err = readText(path, name)
		}
		if err != nil {
			return nil, err
		}
		pages = append(pages, docPages...)
	}
	return pages, nil
}

func readText(path, filename string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	parts := strings.Split(string(data), "\f")
	pages := make([]domain.Page, 0, len(parts))
	for i, text := range parts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Filename: filename, Number: i + 1, Text: text})
	}
	return pages, nil
}

func readPagesJSON(path, filename string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	var records []pageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, fmt.Sprintf("invalid page file %s", filepath.Base(path)), err)
	}
	pages := make([]domain.Page, 0, len(records))
	for i, r := range records {
		number := r.Page
		if number <= 0 {
			number = i + 1
		}
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Filename: filename, Number: number, Text: r.Text})
	}
	return pages, nil
}

// CorpusFingerprint hashes the names, sizes and modification times of the
// corpus files in dir. It changes whenever a document is added, removed or edited.
func CorpusFingerprint(dir string) (string, error) {
	names, err := corpusFiles(dir)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", name, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", name, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
