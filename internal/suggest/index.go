// Package suggest maintains a secondary, in-memory-or-on-disk search index
// over tag names and file paths for fast prefix/fuzzy autocomplete, kept
// separate from PQL compilation (spec.md's query path never touches this
// package) — spec.md §4.3's "secondary tag/path suggestion index" addition.
// Grounded on the teacher's internal/store/bm25.go Bleve wrapper, narrowed
// from full-document BM25 search to a single "term" field per entry plus
// go-edlib-ranked fuzzy fallback for typo-tolerant lookups.
package suggest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/hbollon/go-edlib"
)

// Kind distinguishes the two entry classes this index serves.
type Kind string

const (
	KindTag  Kind = "tag"
	KindPath Kind = "path"
)

// Entry is one indexed term: a tag name or a file path.
type Entry struct {
	ID   string `json:"-"`
	Kind Kind   `json:"kind"`
	Term string `json:"term"`
}

// Index wraps a Bleve index over Entry documents, plus a go-edlib
// Jaro-Winkler fallback for queries that return too few prefix matches.
type Index struct {
	mu              sync.RWMutex
	bleveIdx        bleve.Index
	path            string
	closed          bool
	fuzzyThreshold  float64
}

// Open creates or opens the suggestion index at path (empty path for an
// in-memory index, used by tests), mirroring the teacher's
// NewBleveBM25Index open-or-create sequence.
func Open(path string) (*Index, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("suggest: create index dir: %w", mkErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("suggest: open index: %w", err)
	}

	return &Index{bleveIdx: idx, path: path, fuzzyThreshold: 0.80}, nil
}

// Close releases the underlying Bleve index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	return idx.bleveIdx.Close()
}

// IndexEntries batches entries into the index, replacing any existing
// document sharing the same ID.
func (idx *Index) IndexEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("suggest: index is closed")
	}

	batch := idx.bleveIdx.NewBatch()
	for _, e := range entries {
		if err := batch.Index(e.ID, e); err != nil {
			return fmt.Errorf("suggest: batch entry %s: %w", e.ID, err)
		}
	}
	return idx.bleveIdx.Batch(batch)
}

// Delete removes the entry with the given ID, used when a tag becomes
// orphaned or a file is removed from the index.
func (idx *Index) Delete(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("suggest: index is closed")
	}
	return idx.bleveIdx.Delete(id)
}

// Suggestion is one ranked autocomplete candidate.
type Suggestion struct {
	Term  string
	Kind  Kind
	Score float64
}

// Suggest returns up to limit candidates of the given kind matching prefix,
// via a Bleve prefix query; if fewer than limit prefix matches are found,
// it falls back to a go-edlib Jaro-Winkler similarity scan over every
// indexed term of that kind to surface typo-tolerant candidates.
func (idx *Index) Suggest(ctx context.Context, kind Kind, prefix string, limit int) ([]Suggestion, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, fmt.Errorf("suggest: index is closed")
	}
	if limit <= 0 {
		limit = 10
	}

	kindQuery := bleve.NewTermQuery(string(kind))
	kindQuery.SetField("kind")
	prefixQuery := bleve.NewPrefixQuery(strings.ToLower(prefix))
	prefixQuery.SetField("term")

	conj := bleve.NewConjunctionQuery(kindQuery, prefixQuery)
	req := bleve.NewSearchRequest(conj)
	req.Size = limit
	req.Fields = []string{"term", "kind"}

	result, err := idx.bleveIdx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("suggest: prefix search: %w", err)
	}

	out := make([]Suggestion, 0, len(result.Hits))
	for _, hit := range result.Hits {
		term, _ := hit.Fields["term"].(string)
		out = append(out, Suggestion{Term: term, Kind: kind, Score: hit.Score})
	}
	if len(out) >= limit || prefix == "" {
		return out, nil
	}

	fuzzy, err := idx.fuzzySuggest(ctx, kind, prefix, limit-len(out))
	if err != nil {
		return out, nil
	}
	return append(out, fuzzy...), nil
}

// fuzzySuggest scans every indexed term of kind and ranks by go-edlib
// Jaro-Winkler similarity, keeping candidates above fuzzyThreshold —
// grounded on the standardbeagle-lci FuzzyMatcher's jaroWinkler helper.
func (idx *Index) fuzzySuggest(ctx context.Context, kind Kind, prefix string, limit int) ([]Suggestion, error) {
	kindQuery := bleve.NewTermQuery(string(kind))
	kindQuery.SetField("kind")
	req := bleve.NewSearchRequest(kindQuery)
	req.Size = 10000
	req.Fields = []string{"term", "kind"}

	result, err := idx.bleveIdx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates := make([]Suggestion, 0, len(result.Hits))
	for _, hit := range result.Hits {
		term, _ := hit.Fields["term"].(string)
		if term == "" {
			continue
		}
		sim, err := edlib.StringsSimilarity(strings.ToLower(prefix), strings.ToLower(term), edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if float64(sim) < idx.fuzzyThreshold {
			continue
		}
		candidates = append(candidates, Suggestion{Term: term, Kind: kind, Score: float64(sim)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
