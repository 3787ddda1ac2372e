// Package memory provides an in-process Index backed by term overlap. It
// stands in for the real vector service in tests and small local corpora.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/types"
)

// Index is a thread-safe in-memory chunk store with keyword-overlap scoring.
type Index struct {
	mu      sync.RWMutex
	byID    map[string]types.Chunk
	byIssue map[string][]string // issue key -> chunk ids
}

// New creates an empty in-memory index.
func New() *Index {
	return &Index{
		byID:    make(map[string]types.Chunk),
		byIssue: make(map[string][]string),
	}
}

// Upsert stores the batch. The write happens under one lock, so the batch is
// atomic with respect to Query.
func (ix *Index) Upsert(ctx context.Context, records []index.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, rec := range records {
		c := rec.Chunk
		if _, exists := ix.byID[c.ID]; !exists {
			ix.byIssue[c.IssueKey] = append(ix.byIssue[c.IssueKey], c.ID)
		}
		ix.byID[c.ID] = c
	}
	return nil
}

// Query ranks chunks by term overlap with the question.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]index.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize(text)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var matches []index.Match
	for _, chunk := range ix.byID {
		score := overlap(terms, chunk.Text)
		if score > 0 {
			matches = append(matches, index.Match{Chunk: chunk, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// GetByIssue returns all chunks stored for an issue key.
func (ix *Index) GetByIssue(ctx context.Context, issueKey string) ([]types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids := ix.byIssue[issueKey]
	chunks := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		chunks = append(chunks, ix.byID[id])
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	return chunks, nil
}

// Len reports the number of stored chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-')
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func overlap(terms []string, text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
