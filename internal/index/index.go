// Package index defines the vector index boundary. The index is an external
// nearest-neighbor service: jirascope writes chunk records and reads ranked
// candidates, and treats embeddings as opaque.
package index

import (
	"context"

	"github.com/jirascope/jirascope/internal/types"
)

// Record is one chunk plus its (optional) embedding. A nil embedding means
// the index computes embeddings server-side from the chunk text.
type Record struct {
	Chunk     types.Chunk
	Embedding []float32
}

// Match is a retrieved chunk with its similarity score (higher is closer).
type Match struct {
	Chunk types.Chunk
	Score float64
}

// Index is the vector index service boundary.
//
// Upsert must be atomic per call: either every record in the batch becomes
// visible to Query or none does. The ingestion pipeline relies on this to
// write one issue's chunks as a group.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, text string, k int) ([]Match, error)
	// GetByIssue returns every chunk indexed for one issue key, for direct
	// key lookup when a question names the issue explicitly.
	GetByIssue(ctx context.Context, issueKey string) ([]types.Chunk, error)
}
