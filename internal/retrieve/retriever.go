// Package retrieve proposes candidate chunks for a question. It never
// asserts facts: its output is narrative context plus issue keys for the
// policy enforcer to route.
package retrieve

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/types"
)

// issueKeyRe matches tracker keys like SCRUM-12 or HRLIF-2080 embedded in a
// question.
var issueKeyRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

// Retriever queries the external vector index, hybridized with direct key
// lookup when the question names issues explicitly.
type Retriever struct {
	Index   index.Index
	TopK    int
	Timeout time.Duration
}

// Retrieve returns ranked candidates, highest similarity first, ties broken
// by most recent ingestion. Any index failure wraps types.ErrRetrieval: the
// turn cannot proceed without candidates.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]index.Match, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	k := r.TopK
	if k <= 0 {
		k = 10
	}

	matches, err := r.Index.Query(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRetrieval, err)
	}

	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		seen[m.Chunk.ID] = true
	}

	// Direct key lookup: a question naming SCRUM-12 gets all of SCRUM-12's
	// chunks regardless of semantic distance.
	for _, key := range ExtractIssueKeys(question) {
		chunks, err := r.Index.GetByIssue(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrRetrieval, err)
		}
		for _, c := range chunks {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			// Direct hits outrank any semantic match.
			matches = append(matches, index.Match{Chunk: c, Score: 1.0})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.IngestedAt.After(matches[j].Chunk.IngestedAt)
	})

	return matches, nil
}

// ExtractIssueKeys returns the distinct issue keys named in the text, in
// order of first appearance.
func ExtractIssueKeys(text string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, k := range issueKeyRe.FindAllString(text, -1) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// IssueKeys returns the distinct issue keys present in a candidate set, in
// candidate order.
func IssueKeys(matches []index.Match) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, m := range matches {
		k := m.Chunk.IssueKey
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
