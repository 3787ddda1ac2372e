package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/index/memory"
	"github.com/jirascope/jirascope/internal/types"
)

func testIssues() []types.Issue {
	created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return []types.Issue{
		{
			Key:         "SCRUM-1",
			Title:       "End-to-end onboarding workflow",
			Description: "Covers the entire provider lifecycle.",
			Subtasks:    []string{"SCRUM-2"},
			Created:     created,
		},
		{
			Key:         "SCRUM-2",
			Title:       "Activate provider",
			Description: "As an operator I want to activate a provider.",
			Links:       []types.IssueLink{{Type: "is blocked by", Direction: types.LinkInward, OtherKey: "SCRUM-3"}},
			Created:     created,
		},
		{
			Key:         "SCRUM-3",
			Title:       "Provision database",
			FixVersions: []types.FixVersion{{Name: "2.2", Released: true, ReleaseDate: created}},
			Created:     created,
		},
	}
}

func TestPipelineRun(t *testing.T) {
	ix := memory.New()
	p := &Pipeline{
		Index:       ix,
		Concurrency: 4,
		Now:         func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) },
	}

	result, err := p.Run(context.Background(), testIssues())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Issues != 3 {
		t.Errorf("issues = %d, want 3", result.Issues)
	}
	if len(result.Signals) != 3 {
		t.Errorf("signals = %d, want 3", len(result.Signals))
	}
	if ix.Len() != len(result.Chunks) {
		t.Errorf("index holds %d chunks, result has %d", ix.Len(), len(result.Chunks))
	}

	// Chunks come back sorted by ID for reproducible artifacts.
	for i := 1; i < len(result.Chunks); i++ {
		if result.Chunks[i-1].ID > result.Chunks[i].ID {
			t.Errorf("chunks not sorted: %q before %q", result.Chunks[i-1].ID, result.Chunks[i].ID)
		}
	}

	got, err := ix.GetByIssue(context.Background(), "SCRUM-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 {
		t.Error("SCRUM-2 chunks missing from index")
	}
}

// failOnceIndex fails the first upsert for a chosen issue.
type failOnceIndex struct {
	inner  index.Index
	mu     sync.Mutex
	failed bool
	key    string
}

func (f *failOnceIndex) Upsert(ctx context.Context, records []index.Record) error {
	f.mu.Lock()
	shouldFail := !f.failed && len(records) > 0 && records[0].Chunk.IssueKey == f.key
	if shouldFail {
		f.failed = true
	}
	f.mu.Unlock()
	if shouldFail {
		return errors.New("index unavailable")
	}
	return f.inner.Upsert(ctx, records)
}

func (f *failOnceIndex) Query(ctx context.Context, text string, k int) ([]index.Match, error) {
	return f.inner.Query(ctx, text, k)
}

func (f *failOnceIndex) GetByIssue(ctx context.Context, issueKey string) ([]types.Chunk, error) {
	return f.inner.GetByIssue(ctx, issueKey)
}

func TestPipelineRunAbortsOnIndexError(t *testing.T) {
	ix := &failOnceIndex{inner: memory.New(), key: "SCRUM-2"}
	p := &Pipeline{Index: ix, Concurrency: 1}

	_, err := p.Run(context.Background(), testIssues())
	if err == nil {
		t.Fatal("expected error from failing index write")
	}

	// The failing issue's chunks never landed: the per-issue group is all
	// or nothing.
	got, _ := ix.GetByIssue(context.Background(), "SCRUM-2")
	if len(got) != 0 {
		t.Errorf("failed issue left %d chunks in the index", len(got))
	}
}

func TestWriteArtifacts(t *testing.T) {
	ix := memory.New()
	p := &Pipeline{Index: ix, Concurrency: 2}
	result, err := p.Run(context.Background(), testIssues())
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := WriteArtifacts(dir, result); err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}

	counts := map[string]int{
		"chunks.jsonl":  len(result.Chunks),
		"edges.jsonl":   len(result.Edges),
		"signals.jsonl": len(result.Signals),
	}
	for name, want := range counts {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		lines := 0
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		for scanner.Scan() {
			var row map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
				t.Errorf("%s line %d: invalid JSON: %v", name, lines+1, err)
			}
			lines++
		}
		_ = f.Close()
		if lines != want {
			t.Errorf("%s has %d lines, want %d", name, lines, want)
		}
	}
}
