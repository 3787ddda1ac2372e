package retrieve

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/index/memory"
	"github.com/jirascope/jirascope/internal/types"
)

func seedIndex(t *testing.T, chunks []types.Chunk) *memory.Index {
	t.Helper()
	ix := memory.New()
	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.Record{Chunk: c}
	}
	if err := ix.Upsert(context.Background(), records); err != nil {
		t.Fatal(err)
	}
	return ix
}

func TestExtractIssueKeys(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"what is the status of SCRUM-12?", []string{"SCRUM-12"}},
		{"compare SCRUM-12 and HRLIF-2080", []string{"SCRUM-12", "HRLIF-2080"}},
		{"SCRUM-12 blocks SCRUM-12", []string{"SCRUM-12"}},
		{"no keys here", nil},
		{"lowercase scrum-12 does not count", nil},
	}

	for _, tt := range tests {
		if got := ExtractIssueKeys(tt.text); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractIssueKeys(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestRetrieveDirectKeyLookup(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ix := seedIndex(t, []types.Chunk{
		{ID: "SCRUM-12::timeline", IssueKey: "SCRUM-12", View: types.ViewTimeline, Text: "delivery dates", IngestedAt: at},
		{ID: "SCRUM-1::business-requirements", IssueKey: "SCRUM-1", View: types.ViewBusiness, Text: "provider onboarding workflow", IngestedAt: at},
	})

	r := &Retriever{Index: ix, TopK: 5}
	// The question shares no vocabulary with SCRUM-12's chunk; only the
	// key lookup can surface it.
	matches, err := r.Retrieve(context.Background(), "tell me about SCRUM-12")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	found := false
	for _, m := range matches {
		if m.Chunk.IssueKey == "SCRUM-12" {
			found = true
			if m.Score != 1.0 {
				t.Errorf("direct hit score = %g, want 1.0", m.Score)
			}
		}
	}
	if !found {
		t.Fatal("named issue missing from candidates")
	}
	if matches[0].Chunk.IssueKey != "SCRUM-12" {
		t.Errorf("direct hit should rank first, got %s", matches[0].Chunk.IssueKey)
	}
}

func TestRetrieveOrdering(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ix := seedIndex(t, []types.Chunk{
		{ID: "A-1::business-requirements", IssueKey: "A-1", Text: "payment retry logic", IngestedAt: older},
		{ID: "A-2::business-requirements", IssueKey: "A-2", Text: "payment retry logic", IngestedAt: newer},
	})

	r := &Retriever{Index: ix, TopK: 5}
	matches, err := r.Retrieve(context.Background(), "payment retry logic")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	// Equal scores break toward the fresher chunk.
	if matches[0].Chunk.IssueKey != "A-2" {
		t.Errorf("tie should break to newer ingestion, got %s first", matches[0].Chunk.IssueKey)
	}
}

type brokenIndex struct{}

func (brokenIndex) Upsert(ctx context.Context, records []index.Record) error { return nil }
func (brokenIndex) Query(ctx context.Context, text string, k int) ([]index.Match, error) {
	return nil, errors.New("connection refused")
}
func (brokenIndex) GetByIssue(ctx context.Context, issueKey string) ([]types.Chunk, error) {
	return nil, errors.New("connection refused")
}

func TestRetrieveFailureWrapsSentinel(t *testing.T) {
	r := &Retriever{Index: brokenIndex{}, TopK: 5}
	_, err := r.Retrieve(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrRetrieval) {
		t.Errorf("error %v should wrap ErrRetrieval", err)
	}
}

func TestIssueKeys(t *testing.T) {
	matches := []index.Match{
		{Chunk: types.Chunk{IssueKey: "A-1"}},
		{Chunk: types.Chunk{IssueKey: "A-2"}},
		{Chunk: types.Chunk{IssueKey: "A-1"}},
		{Chunk: types.Chunk{IssueKey: ""}},
	}
	got := IssueKeys(matches)
	want := []string{"A-1", "A-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IssueKeys = %v, want %v", got, want)
	}
}
