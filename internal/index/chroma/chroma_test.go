package chroma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/types"
)

func testConfig(url string) Config {
	return Config{
		URL:        url,
		Tenant:     "default_tenant",
		Database:   "default_database",
		Collection: "jira_issues_rag",
		APIKey:     "testtoken",
	}
}

// chromaStub captures requests and serves minimal v2 API responses.
type chromaStub struct {
	t            *testing.T
	collectionID string

	lastUpsert map[string]any
	queryResp  map[string]any
	getResp    map[string]any

	collectionCalls atomic.Int64
}

func (s *chromaStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Chroma-Token"); got != "testtoken" {
			s.t.Errorf("missing auth token, got %q", got)
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/collections"):
			s.collectionCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": s.collectionID, "name": "jira_issues_rag"})
		case strings.HasSuffix(r.URL.Path, "/upsert"):
			if !strings.Contains(r.URL.Path, s.collectionID) {
				s.t.Errorf("upsert against wrong collection path: %s", r.URL.Path)
			}
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			s.lastUpsert = payload
			_ = json.NewEncoder(w).Encode(map[string]any{})
		case strings.HasSuffix(r.URL.Path, "/query"):
			_ = json.NewEncoder(w).Encode(s.queryResp)
		case strings.HasSuffix(r.URL.Path, "/get"):
			_ = json.NewEncoder(w).Encode(s.getResp)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestUpsertEncodesMetadata(t *testing.T) {
	stub := &chromaStub{t: t, collectionID: "coll-1"}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	records := []index.Record{{Chunk: types.Chunk{
		ID:             "SCRUM-12::timeline",
		IssueKey:       "SCRUM-12",
		View:           types.ViewTimeline,
		Text:           "delivery dates",
		Tags:           []string{"epic-like", "story-like"},
		ObservedStatus: "In Progress",
		IngestedAt:     at,
	}}}

	if err := c.Upsert(context.Background(), records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	ids, _ := stub.lastUpsert["ids"].([]any)
	if len(ids) != 1 || ids[0] != "SCRUM-12::timeline" {
		t.Errorf("ids = %v", ids)
	}
	metas, _ := stub.lastUpsert["metadatas"].([]any)
	if len(metas) != 1 {
		t.Fatalf("metadatas = %v", metas)
	}
	meta := metas[0].(map[string]any)
	if meta["issue_key"] != "SCRUM-12" || meta["view"] != "timeline" {
		t.Errorf("metadata = %v", meta)
	}
	if meta["tags"] != "epic-like | story-like" {
		t.Errorf("tags = %v", meta["tags"])
	}
	if meta["observed_status"] != "In Progress" {
		t.Errorf("observed_status = %v", meta["observed_status"])
	}
	if _, ok := stub.lastUpsert["embeddings"]; ok {
		t.Error("no embeddings supplied; payload must omit the field")
	}
}

func TestQueryMapsDistancesToScores(t *testing.T) {
	stub := &chromaStub{
		t:            t,
		collectionID: "coll-1",
		queryResp: map[string]any{
			"ids":       [][]string{{"SCRUM-12::timeline", "SCRUM-7::business-requirements"}},
			"documents": [][]string{{"delivery dates", "payment flow"}},
			"metadatas": [][]map[string]string{{
				{"issue_key": "SCRUM-12", "view": "timeline", "observed_status": "In Progress", "ingested_at": "2024-03-01T09:00:00Z"},
				{"issue_key": "SCRUM-7", "view": "business-requirements"},
			}},
			"distances": [][]float64{{0.2, 0.5}},
		},
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	matches, err := c.Query(context.Background(), "current delivery state", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Score != 0.8 {
		t.Errorf("score = %g, want 1 - distance", matches[0].Score)
	}
	if matches[0].Chunk.IssueKey != "SCRUM-12" || matches[0].Chunk.View != types.ViewTimeline {
		t.Errorf("chunk = %+v", matches[0].Chunk)
	}
	if matches[0].Chunk.ObservedStatus != "In Progress" {
		t.Errorf("observed status lost in decode: %+v", matches[0].Chunk)
	}
	if matches[0].Chunk.IngestedAt.IsZero() {
		t.Error("ingested_at lost in decode")
	}
}

func TestQueryToleratesSparseResponse(t *testing.T) {
	// Ids without documents, metadatas, or distances still decode; missing
	// parts fall back to zero values instead of panicking.
	stub := &chromaStub{
		t:            t,
		collectionID: "coll-1",
		queryResp: map[string]any{
			"ids": [][]string{{"SCRUM-12::timeline"}},
		},
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	matches, err := c.Query(context.Background(), "anything", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Chunk.ID != "SCRUM-12::timeline" {
		t.Errorf("chunk = %+v", matches[0].Chunk)
	}
	if matches[0].Chunk.Text != "" || matches[0].Score != 0 {
		t.Errorf("missing fields should stay zero: %+v", matches[0])
	}
}

func TestGetByIssue(t *testing.T) {
	stub := &chromaStub{
		t:            t,
		collectionID: "coll-1",
		getResp: map[string]any{
			"ids":       []string{"SCRUM-12::timeline"},
			"documents": []string{"delivery dates"},
			"metadatas": []map[string]string{{"issue_key": "SCRUM-12", "view": "timeline"}},
		},
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := c.GetByIssue(context.Background(), "SCRUM-12")
	if err != nil {
		t.Fatalf("GetByIssue: %v", err)
	}
	if len(chunks) != 1 || chunks[0].IssueKey != "SCRUM-12" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestCollectionResolvedOnce(t *testing.T) {
	stub := &chromaStub{
		t: t, collectionID: "coll-1",
		queryResp: map[string]any{"ids": [][]string{{}}},
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := c.Query(context.Background(), "anything", 1); err != nil {
			t.Fatal(err)
		}
	}
	if got := stub.collectionCalls.Load(); got != 1 {
		t.Errorf("collection resolved %d times, want 1", got)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{Tenant: "t", Database: "d", Collection: "c"}},
		{"missing tenant", Config{URL: "http://x", Database: "d", Collection: "c"}},
		{"missing collection", Config{URL: "http://x", Tenant: "t", Database: "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected config error")
			}
		})
	}
}
