package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/telemetry"
	"github.com/jirascope/jirascope/internal/types"
)

// Pipeline composes chunking, classification, dependency mapping, and
// deployment inference per issue and writes the results to the vector index.
// Issues are independent, so they run through a bounded parallel pool; the
// only ordering requirement is that one issue's chunks land in the index as
// one atomic group.
type Pipeline struct {
	Index       index.Index
	Classifier  *Classifier
	Concurrency int

	// Now supplies the ingestion snapshot time; defaults to time.Now.
	Now func() time.Time
}

// Result collects one batch run's output. Chunks, edges, and signals are
// sorted for reproducible artifact files.
type Result struct {
	Issues  int
	Chunks  []types.Chunk
	Edges   []types.DependencyEdge
	Signals []types.DeploymentSignal
}

var pipelineMetrics struct {
	issues metric.Int64Counter
	chunks metric.Int64Counter
}

var pipelineMetricsOnce sync.Once

func initPipelineMetrics() {
	m := telemetry.Meter("github.com/jirascope/jirascope/ingest")
	pipelineMetrics.issues, _ = m.Int64Counter("jirascope.ingest.issues",
		metric.WithDescription("Issues ingested"),
	)
	pipelineMetrics.chunks, _ = m.Int64Counter("jirascope.ingest.chunks",
		metric.WithDescription("Chunks written to the vector index"),
	)
}

// Run ingests the batch. Per-issue pipelines run concurrently up to the
// configured limit; a failing index write aborts the run.
func (p *Pipeline) Run(ctx context.Context, issues []types.Issue) (*Result, error) {
	pipelineMetricsOnce.Do(initPipelineMetrics)

	classifier := p.Classifier
	if classifier == nil {
		classifier = NewClassifier(DefaultRules())
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	limit := p.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var (
		mu     sync.Mutex
		result Result
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, issue := range issues {
		g.Go(func() error {
			at := now()
			tags := classifier.Classify(issue)
			signal := InferDeployment(issue, at)
			chunks := BuildChunks(issue, tags, signal, at)
			edges := MapDependencies(issue)

			if len(chunks) > 0 {
				records := make([]index.Record, len(chunks))
				for i, c := range chunks {
					records[i] = index.Record{Chunk: c}
				}
				// One upsert per issue keeps the group atomic: the
				// retriever never sees a partially indexed issue.
				if err := p.Index.Upsert(ctx, records); err != nil {
					return fmt.Errorf("index issue %s: %w", issue.Key, err)
				}
			}

			mu.Lock()
			result.Issues++
			result.Chunks = append(result.Chunks, chunks...)
			result.Edges = append(result.Edges, edges...)
			result.Signals = append(result.Signals, signal)
			mu.Unlock()

			if pipelineMetrics.issues != nil {
				pipelineMetrics.issues.Add(ctx, 1)
				pipelineMetrics.chunks.Add(ctx, int64(len(chunks)))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Chunks, func(i, j int) bool { return result.Chunks[i].ID < result.Chunks[j].ID })
	sort.Slice(result.Edges, func(i, j int) bool {
		a, b := result.Edges[i], result.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})
	sort.Slice(result.Signals, func(i, j int) bool { return result.Signals[i].IssueKey < result.Signals[j].IssueKey })

	return &result, nil
}

// WriteArtifacts persists the run's chunk records, dependency edge list, and
// deployment signals as JSONL files under dir. The files are derived state:
// re-running ingestion over the same snapshots reproduces them.
func WriteArtifacts(dir string, result *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	if err := writeJSONL(filepath.Join(dir, "chunks.jsonl"), len(result.Chunks), func(i int) any { return result.Chunks[i] }); err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(dir, "edges.jsonl"), len(result.Edges), func(i int) any { return result.Edges[i] }); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(dir, "signals.jsonl"), len(result.Signals), func(i int) any { return result.Signals[i] })
}

func writeJSONL(path string, n int, row func(int) any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for i := 0; i < n; i++ {
		if err := enc.Encode(row(i)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
