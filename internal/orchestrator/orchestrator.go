// Package orchestrator runs the two-phase answer protocol: retrieve from
// the index, classify the question's volatility, verify flagged issues
// against the live tracker, then synthesize with explicit provenance.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/llm"
	"github.com/jirascope/jirascope/internal/policy"
	"github.com/jirascope/jirascope/internal/retrieve"
	"github.com/jirascope/jirascope/internal/synth"
	"github.com/jirascope/jirascope/internal/telemetry"
	"github.com/jirascope/jirascope/internal/types"
	"github.com/jirascope/jirascope/internal/verify"
)

// Orchestrator coordinates one question turn end to end. Verification
// records never outlive the turn that fetched them.
type Orchestrator struct {
	Retriever *retrieve.Retriever
	Enforcer  *policy.Enforcer
	Verifier  *verify.Verifier
	Completer llm.Completer

	MaxTokens     int
	MaxToolRounds int
}

var turnMetrics struct {
	turns  metric.Int64Counter
	rounds metric.Int64Counter
}

var turnMetricsOnce sync.Once

func initTurnMetrics() {
	m := telemetry.Meter("github.com/jirascope/jirascope/orchestrator")
	turnMetrics.turns, _ = m.Int64Counter("jirascope.orchestrator.turns",
		metric.WithDescription("Question turns processed"),
	)
	turnMetrics.rounds, _ = m.Int64Counter("jirascope.orchestrator.rounds",
		metric.WithDescription("Completion rounds across all turns"),
	)
}

type searchArgs struct {
	Query string `json:"query"`
}

type verifyArgs struct {
	IssueKey string `json:"issue_key"`
}

func tools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "semantic_search",
			Description: "Search the indexed Jira snapshot for issues relevant to a query. Returns chunks grouped by issue.",
			Parameters: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Natural-language search query",
				},
			},
			Required: []string{"query"},
		},
		{
			Name:        "verify_issue",
			Description: "Fetch the current status, assignee, fix versions, and deployment state of one issue from the live tracker. Required before stating any of those values.",
			Parameters: map[string]any{
				"issue_key": map[string]any{
					"type":        "string",
					"description": "Issue key, e.g. SCRUM-12",
				},
			},
			Required: []string{"issue_key"},
		},
	}
}

// turn is the per-question working state. A fresh one is built for every
// Run call so concurrent questions share nothing.
type turn struct {
	id      string
	ledger  types.TokenLedger
	sources types.Sources
	chunks  []types.Chunk
	seen    map[string]bool // chunk IDs already in context
	records map[string]*types.VerificationRecord
}

func (t *turn) addMatches(matches []index.Match) []types.Chunk {
	var fresh []types.Chunk
	for _, m := range matches {
		if t.seen[m.Chunk.ID] {
			continue
		}
		t.seen[m.Chunk.ID] = true
		t.chunks = append(t.chunks, m.Chunk)
		fresh = append(fresh, m.Chunk)
	}
	return fresh
}

// Run answers one question. Retrieval failure aborts the whole turn;
// verification failure degrades only the affected issues.
func (o *Orchestrator) Run(ctx context.Context, question string) (*types.Answer, error) {
	turnMetricsOnce.Do(initTurnMetrics)

	t := &turn{
		id:      uuid.NewString(),
		seen:    make(map[string]bool),
		records: make(map[string]*types.VerificationRecord),
	}

	tracer := telemetry.Tracer("github.com/jirascope/jirascope/orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(attribute.String("jirascope.turn.id", t.id))

	matches, err := o.Retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("turn %s: %w", t.id, err)
	}
	t.sources.SearchQueries = append(t.sources.SearchQueries, question)
	t.addMatches(matches)

	decision := o.Enforcer.Evaluate(question, t.chunks)
	span.SetAttributes(
		attribute.Bool("jirascope.turn.volatile", decision.Volatile),
		attribute.Int("jirascope.turn.candidates", len(t.chunks)),
	)

	// Up-front verification for everything the enforcer flagged. The tool
	// loop may add more keys; both paths land in t.records.
	if decision.Volatile {
		o.verifyKeys(ctx, t, decision.VerifyKeys)
	}

	prose, err := o.converse(ctx, t, question)
	if err != nil {
		return nil, fmt.Errorf("turn %s: %w", t.id, err)
	}

	// Last gate before synthesis: every distinct key in the candidate set,
	// including issues pulled in by mid-turn searches, must hold a record
	// before any volatile field of it can reach the answer.
	if decision.Volatile {
		var missing []string
		for _, c := range t.chunks {
			if _, ok := t.records[c.IssueKey]; !ok {
				missing = appendUnique(missing, c.IssueKey)
			}
		}
		o.verifyKeys(ctx, t, missing)
	}

	if turnMetrics.turns != nil {
		turnMetrics.turns.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("jirascope.turn.volatile", decision.Volatile),
		))
		turnMetrics.rounds.Add(ctx, int64(t.ledger.Rounds))
	}

	return synth.Compose(prose, t.chunks, t.records, t.sources, t.ledger), nil
}

func (o *Orchestrator) verifyKeys(ctx context.Context, t *turn, keys []string) {
	if len(keys) == 0 {
		return
	}
	for key, rec := range o.Verifier.VerifyAll(ctx, keys) {
		t.records[key] = rec
		t.sources.LiveFetches = appendUnique(t.sources.LiveFetches, key)
	}
	sort.Strings(t.sources.LiveFetches)
}

// converse runs the bounded tool loop and returns the model's final prose.
func (o *Orchestrator) converse(ctx context.Context, t *turn, question string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: synth.SystemPrompt},
		{Role: "user", Content: o.userPrompt(t, question)},
	}

	maxRounds := o.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}

	var lastText string
	for round := 0; round < maxRounds; round++ {
		resp, err := o.Completer.Complete(ctx, llm.Request{
			Messages:  messages,
			Tools:     tools(),
			MaxTokens: o.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		t.ledger.Add(int64(resp.PromptTokens), int64(resp.CompletionTokens))

		if resp.Content != "" {
			lastText = resp.Content
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    o.dispatch(ctx, t, call),
			})
		}
	}

	// Round budget exhausted with tool calls still pending. The last text
	// block is the best available answer.
	return lastText, nil
}

func (o *Orchestrator) userPrompt(t *turn, question string) string {
	prompt := "Context:\n" + synth.BuildContext(t.chunks)
	if v := synth.RenderVerification(t.records); v != "" {
		prompt += "\n\n" + v
	}
	return prompt + "\n\nQuestion:\n" + question
}

// dispatch executes one tool call and returns its result text. Tool errors
// are reported to the model, not raised; the turn continues.
func (o *Orchestrator) dispatch(ctx context.Context, t *turn, call llm.ToolCall) string {
	switch call.Name {
	case "semantic_search":
		args, err := llm.ParseToolArguments[searchArgs](call.Arguments)
		if err != nil || args.Query == "" {
			return "error: semantic_search requires a query argument"
		}
		matches, err := o.Retriever.Retrieve(ctx, args.Query)
		if err != nil {
			return fmt.Sprintf("error: search failed: %v", err)
		}
		t.sources.SearchQueries = append(t.sources.SearchQueries, args.Query)
		fresh := t.addMatches(matches)
		if len(fresh) == 0 {
			return "no new results"
		}
		return synth.BuildContext(fresh)

	case "verify_issue":
		args, err := llm.ParseToolArguments[verifyArgs](call.Arguments)
		if err != nil || args.IssueKey == "" {
			return "error: verify_issue requires an issue_key argument"
		}
		rec := o.Verifier.VerifyOne(ctx, args.IssueKey)
		t.records[args.IssueKey] = rec
		t.sources.LiveFetches = appendUnique(t.sources.LiveFetches, args.IssueKey)
		if !rec.Verified() {
			return fmt.Sprintf("verification failed for %s: %s. Treat this issue's current state as unknown.", args.IssueKey, rec.Error)
		}
		out, _ := json.Marshal(rec.Fields)
		return string(out)

	default:
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
