// Package synth assembles the model context and the final answer. Volatile
// field values in an Answer are built exclusively from the turn's
// verification records; indexed snapshots can only appear as historical
// notes tagged with memory provenance.
package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jirascope/jirascope/internal/types"
)

// SystemPrompt is the standing policy handed to the model on every turn.
const SystemPrompt = `You are a Jira analysis assistant working over an indexed snapshot of a Jira project.

The context consists of multiple chunks per issue, grouped under
"=== ISSUE: KEY ===" headers. Each chunk is one view of the issue:
business-requirements, technical-dependency, or timeline.

Ground every claim in the provided context. Do not infer, guess, or
generalize beyond what is explicitly present.

The indexed snapshot is HISTORICAL. Status, assignee, fix versions, and
deployment state may have changed since ingestion. Any such value in the
context reflects the issue as of ingestion time, not now. When live
verification results are provided for an issue, they override the snapshot;
describe snapshot values for those fields only as what was recorded at
ingestion time. Never state a current status, assignee, fix version, or
deployment state for an issue without a live verification result for it.

If the context is insufficient to answer, say exactly what is missing.`

// GroupByIssue collects chunks per issue key, preserving the relevance
// ordering of first appearance.
func GroupByIssue(chunks []types.Chunk) ([]string, map[string][]types.Chunk) {
	grouped := make(map[string][]types.Chunk)
	var order []string
	for _, c := range chunks {
		if _, ok := grouped[c.IssueKey]; !ok {
			order = append(order, c.IssueKey)
		}
		grouped[c.IssueKey] = append(grouped[c.IssueKey], c)
	}
	return order, grouped
}

// BuildContext renders retrieved chunks grouped by issue so the model never
// blends fields across issues.
func BuildContext(chunks []types.Chunk) string {
	order, grouped := GroupByIssue(chunks)

	var b strings.Builder
	for _, key := range order {
		fmt.Fprintf(&b, "=== ISSUE: %s ===\n", key)
		for _, c := range grouped[key] {
			fmt.Fprintf(&b, "--- View: %s ---\n%s\n", c.View, c.Text)
		}
		fmt.Fprintf(&b, "=== END ISSUE %s ===\n\n", key)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderVerification formats a turn's verification records for the model.
// Failed fetches are stated as unverified rather than omitted, so the model
// cannot fall back to the snapshot silently.
func RenderVerification(records map[string]*types.VerificationRecord) string {
	if len(records) == 0 {
		return ""
	}

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Live verification results (fetched this turn):\n")
	for _, key := range keys {
		rec := records[key]
		if !rec.Verified() {
			fmt.Fprintf(&b, "- %s: UNVERIFIED (live fetch failed: %s); do not state current values for this issue\n", key, rec.Error)
			continue
		}
		fields := make([]string, 0, len(rec.Fields))
		for f := range rec.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		fmt.Fprintf(&b, "- %s:", key)
		for _, f := range fields {
			fmt.Fprintf(&b, " %s=%q", f, rec.Fields[f])
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Compose builds the final Answer. prose is the model's text; chunks are
// the retrieved snapshot context; records are this turn's verification
// results. Volatile facts are derived only from records.
func Compose(prose string, chunks []types.Chunk, records map[string]*types.VerificationRecord, sources types.Sources, ledger types.TokenLedger) *types.Answer {
	ans := &types.Answer{
		Text:    prose,
		Sources: sources,
		Ledger:  ledger,
	}

	observed := observedStatuses(chunks)

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rec := records[key]
		if !rec.Verified() {
			ans.Sources.Unverified = appendUnique(ans.Sources.Unverified, key)
			continue
		}

		fields := make([]string, 0, len(rec.Fields))
		for f := range rec.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, field := range fields {
			fact := types.Fact{
				IssueKey:   key,
				Field:      field,
				Value:      rec.Fields[field],
				Provenance: types.ProvenanceLive,
			}
			if field == types.FieldStatus {
				if was, ok := observed[key]; ok && was != rec.Fields[field] {
					fact.Note = fmt.Sprintf("recorded at ingestion time as %q", was)
				}
			}
			ans.Facts = append(ans.Facts, fact)
		}
	}

	// Snapshot statuses surface only as memory-tagged history, and only
	// for issues that were not verified live this turn.
	obsKeys := make([]string, 0, len(observed))
	for k := range observed {
		obsKeys = append(obsKeys, k)
	}
	sort.Strings(obsKeys)
	for _, key := range obsKeys {
		if rec, ok := records[key]; ok && rec.Verified() {
			continue
		}
		ans.Facts = append(ans.Facts, types.Fact{
			IssueKey:   key,
			Field:      types.FieldStatus,
			Value:      observed[key],
			Provenance: types.ProvenanceMemory,
			Note:       "as of ingestion; not verified this turn",
		})
	}

	return ans
}

func observedStatuses(chunks []types.Chunk) map[string]string {
	out := make(map[string]string)
	for _, c := range chunks {
		if c.ObservedStatus != "" {
			out[c.IssueKey] = c.ObservedStatus
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
