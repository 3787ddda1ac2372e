// Package types defines the core data structures shared between the
// ingestion pipeline and the query-time orchestrator.
package types

import (
	"fmt"
	"time"
)

// Issue is a read-only snapshot of a tracker issue, taken at ingestion time.
// The live tracker owns the issue; nothing here is authoritative for fields
// that can change after the snapshot (status, assignee, fix versions).
type Issue struct {
	Key            string          `json:"key"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	IssueType      string          `json:"issue_type,omitempty"`
	Status         string          `json:"status,omitempty"`
	StatusCategory string          `json:"status_category,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	Assignee       string          `json:"assignee,omitempty"`
	Reporter       string          `json:"reporter,omitempty"`
	Labels         []string        `json:"labels,omitempty"`
	ParentKey      string          `json:"parent_key,omitempty"`
	FixVersions    []FixVersion    `json:"fix_versions,omitempty"`
	Links          []IssueLink     `json:"links,omitempty"`
	Subtasks       []string        `json:"subtasks,omitempty"`
	Comments       []Comment       `json:"comments,omitempty"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	Created        time.Time       `json:"created,omitzero"`
	Updated        time.Time       `json:"updated,omitzero"`
	Resolved       time.Time       `json:"resolved,omitzero"`
}

// FixVersion is a release a tracker issue is scheduled into.
type FixVersion struct {
	Name        string    `json:"name"`
	Released    bool      `json:"released"`
	ReleaseDate time.Time `json:"release_date,omitzero"`
}

// LinkDirection says from whose perspective the tracker reported a link.
type LinkDirection string

const (
	LinkOutward LinkDirection = "outward" // this issue → other issue
	LinkInward  LinkDirection = "inward"  // other issue → this issue
)

// IssueLink is a raw tracker link, still in the tracker's native vocabulary
// (e.g. "blocks", "is blocked by", "relates to", "clones").
type IssueLink struct {
	Type      string        `json:"type"`
	Direction LinkDirection `json:"direction"`
	OtherKey  string        `json:"other_key"`
}

// Comment is a single issue comment, flattened to plain text.
type Comment struct {
	Author  string    `json:"author,omitempty"`
	Created time.Time `json:"created,omitzero"`
	Body    string    `json:"body"`
}

// AttachmentRef identifies an attachment without its content.
type AttachmentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ViewKind names the purpose-scoped projections an issue is chunked into.
type ViewKind string

const (
	ViewBusiness   ViewKind = "business-requirements"
	ViewDependency ViewKind = "technical-dependency"
	ViewTimeline   ViewKind = "timeline"
)

// Chunk is one embeddable projection of an issue. Live-mutable fields appear
// only as observed-at-ingestion context, never as current fact; IngestedAt is
// the staleness watermark.
type Chunk struct {
	ID             string    `json:"id"` // "<issue key>::<view>"
	IssueKey       string    `json:"issue_key"`
	View           ViewKind  `json:"view"`
	Text           string    `json:"text"`
	Tags           []string  `json:"tags,omitempty"`
	ObservedStatus string    `json:"observed_status,omitempty"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// ChunkID builds the canonical id for an issue's view chunk.
func ChunkID(issueKey string, view ViewKind) string {
	return fmt.Sprintf("%s::%s", issueKey, view)
}

// TagUnclassified marks issues where no structural tag cleared threshold.
const TagUnclassified = "unclassified"

// RelationKind is the canonical dependency vocabulary. Tracker-native link
// types are normalized into these three by the dependency mapper.
type RelationKind string

const (
	RelBlocks    RelationKind = "blocks"
	RelBlockedBy RelationKind = "blocked-by"
	RelRelates   RelationKind = "relates-to"
)

// Inverse returns the relation seen from the other end of the edge.
func (r RelationKind) Inverse() RelationKind {
	switch r {
	case RelBlocks:
		return RelBlockedBy
	case RelBlockedBy:
		return RelBlocks
	default:
		return RelRelates
	}
}

// DependencyEdge is one directed edge in the cross-issue dependency graph.
// Edges may dangle: To need not be in the ingested corpus.
type DependencyEdge struct {
	From string       `json:"from"`
	To   string       `json:"to"`
	Kind RelationKind `json:"kind"`
}

// Inverse returns the same relationship stated from the other issue's side.
func (e DependencyEdge) Inverse() DependencyEdge {
	return DependencyEdge{From: e.To, To: e.From, Kind: e.Kind.Inverse()}
}

// DeploymentState is the advisory production-readiness inference.
type DeploymentState string

const (
	DeployInProduction   DeploymentState = "in-production"
	DeployPendingRelease DeploymentState = "pending-release"
	DeployUnreleased     DeploymentState = "unreleased"
	DeployUnknown        DeploymentState = "unknown"
)

// DeploymentSignal records the inferred deployment state plus the fix-version
// evidence it was derived from. Never authoritative: deployment questions are
// always re-verified live.
type DeploymentSignal struct {
	IssueKey string          `json:"issue_key"`
	State    DeploymentState `json:"state"`
	Evidence []FixVersion    `json:"evidence,omitempty"`
}

// VerifyOutcome is the result of a single live fetch.
type VerifyOutcome string

const (
	VerifyOK     VerifyOutcome = "ok"
	VerifyFailed VerifyOutcome = "failed"
)

// Well-known field names in a VerificationRecord's field map.
const (
	FieldStatus      = "status"
	FieldAssignee    = "assignee"
	FieldFixVersions = "fix_versions"
	FieldDeployment  = "deployment"
	FieldResolution  = "resolution"
)

// VerificationRecord is one live fetch for one issue key, scoped to a single
// query turn. Records are never reused across turns.
type VerificationRecord struct {
	IssueKey  string            `json:"issue_key"`
	FetchedAt time.Time         `json:"fetched_at"`
	Fields    map[string]string `json:"fields,omitempty"`
	Outcome   VerifyOutcome     `json:"outcome"`
	Error     string            `json:"error,omitempty"`
}

// Verified reports whether the record carries usable live values.
func (r *VerificationRecord) Verified() bool {
	return r != nil && r.Outcome == VerifyOK
}

// Provenance labels where an asserted fact came from.
type Provenance string

const (
	ProvenanceMemory Provenance = "memory" // semantic index, possibly stale
	ProvenanceLive   Provenance = "live"   // fetched from the tracker this turn
)

// Fact is a single asserted value in an answer, with its data origin.
type Fact struct {
	IssueKey   string     `json:"issue_key"`
	Field      string     `json:"field"`
	Value      string     `json:"value"`
	Provenance Provenance `json:"provenance"`
	Note       string     `json:"note,omitempty"` // e.g. "recorded at ingestion time"
}

// TokenLedger accumulates completion-service token usage for one query turn.
// It is passed explicitly through the orchestrator so concurrent turns stay
// independent.
type TokenLedger struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Rounds     int   `json:"rounds"`
}

// Add records one completion round's usage.
func (l *TokenLedger) Add(prompt, completion int64) {
	l.Prompt += prompt
	l.Completion += completion
	l.Rounds++
}

// Total returns combined prompt and completion tokens.
func (l *TokenLedger) Total() int64 { return l.Prompt + l.Completion }

// Sources records which retrieval queries and live fetches fed an answer, so
// the presentation layer can show the two provenance streams side by side.
type Sources struct {
	SearchQueries []string `json:"search_queries,omitempty"`
	LiveFetches   []string `json:"live_fetches,omitempty"`
	Unverified    []string `json:"unverified,omitempty"`
}

// Answer is the product of one query turn. Owned by the synthesizer for the
// duration of the turn; not persisted.
type Answer struct {
	Text    string      `json:"text"`
	Facts   []Fact      `json:"facts,omitempty"`
	Sources Sources     `json:"sources"`
	Ledger  TokenLedger `json:"ledger"`
}
