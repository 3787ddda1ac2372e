// Package policy decides which questions may be answered from the semantic
// index alone and which must be re-verified against the live tracker first.
//
// The enforcer is the authoritative gate for the system's central contract:
// no volatile field value reaches an answer unless it came from a
// verification record produced in the current turn. The completion service
// may request extra verification, but it can never waive this gate.
package policy

import (
	"strings"

	"github.com/jirascope/jirascope/internal/types"
)

// State is a step in the enforcement lifecycle of one turn.
type State string

const (
	StateReceived           State = "received"
	StateScanned            State = "scanned"
	StateClassifiedVolatile State = "classified-volatile"
	StateClassifiedStable   State = "classified-stable"
	StateRouted             State = "routed"
)

// Decision is the routed outcome for one turn.
type Decision struct {
	State    State
	Volatile bool
	// Fields lists the volatile fields the question implicates.
	Fields []string
	// VerifyKeys are the issue keys that must be verified before any
	// volatile field may appear in the answer. Empty for stable turns.
	VerifyKeys []string
}

// volatileFields are the issue attributes whose values can change
// independently of issue content after ingestion.
var volatileFields = map[string]bool{
	types.FieldStatus:      true,
	types.FieldAssignee:    true,
	types.FieldDeployment:  true,
	types.FieldFixVersions: true,
	types.FieldResolution:  true,
}

// IsVolatileField reports whether a field may only be asserted from a
// current-turn verification record.
func IsVolatileField(field string) bool {
	return volatileFields[field]
}

// fieldTerms maps volatile fields to the question vocabulary that implicates
// them.
var fieldTerms = map[string][]string{
	types.FieldStatus: {
		"status", "state of", "done", "finished", "complete", "completed",
		"in progress", "open", "closed", "resolved", "blocked",
	},
	types.FieldAssignee: {
		"assignee", "assigned", "who is working", "who's working", "owner",
		"working on", "responsible",
	},
	types.FieldDeployment: {
		"deploy", "deployed", "deployment", "production", "prod", "live yet",
		"shipped", "rolled out", "rollout", "go-live",
	},
	types.FieldFixVersions: {
		"fix version", "fixversion", "release", "released", "version",
	},
}

// presentTenseTerms signal the question is about the current moment, which
// makes timeline candidates volatile even without an explicit field word.
var presentTenseTerms = []string{"current", "currently", "right now", "today", "still ", "yet"}

// Enforcer classifies turns and routes them through verification.
type Enforcer struct{}

// Evaluate runs the enforcement lifecycle over the question and candidate
// set: Received -> Scanned -> Classified -> Routed.
func (e *Enforcer) Evaluate(question string, candidates []types.Chunk) Decision {
	d := Decision{State: StateReceived}
	q := strings.ToLower(question)

	// Scan: examine the question's field vocabulary and every candidate's
	// view kind.
	d.State = StateScanned
	for field, terms := range fieldTerms {
		for _, term := range terms {
			if strings.Contains(q, term) {
				d.Fields = append(d.Fields, field)
				break
			}
		}
	}

	// A present-tense question over timeline candidates concerns the
	// current delivery state even if it names no field explicitly.
	if len(d.Fields) == 0 && containsAny(q, presentTenseTerms) {
		for _, c := range candidates {
			if c.View == types.ViewTimeline {
				d.Fields = append(d.Fields, types.FieldStatus, types.FieldDeployment)
				break
			}
		}
	}

	// Classify.
	if len(d.Fields) > 0 {
		d.State = StateClassifiedVolatile
		d.Volatile = true
	} else {
		d.State = StateClassifiedStable
	}

	// Route: volatile turns must verify every distinct issue key in the
	// candidate set; stable turns synthesize directly from memory.
	if d.Volatile {
		seen := make(map[string]bool)
		for _, c := range candidates {
			if c.IssueKey != "" && !seen[c.IssueKey] {
				seen[c.IssueKey] = true
				d.VerifyKeys = append(d.VerifyKeys, c.IssueKey)
			}
		}
	}
	d.State = StateRouted

	return d
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
