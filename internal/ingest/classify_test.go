package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jirascope/jirascope/internal/types"
)

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func TestClassify(t *testing.T) {
	c := NewClassifier(DefaultRules())

	tests := []struct {
		name  string
		issue types.Issue
		want  []string
	}{
		{
			name: "initiative language with subtasks reads epic-like",
			issue: types.Issue{
				Key:         "SCRUM-1",
				Title:       "End-to-end provider onboarding workflow",
				Description: "Covers the entire lifecycle across all regions.",
				Subtasks:    []string{"SCRUM-2", "SCRUM-3"},
			},
			want: []string{TagEpicLike},
		},
		{
			name: "user story with acceptance criteria reads story-like",
			issue: types.Issue{
				Key:         "SCRUM-4",
				Title:       "Activate provider account",
				Description: "As an operator I want to activate a provider.\n\nAcceptance criteria:\n- provider becomes visible",
			},
			want: []string{TagStoryLike},
		},
		{
			name: "plain bug report stays unclassified",
			issue: types.Issue{
				Key:         "SCRUM-5",
				Title:       "NPE on startup",
				Description: "Stack trace attached.",
			},
			want: []string{types.TagUnclassified},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.issue)
			for _, w := range tt.want {
				if !hasTag(got, w) {
					t.Errorf("tags %v missing %q", got, w)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("got tags %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(DefaultRules())
	issue := types.Issue{
		Key:         "SCRUM-6",
		Title:       "End-to-end payment workflow",
		Description: "As a user I want to submit a payment. Acceptance criteria: it works.",
		Subtasks:    []string{"SCRUM-7"},
	}

	first := c.Classify(issue)
	for i := 0; i < 10; i++ {
		if got := c.Classify(issue); strings.Join(got, ",") != strings.Join(first, ",") {
			t.Fatalf("run %d: tags %v differ from first run %v", i, got, first)
		}
	}
}

func TestClassifyBothTagsCanAttach(t *testing.T) {
	c := NewClassifier(DefaultRules())
	issue := types.Issue{
		Key:         "SCRUM-8",
		Title:       "End-to-end order workflow initiative",
		Description: "As an operator I want to validate orders across all locations. Acceptance criteria: given an order when submitted then it validates.",
		Subtasks:    []string{"SCRUM-9"},
	}
	tags := c.Classify(issue)
	if !hasTag(tags, TagEpicLike) || !hasTag(tags, TagStoryLike) {
		t.Errorf("expected both structural tags, got %v", tags)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	data := "threshold: 0.7\nepic_terms:\n  - saga\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules.Threshold != 0.7 {
		t.Errorf("threshold = %g, want 0.7", rules.Threshold)
	}
	if len(rules.EpicTerms) != 1 || rules.EpicTerms[0] != "saga" {
		t.Errorf("epic terms = %v, want [saga]", rules.EpicTerms)
	}
	// Unset sections keep the defaults.
	if len(rules.StoryActions) == 0 {
		t.Error("story actions should fall back to defaults")
	}

	if _, err := LoadRules(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing rules file")
	}
}
