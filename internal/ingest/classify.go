package ingest

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jirascope/jirascope/internal/types"
)

// Structural tags the classifier can attach.
const (
	TagEpicLike  = "epic-like"
	TagStoryLike = "story-like"
)

// Rules is the classifier vocabulary and scoring configuration. It can be
// overridden from a YAML file so projects with their own jargon can tune
// detection without code changes.
type Rules struct {
	// Threshold is the confidence a tag's score must clear to attach.
	Threshold float64 `yaml:"threshold"`
	// EpicTerms suggest initiative-scale scope ("end-to-end", "workflow").
	EpicTerms []string `yaml:"epic_terms"`
	// ScopeTerms amplify epic terms when they co-occur ("all", "entire").
	ScopeTerms []string `yaml:"scope_terms"`
	// StoryActions are single-action verbs typical of story descriptions.
	StoryActions []string `yaml:"story_actions"`
	// StoryEntities are the domain nouns those actions operate on.
	StoryEntities []string `yaml:"story_entities"`
	// LongDescriptionChars is the length past which a description reads
	// epic-scale.
	LongDescriptionChars int `yaml:"long_description_chars"`
}

// DefaultRules returns the built-in vocabulary.
func DefaultRules() Rules {
	return Rules{
		Threshold:            0.5,
		EpicTerms:            []string{"end-to-end", "workflow", "lifecycle", "initiative", "roadmap", "program", "epic"},
		ScopeTerms:           []string{"all", "entire", "multiple", "across"},
		StoryActions:         []string{"create", "update", "activate", "deactivate", "notify", "display", "validate", "submit"},
		StoryEntities:        []string{"user", "operator", "provider", "location", "message", "account", "payment", "order", "form"},
		LongDescriptionChars: 800,
	}
}

// LoadRules reads a rules YAML file, filling unset values from the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read classifier rules %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse classifier rules %s: %w", path, err)
	}
	if rules.Threshold <= 0 {
		rules.Threshold = DefaultRules().Threshold
	}
	return rules, nil
}

// Classifier tags issues with structural labels from linguistic signals in
// their text. Classification is deterministic for a given text: no state, no
// randomness, so re-running ingestion reproduces identical tags.
type Classifier struct {
	rules Rules
}

// NewClassifier creates a classifier with the given rules.
func NewClassifier(rules Rules) *Classifier {
	if rules.Threshold <= 0 {
		rules.Threshold = DefaultRules().Threshold
	}
	return &Classifier{rules: rules}
}

var (
	acceptanceCriteriaRe = regexp.MustCompile(`(?i)acceptance criteria|definition of done`)
	givenWhenThenRe      = regexp.MustCompile(`(?i)\bgiven\b.*\bwhen\b.*\bthen\b`)
	userStoryRe          = regexp.MustCompile(`(?i)\bas an? .{1,60}\bi (want|need|should)\b`)
	bulletListRe         = regexp.MustCompile(`(?m)^\s*[-*\d]\.?\s+\S`)
)

// Classify scores each structural tag over the issue's text and returns the
// tags whose score cleared the threshold. When nothing clears, it returns the
// unclassified marker rather than failing.
func (c *Classifier) Classify(issue types.Issue) []string {
	text := strings.ToLower(issue.Title + "\n" + issue.Description)

	var tags []string
	if c.epicScore(issue, text) >= c.rules.Threshold {
		tags = append(tags, TagEpicLike)
	}
	if c.storyScore(issue, text) >= c.rules.Threshold {
		tags = append(tags, TagStoryLike)
	}
	if len(tags) == 0 {
		return []string{types.TagUnclassified}
	}
	return tags
}

func (c *Classifier) epicScore(issue types.Issue, text string) float64 {
	score := 0.0

	hits := countTerms(text, c.rules.EpicTerms)
	switch {
	case hits >= 2:
		score += 0.4
	case hits == 1:
		score += 0.25
	}

	// An epic term plus breadth language ("all processes", "entire flow")
	// reads as initiative scope.
	if hits > 0 && countTerms(text, c.rules.ScopeTerms) > 0 {
		score += 0.2
	}

	if len(issue.Description) >= c.rules.LongDescriptionChars {
		score += 0.2
	}

	// Enumerated sub-work is the strongest structural signal.
	if len(issue.Subtasks) > 0 {
		score += 0.3
	}

	return score
}

func (c *Classifier) storyScore(issue types.Issue, text string) float64 {
	score := 0.0

	// A single action on a domain entity is the story fingerprint.
	if countTerms(text, c.rules.StoryActions) > 0 && countTerms(text, c.rules.StoryEntities) > 0 {
		score += 0.35
	}

	if userStoryRe.MatchString(text) {
		score += 0.35
	}

	if acceptanceCriteriaRe.MatchString(text) || givenWhenThenRe.MatchString(text) {
		score += 0.3
	}

	if bulletListRe.MatchString(issue.Description) && len(issue.Description) < c.rules.LongDescriptionChars {
		score += 0.1
	}

	return score
}

func countTerms(text string, terms []string) int {
	n := 0
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			n++
		}
	}
	return n
}
