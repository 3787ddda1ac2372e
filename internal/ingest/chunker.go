// Package ingest turns issue snapshots into classified, purpose-scoped
// chunks, a dependency edge list, and a deployment inference, and writes them
// to the vector index as one atomic group per issue.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/jirascope/jirascope/internal/types"
)

// maxCommentLines bounds how many comments the business view carries.
const maxCommentLines = 10

// BuildChunks projects one issue snapshot into its view chunks. A view is
// emitted only when the issue carries signal for it; an issue with no dates
// and no fix versions gets no timeline view, an issue with no links or
// subtasks gets no dependency view. Pure function of its inputs.
func BuildChunks(issue types.Issue, tags []string, signal types.DeploymentSignal, at time.Time) []types.Chunk {
	var chunks []types.Chunk

	add := func(view types.ViewKind, text string) {
		chunks = append(chunks, types.Chunk{
			ID:             types.ChunkID(issue.Key, view),
			IssueKey:       issue.Key,
			View:           view,
			Text:           text,
			Tags:           tags,
			ObservedStatus: issue.Status,
			IngestedAt:     at,
		})
	}

	if text, ok := businessView(issue, tags); ok {
		add(types.ViewBusiness, text)
	}
	if text, ok := dependencyView(issue); ok {
		add(types.ViewDependency, text)
	}
	if text, ok := timelineView(issue, signal); ok {
		add(types.ViewTimeline, text)
	}

	return chunks
}

// businessView re-projects the what-and-why of an issue: identity, intent,
// and the collaboration around it.
func businessView(issue types.Issue, tags []string) (string, bool) {
	if issue.Title == "" && issue.Description == "" {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Issue %s", issue.Key)
	if issue.IssueType != "" {
		fmt.Fprintf(&b, " is a %s", issue.IssueType)
	}
	if issue.ParentKey != "" {
		fmt.Fprintf(&b, " under %s", issue.ParentKey)
	}
	b.WriteString(".\n")

	if issue.Title != "" {
		fmt.Fprintf(&b, "Summary: %s\n", issue.Title)
	}
	if issue.Priority != "" {
		fmt.Fprintf(&b, "Priority: %s\n", issue.Priority)
	}
	if issue.Reporter != "" {
		fmt.Fprintf(&b, "Reporter: %s\n", issue.Reporter)
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(issue.Labels, ", "))
	}
	if issue.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", issue.Description)
	}
	if len(tags) > 0 && tags[0] != types.TagUnclassified {
		fmt.Fprintf(&b, "\nStructural reading: %s\n", strings.Join(tags, ", "))
	}

	if len(issue.Comments) > 0 {
		fmt.Fprintf(&b, "\nComments (%d):\n", len(issue.Comments))
		for i, c := range issue.Comments {
			if i == maxCommentLines {
				fmt.Fprintf(&b, "... and %d more comments\n", len(issue.Comments)-maxCommentLines)
				break
			}
			if c.Author != "" {
				fmt.Fprintf(&b, "[%s]: %s\n", c.Author, c.Body)
			} else {
				fmt.Fprintf(&b, "%s\n", c.Body)
			}
		}
	}

	if len(issue.Attachments) > 0 {
		fmt.Fprintf(&b, "\nAttachments (%d):\n", len(issue.Attachments))
		for _, a := range issue.Attachments {
			fmt.Fprintf(&b, "- %s (%s)\n", a.Filename, a.MimeType)
		}
	}

	return b.String(), true
}

// dependencyView re-projects the issue's position in the work graph.
func dependencyView(issue types.Issue) (string, bool) {
	if len(issue.Links) == 0 && len(issue.Subtasks) == 0 && issue.ParentKey == "" {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s relationships:\n", issue.Key)

	if issue.ParentKey != "" {
		fmt.Fprintf(&b, "- child of %s\n", issue.ParentKey)
	}
	for _, link := range issue.Links {
		fmt.Fprintf(&b, "- %s %s\n", link.Type, link.OtherKey)
	}
	if len(issue.Subtasks) > 0 {
		fmt.Fprintf(&b, "- subtasks (%d): %s\n", len(issue.Subtasks), strings.Join(issue.Subtasks, ", "))
	}

	return b.String(), true
}

// timelineView re-projects delivery history: dates, fix versions, and the
// deployment inference. The observed status is labeled as an
// as-of-ingestion reading, never as current fact.
func timelineView(issue types.Issue, signal types.DeploymentSignal) (string, bool) {
	if issue.Created.IsZero() && issue.Resolved.IsZero() && len(issue.FixVersions) == 0 {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s timeline and delivery:\n", issue.Key)

	if !issue.Created.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", issue.Created.Format("2006-01-02"))
	}
	if !issue.Updated.IsZero() {
		fmt.Fprintf(&b, "Last updated: %s\n", issue.Updated.Format("2006-01-02"))
	}
	if !issue.Resolved.IsZero() {
		fmt.Fprintf(&b, "Resolved: %s\n", issue.Resolved.Format("2006-01-02"))
	}
	if issue.Status != "" {
		fmt.Fprintf(&b, "Status as of ingestion: %s", issue.Status)
		if issue.StatusCategory != "" {
			fmt.Fprintf(&b, " (%s)", issue.StatusCategory)
		}
		b.WriteString("\n")
	}

	if len(issue.FixVersions) > 0 {
		b.WriteString("Fix versions:\n")
		for _, v := range issue.FixVersions {
			state := "unreleased"
			if v.Released {
				state = "released"
			}
			if v.ReleaseDate.IsZero() {
				fmt.Fprintf(&b, "- %s: %s (no release date)\n", v.Name, state)
			} else {
				fmt.Fprintf(&b, "- %s: %s (release date %s)\n", v.Name, state, v.ReleaseDate.Format("2006-01-02"))
			}
		}
	}

	fmt.Fprintf(&b, "Deployment inference as of ingestion: %s\n", signal.State)

	return b.String(), true
}
