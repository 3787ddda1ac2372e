package jira

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jirascope/jirascope/internal/types"
)

// ParseTimestamp parses a Jira timestamp string into time.Time.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	// Try common formats
	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}

// Snapshot converts a raw API issue into the read-only snapshot form the
// ingestion pipeline consumes. Unparseable timestamps are left zero rather
// than failing the whole issue.
func Snapshot(raw *Issue) types.Issue {
	f := raw.Fields

	snap := types.Issue{
		Key:         raw.Key,
		Title:       f.Summary,
		Description: DescriptionToPlainText(f.Description),
		Labels:      f.Labels,
	}

	if f.IssueType != nil {
		snap.IssueType = f.IssueType.Name
	}
	if f.Status != nil {
		snap.Status = f.Status.Name
		if f.Status.Category != nil {
			snap.StatusCategory = f.Status.Category.Name
		}
	}
	if f.Priority != nil {
		snap.Priority = f.Priority.Name
	}
	if f.Assignee != nil {
		snap.Assignee = f.Assignee.DisplayName
	}
	if f.Reporter != nil {
		snap.Reporter = f.Reporter.DisplayName
	}
	if f.Parent != nil {
		snap.ParentKey = f.Parent.Key
	}

	snap.Created, _ = ParseTimestamp(f.Created)
	snap.Updated, _ = ParseTimestamp(f.Updated)
	if f.ResolutionDate != "" {
		snap.Resolved, _ = ParseTimestamp(f.ResolutionDate)
	}

	for _, v := range f.FixVersions {
		fv := types.FixVersion{Name: v.Name, Released: v.Released}
		if v.ReleaseDate != "" {
			fv.ReleaseDate, _ = ParseTimestamp(v.ReleaseDate)
		}
		snap.FixVersions = append(snap.FixVersions, fv)
	}

	for _, link := range f.IssueLinks {
		switch {
		case link.OutwardIssue != nil:
			snap.Links = append(snap.Links, types.IssueLink{
				Type:      link.Type.Outward,
				Direction: types.LinkOutward,
				OtherKey:  link.OutwardIssue.Key,
			})
		case link.InwardIssue != nil:
			snap.Links = append(snap.Links, types.IssueLink{
				Type:      link.Type.Inward,
				Direction: types.LinkInward,
				OtherKey:  link.InwardIssue.Key,
			})
		}
	}

	for _, st := range f.Subtasks {
		snap.Subtasks = append(snap.Subtasks, st.Key)
	}

	if f.Comment != nil {
		for _, c := range f.Comment.Comments {
			comment := types.Comment{Body: DescriptionToPlainText(c.Body)}
			if c.Author != nil {
				comment.Author = c.Author.DisplayName
			}
			comment.Created, _ = ParseTimestamp(c.Created)
			if comment.Body != "" {
				snap.Comments = append(snap.Comments, comment)
			}
		}
	}

	for _, att := range f.Attachment {
		snap.Attachments = append(snap.Attachments, types.AttachmentRef{
			ID:       att.ID,
			Filename: att.Filename,
			MimeType: att.MimeType,
			Size:     att.Size,
		})
	}

	return snap
}

// LoadDir reads exported issue JSON files (one issue per file, raw API shape)
// from a directory and converts them to snapshots, sorted by key for
// reproducible ingestion order.
func LoadDir(dir string) ([]types.Issue, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var issues []types.Issue
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var raw Issue
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if raw.Key == "" {
			return nil, fmt.Errorf("parse %s: missing issue key", path)
		}
		issues = append(issues, Snapshot(&raw))
	}

	sort.Slice(issues, func(i, j int) bool { return issues[i].Key < issues[j].Key })
	return issues, nil
}
