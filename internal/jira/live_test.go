package jira

import (
	"testing"
	"time"

	"github.com/jirascope/jirascope/internal/types"
)

func TestNormalizeFields(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		issue Issue
		field string
		want  string
	}{
		{
			name:  "status",
			issue: Issue{Fields: IssueFields{Status: &StatusField{Name: "Done"}}},
			field: types.FieldStatus,
			want:  "Done",
		},
		{
			name:  "assignee",
			issue: Issue{Fields: IssueFields{Assignee: &UserField{DisplayName: "Dana"}}},
			field: types.FieldAssignee,
			want:  "Dana",
		},
		{
			name:  "missing assignee normalizes",
			issue: Issue{},
			field: types.FieldAssignee,
			want:  "Unassigned",
		},
		{
			name:  "resolution",
			issue: Issue{Fields: IssueFields{Resolution: &NamedField{Name: "Fixed"}}},
			field: types.FieldResolution,
			want:  "Fixed",
		},
		{
			name: "fix versions flattened",
			issue: Issue{Fields: IssueFields{FixVersions: []VersionField{
				{Name: "2.2", Released: true, ReleaseDate: "2024-01-10"},
				{Name: "2.3", Released: false},
			}}},
			field: types.FieldFixVersions,
			want:  "2.2 (released 2024-01-10), 2.3 (unreleased)",
		},
		{
			name:  "no versions means unknown deployment",
			issue: Issue{},
			field: types.FieldDeployment,
			want:  string(types.DeployUnknown),
		},
		{
			name: "released in the past means in production",
			issue: Issue{Fields: IssueFields{FixVersions: []VersionField{
				{Name: "2.2", Released: true, ReleaseDate: "2024-01-10"},
			}}},
			field: types.FieldDeployment,
			want:  string(types.DeployInProduction),
		},
		{
			name: "released with future date is pending",
			issue: Issue{Fields: IssueFields{FixVersions: []VersionField{
				{Name: "2.3", Released: true, ReleaseDate: "2024-04-01"},
			}}},
			field: types.FieldDeployment,
			want:  string(types.DeployPendingRelease),
		},
		{
			name: "nothing released yet",
			issue: Issue{Fields: IssueFields{FixVersions: []VersionField{
				{Name: "2.3", Released: false, ReleaseDate: "2024-04-01"},
			}}},
			field: types.FieldDeployment,
			want:  string(types.DeployUnreleased),
		},
		{
			name: "released without a date counts as shipped",
			issue: Issue{Fields: IssueFields{FixVersions: []VersionField{
				{Name: "1.0", Released: true},
			}}},
			field: types.FieldDeployment,
			want:  string(types.DeployInProduction),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := NormalizeFields(&tt.issue, now)
			if got := fields[tt.field]; got != tt.want {
				t.Errorf("%s = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}
