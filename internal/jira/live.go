package jira

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jirascope/jirascope/internal/types"
)

// Live adapts the Jira client into the normalized field-map source the
// verifier consumes. Each call is one live fetch; nothing is cached.
type Live struct {
	client *Client
}

// NewLive wraps a Jira client for live verification fetches.
func NewLive(client *Client) *Live {
	return &Live{client: client}
}

// GetFields fetches the issue live and flattens its volatile fields into a
// comparable map.
func (l *Live) GetFields(ctx context.Context, key string) (map[string]string, error) {
	issue, err := l.client.GetIssue(ctx, key)
	if err != nil {
		return nil, err
	}
	return NormalizeFields(issue, time.Now()), nil
}

// NormalizeFields flattens a raw issue's volatile fields into the shape
// VerificationRecords carry. now anchors the live deployment derivation.
func NormalizeFields(issue *Issue, now time.Time) map[string]string {
	f := issue.Fields
	fields := map[string]string{}

	if f.Status != nil {
		fields[types.FieldStatus] = f.Status.Name
	}
	if f.Assignee != nil {
		fields[types.FieldAssignee] = f.Assignee.DisplayName
	} else {
		fields[types.FieldAssignee] = "Unassigned"
	}
	if f.Resolution != nil {
		fields[types.FieldResolution] = f.Resolution.Name
	}

	if len(f.FixVersions) > 0 {
		var parts []string
		released := false
		for _, v := range f.FixVersions {
			state := "unreleased"
			if v.Released {
				state = "released"
				released = true
			}
			if v.ReleaseDate != "" {
				parts = append(parts, fmt.Sprintf("%s (%s %s)", v.Name, state, v.ReleaseDate))
			} else {
				parts = append(parts, fmt.Sprintf("%s (%s)", v.Name, state))
			}
		}
		fields[types.FieldFixVersions] = strings.Join(parts, ", ")

		// Live deployment reading: a released fix version dated on/before
		// now means the change is in production.
		fields[types.FieldDeployment] = liveDeployment(f.FixVersions, released, now)
	} else {
		fields[types.FieldDeployment] = string(types.DeployUnknown)
	}

	return fields
}

func liveDeployment(versions []VersionField, anyReleased bool, now time.Time) string {
	if !anyReleased {
		return string(types.DeployUnreleased)
	}
	for _, v := range versions {
		if !v.Released {
			continue
		}
		if v.ReleaseDate == "" {
			return string(types.DeployInProduction)
		}
		if d, err := ParseTimestamp(v.ReleaseDate); err == nil && !d.After(now) {
			return string(types.DeployInProduction)
		}
	}
	return string(types.DeployPendingRelease)
}
