package ingest

import (
	"time"

	"github.com/jirascope/jirascope/internal/types"
)

// InferDeployment derives an advisory deployment state from an issue's
// fix-version release metadata, independent of its workflow status.
//
// The inference is anchored to asOf (the ingestion snapshot time): a released
// version dated on/before asOf means in-production, a released version dated
// after asOf is still pending rollout. Re-running on the same fix-version set
// and asOf always yields the same signal.
//
// The result is never authoritative: deployment questions are volatile and
// re-verified live regardless of this value.
func InferDeployment(issue types.Issue, asOf time.Time) types.DeploymentSignal {
	signal := types.DeploymentSignal{IssueKey: issue.Key}

	if len(issue.FixVersions) == 0 {
		signal.State = types.DeployUnknown
		return signal
	}

	var released []types.FixVersion
	for _, v := range issue.FixVersions {
		if v.Released {
			released = append(released, v)
		}
	}

	if len(released) == 0 {
		signal.State = types.DeployUnreleased
		signal.Evidence = issue.FixVersions
		return signal
	}

	// The latest-dated released version decides; a released version with no
	// date is treated as already shipped.
	latest := released[0]
	for _, v := range released[1:] {
		if v.ReleaseDate.After(latest.ReleaseDate) {
			latest = v
		}
	}

	signal.Evidence = released
	if latest.ReleaseDate.IsZero() || !latest.ReleaseDate.After(asOf) {
		signal.State = types.DeployInProduction
	} else {
		signal.State = types.DeployPendingRelease
	}
	return signal
}
