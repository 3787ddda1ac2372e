package ingest

import (
	"strings"

	"github.com/jirascope/jirascope/internal/types"
)

// MapDependencies normalizes an issue's raw tracker links into canonical
// directed edges, always stated from the issue's own perspective.
//
// Self-referential links are dropped. Links to keys outside the ingested
// corpus are kept as dangling edges so a later corpus expansion can resolve
// them without re-ingesting this issue.
func MapDependencies(issue types.Issue) []types.DependencyEdge {
	var edges []types.DependencyEdge

	for _, link := range issue.Links {
		if link.OtherKey == "" || link.OtherKey == issue.Key {
			continue
		}

		kind, holderPerspective := normalizeLinkType(link.Type)

		// An inward link stated in the active voice ("blocks") describes
		// the other issue's relation to this one; flip it so the edge
		// reads from this issue.
		if link.Direction == types.LinkInward && !holderPerspective {
			kind = kind.Inverse()
		}

		edges = append(edges, types.DependencyEdge{
			From: issue.Key,
			To:   link.OtherKey,
			Kind: kind,
		})
	}

	return edges
}

// normalizeLinkType maps the tracker's native link vocabulary onto the three
// canonical relation kinds. holderPerspective reports whether the phrase
// already reads from the holding issue's side (passive forms like
// "is blocked by"), as opposed to the link type's active name ("blocks").
func normalizeLinkType(linkType string) (kind types.RelationKind, holderPerspective bool) {
	lt := strings.ToLower(strings.TrimSpace(linkType))
	passive := strings.HasPrefix(lt, "is ") || strings.Contains(lt, " by")

	switch {
	case strings.Contains(lt, "block"):
		if passive {
			return types.RelBlockedBy, true
		}
		return types.RelBlocks, false
	case strings.Contains(lt, "depend"):
		// "depends on" ~ blocked by the dependency. Its mirror phrase
		// "is depended on by" means the other issue depends on the holder,
		// so the holder blocks it.
		if strings.Contains(lt, "depended on by") {
			return types.RelBlocks, true
		}
		if passive || strings.Contains(lt, "depends on") {
			return types.RelBlockedBy, true
		}
		return types.RelBlocks, false
	default:
		// relates to, clones, duplicates, etc. collapse to the symmetric
		// relation, so perspective does not matter.
		return types.RelRelates, passive
	}
}

// SymmetricPairs returns, for every blocks/blocked-by edge whose both ends
// appear in the corpus, the mirror edge the other issue should carry. Used
// to check mutual consistency of the indexed graph.
func SymmetricPairs(edges []types.DependencyEdge, corpus map[string]bool) []types.DependencyEdge {
	var mirrors []types.DependencyEdge
	for _, e := range edges {
		if e.Kind == types.RelRelates {
			continue
		}
		if corpus[e.From] && corpus[e.To] {
			mirrors = append(mirrors, e.Inverse())
		}
	}
	return mirrors
}
