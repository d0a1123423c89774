package presenter

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/relaybroker/relaybroker/internal/registry"
)

// SwitchMatch is one candidate session ranked for a fuzzy session-switch
// query.
type SwitchMatch struct {
	SessionID   string
	DisplayName string
	Score       float64
}

// fuzzyThreshold is the minimum score a candidate needs to be offered at
// all; below this, the query is treated as having no match.
const fuzzyThreshold = 0.55

// rankSessions scores every snapshot's display name against query using the
// same three-strategy Jaro-Winkler comparison used for spoken entity
// resolution: full-string, space-stripped, and best pairwise token. Results
// are sorted best-first; scores below fuzzyThreshold are dropped.
func rankSessions(query string, snapshots []registry.Snapshot) []SwitchMatch {
	queryTokens := strings.Fields(strings.ToLower(query))
	queryLower := strings.ToLower(query)

	matches := make([]SwitchMatch, 0, len(snapshots))
	for _, snap := range snapshots {
		nameTokens := strings.Fields(strings.ToLower(snap.DisplayName))
		score := bestJWScore(queryTokens, nameTokens, queryLower, strings.ToLower(snap.DisplayName))
		if score < fuzzyThreshold {
			continue
		}
		matches = append(matches, SwitchMatch{SessionID: snap.ID, DisplayName: snap.DisplayName, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

// bestJWScore computes the highest Jaro-Winkler similarity between query and
// candidate tokens/strings across three strategies, mirroring the approach
// used for phonetic entity resolution elsewhere in this codebase family.
func bestJWScore(queryTokens, nameTokens []string, queryFull, nameFull string) float64 {
	score := matchr.JaroWinkler(queryFull, nameFull, false)

	if len(queryTokens) > 1 || len(nameTokens) > 1 {
		concat1 := strings.Join(queryTokens, "")
		concat2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, qt := range queryTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}

	return score
}
