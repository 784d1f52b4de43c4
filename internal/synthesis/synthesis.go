// Package synthesis merges structured and vector retrieval results into one
// ranked candidate sequence. When more than one tier contributed, candidates
// are cross-referenced: vector chunks mentioning entities the structured tier
// surfaced get boosted, and results from the query type's primary tier get a
// flat primary boost.
package synthesis

import (
	"sort"
	"strings"

	"github.com/pythagorakase/nexus-sub005/internal/query"
)

// Candidate is a tier-annotated retrieval result. It mirrors the shapes of
// the entity and retrieval packages' results without importing either, so the
// merge stays dependency-free.
type Candidate struct {
	// ID is unique within the candidate's tier.
	ID   int64
	Tier query.Tier

	Name string
	Text string

	Score       float64
	ModelScores map[string]float64

	Season     int
	Episode    int
	Scene      int
	Characters []string

	// MatchedEntities records which co-mentioned entities boosted this
	// candidate during cross-referencing.
	MatchedEntities []string
}

// Config holds the boost parameters.
type Config struct {
	// MentionBoost is the per-mention multiplier increment: a chunk
	// mentioning n known entities is scaled by 1 + MentionBoost*n.
	MentionBoost float64

	// PrimaryTierBoost scales results originating from the query type's
	// primary tier.
	PrimaryTierBoost float64
}

// DefaultConfig returns the standard boost parameters.
func DefaultConfig() Config {
	return Config{
		MentionBoost:     0.05,
		PrimaryTierBoost: 1.2,
	}
}

// Synthesize merges, deduplicates, cross-references, and re-ranks candidates.
// Ties in the final ordering preserve original discovery order: structured
// results first, then vector results, each in their given order.
func Synthesize(structured, vector []Candidate, q query.RetrievalQuery, config Config) []Candidate {
	merged := dedupe(append(append([]Candidate(nil), structured...), vector...))

	if len(q.Tiers) > 1 {
		crossReference(merged, structured, config)
	}

	primary := q.PrimaryTier()
	if config.PrimaryTierBoost > 0 {
		for i := range merged {
			if merged[i].Tier == primary {
				merged[i].Score *= config.PrimaryTierBoost
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// dedupe drops repeated (tier, id) pairs, keeping the first occurrence.
func dedupe(candidates []Candidate) []Candidate {
	type key struct {
		tier query.Tier
		id   int64
	}
	seen := make(map[key]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		k := key{c.Tier, c.ID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// crossReference boosts vector-tier chunks whose text mentions entities known
// from the structured results or from vector metadata character lists.
func crossReference(merged, structured []Candidate, config Config) {
	entities := collectEntities(merged, structured)
	if len(entities) == 0 {
		return
	}

	for i := range merged {
		if merged[i].Tier != query.TierVectorNarrative {
			continue
		}
		lowered := strings.ToLower(merged[i].Text)

		var matched []string
		for _, entity := range entities {
			if strings.Contains(lowered, strings.ToLower(entity)) {
				matched = append(matched, entity)
			}
		}
		if len(matched) == 0 {
			continue
		}

		merged[i].Score *= 1 + config.MentionBoost*float64(len(matched))
		merged[i].MatchedEntities = matched
	}
}

// collectEntities gathers every entity name in play: structured result names
// plus the character lists attached to vector results.
func collectEntities(merged, structured []Candidate) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, c := range structured {
		add(c.Name)
	}
	for _, c := range merged {
		if c.Tier == query.TierVectorNarrative {
			for _, name := range c.Characters {
				add(name)
			}
		}
	}
	return out
}
