// Package budget assembles retrieved evidence into a context package and trims
// it to fit a target token budget. Sizing uses a cheap length-based estimate;
// no tokenizer is involved.
package budget

// EvidenceItem is one piece of retrieved evidence inside a package.
type EvidenceItem struct {
	// TrackingID ties the item back to its retrieval event so feedback can
	// attribute success to the model that produced it.
	TrackingID string

	Tier  string
	Text  string
	Score float64
}

// SubQueryEvidence groups the evidence retrieved for one sub-query.
type SubQueryEvidence struct {
	Query string
	Items []EvidenceItem
}

// EntityState is a compact entity snapshot included alongside evidence.
// RelationshipDetail may be collapsed to a bare count during budgeting.
type EntityState struct {
	Name               string
	Summary            string
	RelationshipDetail []string
	Collapsed          string
}

// ContextPackage is the assembled bundle handed to the narrative generator.
// It is mutable during budgeting and discarded after the hand-off.
type ContextPackage struct {
	UserInput       string
	Evidence        []SubQueryEvidence
	Entities        []EntityState
	RecentNarrative string

	size int
}

// charsPerToken is the length-based token approximation applied uniformly to
// every text field.
const charsPerToken = 4

// EstimateTokens approximates the token count of a text span.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Size returns the package's current size estimate, recomputing it from every
// text field.
func (p *ContextPackage) Size() int {
	size := EstimateTokens(p.UserInput)
	for _, sub := range p.Evidence {
		size += EstimateTokens(sub.Query)
		for _, item := range sub.Items {
			size += EstimateTokens(item.Text)
		}
	}
	for _, e := range p.Entities {
		size += EstimateTokens(e.Name) + EstimateTokens(e.Summary)
		if e.Collapsed != "" {
			size += EstimateTokens(e.Collapsed)
		} else {
			for _, rel := range e.RelationshipDetail {
				size += EstimateTokens(rel)
			}
		}
	}
	size += EstimateTokens(p.RecentNarrative)

	p.size = size
	return size
}

// TrackingIDs returns the tracking ids of every evidence item still in the
// package, in order.
func (p *ContextPackage) TrackingIDs() []string {
	var ids []string
	for _, sub := range p.Evidence {
		for _, item := range sub.Items {
			if item.TrackingID != "" {
				ids = append(ids, item.TrackingID)
			}
		}
	}
	return ids
}
