package narrative

import (
	"strings"
	"unicode"

	"github.com/pythagorakase/nexus-sub005/internal/budget"
)

// ScoreNarrative grades how well a generated narrative used the context it was
// given, as a success signal in [0,1] for the adaptation loop. The score is a
// blend of evidence usage (how many evidence items share vocabulary with the
// narrative) and entity coverage (how many named entities appear in it).
// It is heuristic: a rough, cheap proxy, not a semantic judgment.
func ScoreNarrative(text string, pkg *budget.ContextPackage) float64 {
	if text == "" || pkg == nil {
		return 0
	}

	lowered := strings.ToLower(text)
	narrativeTerms := contentTerms(lowered)

	evidence := evidenceUsage(narrativeTerms, pkg)
	entities := entityCoverage(lowered, pkg)

	switch {
	case evidence < 0 && entities < 0:
		// Nothing to grade against; neutral.
		return 0.5
	case evidence < 0:
		return entities
	case entities < 0:
		return evidence
	}
	return 0.7*evidence + 0.3*entities
}

// evidenceUsage returns the fraction of evidence items that share at least a
// third of their content terms with the narrative, or -1 when the package has
// no evidence.
func evidenceUsage(narrativeTerms map[string]bool, pkg *budget.ContextPackage) float64 {
	total, used := 0, 0
	for _, sub := range pkg.Evidence {
		for _, item := range sub.Items {
			total++
			terms := contentTerms(strings.ToLower(item.Text))
			if len(terms) == 0 {
				continue
			}
			shared := 0
			for term := range terms {
				if narrativeTerms[term] {
					shared++
				}
			}
			if float64(shared)/float64(len(terms)) >= 1.0/3.0 {
				used++
			}
		}
	}
	if total == 0 {
		return -1
	}
	return float64(used) / float64(total)
}

// entityCoverage returns the fraction of package entities named in the
// narrative, or -1 when the package carries no entities.
func entityCoverage(lowered string, pkg *budget.ContextPackage) float64 {
	if len(pkg.Entities) == 0 {
		return -1
	}
	mentioned := 0
	for _, e := range pkg.Entities {
		if strings.Contains(lowered, strings.ToLower(e.Name)) {
			mentioned++
		}
	}
	return float64(mentioned) / float64(len(pkg.Entities))
}

// contentTerms tokenizes lower-cased text into its content-bearing words,
// skipping short function words.
func contentTerms(lowered string) map[string]bool {
	terms := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) >= 4 {
			terms[tok] = true
		}
	}
	return terms
}
