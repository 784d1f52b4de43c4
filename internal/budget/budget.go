package budget

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

const (
	defaultMinNarrativeFraction = 0.2
	defaultPlaceholder          = "[recent narrative omitted for space]"
)

// Config holds the reduction parameters.
type Config struct {
	// MinNarrativeFraction is the minimum share of the recent narrative that
	// truncation must preserve.
	MinNarrativeFraction float64

	// Placeholder replaces the recent narrative when truncation would have
	// removed it entirely.
	Placeholder string
}

// DefaultConfig returns the standard reduction parameters.
func DefaultConfig() Config {
	return Config{
		MinNarrativeFraction: defaultMinNarrativeFraction,
		Placeholder:          defaultPlaceholder,
	}
}

// Budgeter trims context packages to a target size. The reduction pipeline is
// ordered and greedy: each step reclaims space from a different slice of the
// package, size is recomputed after every step, and the pipeline stops as soon
// as the package fits. An already-fitting package is returned unchanged, and a
// package that still exceeds the budget after every step is returned
// best-effort rather than failing.
type Budgeter struct {
	config Config
}

// NewBudgeter creates a Budgeter, filling zero-value config fields with
// defaults.
func NewBudgeter(config Config) *Budgeter {
	if config.MinNarrativeFraction <= 0 {
		config.MinNarrativeFraction = defaultMinNarrativeFraction
	}
	if config.Placeholder == "" {
		config.Placeholder = defaultPlaceholder
	}
	return &Budgeter{config: config}
}

// Fit applies the reduction pipeline until the package is under target.
func (b *Budgeter) Fit(pkg *ContextPackage, target int) *ContextPackage {
	if pkg == nil {
		return nil
	}
	if target <= 0 {
		return pkg
	}
	if pkg.Size() <= target {
		return pkg
	}

	steps := []func(*ContextPackage, int){
		b.dropLowScoringEvidence,
		b.truncateRecentNarrative,
		b.collapseRelationships,
	}
	for _, step := range steps {
		step(pkg, target)
		if pkg.Size() <= target {
			return pkg
		}
	}

	// Best effort: still over budget, hand it back anyway.
	return pkg
}

// dropLowScoringEvidence removes evidence items lowest score first until the
// package fits or the evidence is exhausted.
func (b *Budgeter) dropLowScoringEvidence(pkg *ContextPackage, target int) {
	type ref struct {
		sub, item int
		score     float64
	}

	var refs []ref
	for i, sub := range pkg.Evidence {
		for j, item := range sub.Items {
			refs = append(refs, ref{sub: i, item: j, score: item.Score})
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].score < refs[j].score })

	size := pkg.Size()
	drop := make(map[[2]int]bool)
	for _, r := range refs {
		if size <= target {
			break
		}
		size -= EstimateTokens(pkg.Evidence[r.sub].Items[r.item].Text)
		drop[[2]int{r.sub, r.item}] = true
	}
	if len(drop) == 0 {
		return
	}

	for i := range pkg.Evidence {
		kept := pkg.Evidence[i].Items[:0]
		for j, item := range pkg.Evidence[i].Items {
			if !drop[[2]int{i, j}] {
				kept = append(kept, item)
			}
		}
		pkg.Evidence[i].Items = kept
	}
}

// truncateRecentNarrative cuts the recent narrative from the front, keeping
// the trailing (most recent) text and never less than the configured minimum
// fraction. If the budget shortfall would have removed the whole block it is
// replaced with a short placeholder instead.
func (b *Budgeter) truncateRecentNarrative(pkg *ContextPackage, target int) {
	if pkg.RecentNarrative == "" {
		return
	}

	size := pkg.Size()
	excess := size - target
	if excess <= 0 {
		return
	}

	narrative := pkg.RecentNarrative
	excessChars := excess * charsPerToken

	keep := len(narrative) - excessChars
	minKeep := int(float64(len(narrative)) * b.config.MinNarrativeFraction)

	if keep <= 0 {
		// Whole block would vanish: substitute the placeholder if that
		// actually saves space.
		if EstimateTokens(b.config.Placeholder) < EstimateTokens(narrative) {
			pkg.RecentNarrative = b.config.Placeholder
		}
		return
	}
	if keep < minKeep {
		keep = minKeep
	}

	// Back the cut up to a rune boundary so the kept text stays valid UTF-8.
	start := len(narrative) - keep
	for start > 0 && !utf8.RuneStart(narrative[start]) {
		start--
	}
	pkg.RecentNarrative = narrative[start:]
}

// collapseRelationships replaces each entity's relationship detail with a
// bare count string.
func (b *Budgeter) collapseRelationships(pkg *ContextPackage, target int) {
	for i := range pkg.Entities {
		e := &pkg.Entities[i]
		if len(e.RelationshipDetail) == 0 || e.Collapsed != "" {
			continue
		}
		collapsed := fmt.Sprintf("%d relationships (details omitted)", len(e.RelationshipDetail))

		var detailSize int
		for _, rel := range e.RelationshipDetail {
			detailSize += EstimateTokens(rel)
		}
		if EstimateTokens(collapsed) >= detailSize {
			continue
		}
		e.Collapsed = collapsed
		e.RelationshipDetail = nil

		if pkg.Size() <= target {
			return
		}
	}
}
