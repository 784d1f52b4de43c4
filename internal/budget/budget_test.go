package budget

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func text(n int) string {
	return strings.Repeat("x", n)
}

func multiStepPackage() *ContextPackage {
	return &ContextPackage{
		UserInput: "What happened to Alex in Season 2?",
		Evidence: []SubQueryEvidence{
			{
				Query: "events",
				Items: []EvidenceItem{
					{TrackingID: "a", Text: text(400), Score: 0.9},
					{TrackingID: "b", Text: text(400), Score: 0.3},
					{TrackingID: "c", Text: text(400), Score: 0.6},
				},
			},
		},
		Entities: []EntityState{
			{
				Name:    "Alex",
				Summary: "The protagonist.",
				RelationshipDetail: []string{
					"romance with Emilia: slow-burn trust",
					"crew bond with Dr. Nyati",
					"rivalry with Alexandra Voss",
				},
			},
		},
		RecentNarrative: text(2000),
	}
}

func TestFitUnderBudgetIsIdempotent(t *testing.T) {
	b := NewBudgeter(DefaultConfig())
	pkg := multiStepPackage()

	before := pkg.Size()
	out := b.Fit(pkg, before+100)

	if out.Size() != before {
		t.Errorf("under-budget package mutated: %d -> %d", before, out.Size())
	}
	if len(out.Evidence[0].Items) != 3 {
		t.Errorf("evidence items dropped from an under-budget package")
	}
	if out.Entities[0].Collapsed != "" {
		t.Error("relationships collapsed on an under-budget package")
	}
}

func TestFitDropsLowestScoringEvidenceFirst(t *testing.T) {
	b := NewBudgeter(DefaultConfig())
	pkg := multiStepPackage()

	// Budget sized so dropping the single lowest item (score 0.3) suffices.
	target := pkg.Size() - EstimateTokens(text(400))
	out := b.Fit(pkg, target)

	items := out.Evidence[0].Items
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	for _, item := range items {
		if item.Score == 0.3 {
			t.Error("lowest-scoring item survived the drop step")
		}
	}
	if out.Size() > target {
		t.Errorf("size %d still over target %d", out.Size(), target)
	}
}

func TestFitRemovalReclaimsItemSize(t *testing.T) {
	b := NewBudgeter(DefaultConfig())
	pkg := multiStepPackage()

	before := pkg.Size()
	itemSize := EstimateTokens(text(400))
	out := b.Fit(pkg, before-itemSize)

	if got := before - out.Size(); got < itemSize {
		t.Errorf("dropping an item reclaimed %d tokens, want at least %d", got, itemSize)
	}
}

func TestFitNeverIncreasesSize(t *testing.T) {
	b := NewBudgeter(DefaultConfig())
	pkg := multiStepPackage()

	sizes := []int{pkg.Size()}

	// Sweep budgets from generous to impossible; size must never grow.
	for _, target := range []int{700, 500, 300, 150, 50, 10} {
		b.Fit(pkg, target)
		sizes = append(sizes, pkg.Size())
	}
	for i := 1; i < len(sizes); i++ {
		if sizes[i] > sizes[i-1] {
			t.Errorf("size increased during budgeting: %v", sizes)
		}
	}
}

func TestNarrativeTruncationKeepsTrailingText(t *testing.T) {
	b := NewBudgeter(DefaultConfig())

	// 10,000-character narrative with a distinctive tail.
	tail := "and that is how the season ended."
	narrative := text(10000-len(tail)) + tail
	pkg := &ContextPackage{RecentNarrative: narrative}

	b.Fit(pkg, 100) // tight budget forces deep truncation

	if len(pkg.RecentNarrative) < 2000 {
		t.Errorf("narrative kept %d chars, want at least 2000 (20%%)", len(pkg.RecentNarrative))
	}
	if !strings.HasSuffix(pkg.RecentNarrative, tail) {
		t.Error("truncation discarded the trailing (most recent) text")
	}
}

func TestNarrativeTruncationKeepsValidUTF8(t *testing.T) {
	b := NewBudgeter(DefaultConfig())

	// Multibyte text makes most byte offsets land mid-rune.
	narrative := strings.Repeat("雨は三日間降り続いた。", 500)
	pkg := &ContextPackage{RecentNarrative: narrative}

	for _, target := range []int{2500, 1700, 900, 100} {
		pkg.RecentNarrative = narrative
		b.Fit(pkg, target)

		if !utf8.ValidString(pkg.RecentNarrative) {
			t.Errorf("target %d: truncation produced invalid UTF-8 head %q",
				target, pkg.RecentNarrative[:12])
		}
		if !strings.HasSuffix(narrative, pkg.RecentNarrative) {
			t.Errorf("target %d: kept text is not a trailing slice", target)
		}
	}
}

func TestNarrativePlaceholderWhenBlockWouldVanish(t *testing.T) {
	b := NewBudgeter(DefaultConfig())

	pkg := &ContextPackage{RecentNarrative: text(400)}
	// Excess is larger than the whole narrative: 400 chars = 100 tokens,
	// target 0 is ignored, so use 1 token with a big gap.
	pkg.UserInput = text(4000)
	b.Fit(pkg, 10)

	if pkg.RecentNarrative == "" {
		t.Error("narrative emptied instead of replaced with placeholder")
	}
	if pkg.RecentNarrative != DefaultConfig().Placeholder {
		t.Errorf("narrative = %q, want the placeholder", pkg.RecentNarrative)
	}
}

func TestCollapseRelationships(t *testing.T) {
	b := NewBudgeter(DefaultConfig())
	pkg := multiStepPackage()

	// Impossible budget: every step runs, including the collapse.
	b.Fit(pkg, 1)

	e := pkg.Entities[0]
	if e.Collapsed != "3 relationships (details omitted)" {
		t.Errorf("Collapsed = %q", e.Collapsed)
	}
	if len(e.RelationshipDetail) != 0 {
		t.Error("relationship detail not cleared after collapse")
	}
}

func TestFitBestEffortNeverFails(t *testing.T) {
	b := NewBudgeter(DefaultConfig())
	pkg := multiStepPackage()

	out := b.Fit(pkg, 1)
	if out == nil {
		t.Fatal("best-effort budgeting returned nil")
	}
	// The user input alone exceeds the budget; the package comes back anyway.
	if out.Size() <= 1 {
		t.Errorf("unexpectedly reached an impossible budget: %d", out.Size())
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{text(400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestTrackingIDs(t *testing.T) {
	pkg := multiStepPackage()
	ids := pkg.TrackingIDs()
	if len(ids) != 3 {
		t.Fatalf("tracking ids = %v, want 3", ids)
	}

	b := NewBudgeter(DefaultConfig())
	b.Fit(pkg, pkg.Size()-EstimateTokens(text(400)))
	if len(pkg.TrackingIDs()) != 2 {
		t.Errorf("dropped items should leave the tracking id list, got %v", pkg.TrackingIDs())
	}
}
