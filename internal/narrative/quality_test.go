package narrative

import (
	"testing"

	"github.com/pythagorakase/nexus-sub005/internal/budget"
)

func TestScoreNarrativeUsesEvidence(t *testing.T) {
	pkg := testPackage()

	// Reuses evidence vocabulary and names the entity.
	good := "Alex left the clinic at dawn, still shaken by how the Dynacorp heist " +
		"went sideways. She walked into the rain without looking back."
	// Shares nothing with the package.
	bad := "A merchant counted coins beneath a desert moon, humming an old tune."

	goodScore := ScoreNarrative(good, pkg)
	badScore := ScoreNarrative(bad, pkg)

	if goodScore <= badScore {
		t.Errorf("evidence-grounded narrative scored %v, ungrounded scored %v", goodScore, badScore)
	}
	if goodScore < 0.5 {
		t.Errorf("grounded narrative score = %v, want >= 0.5", goodScore)
	}
	if badScore > 0.2 {
		t.Errorf("ungrounded narrative score = %v, want <= 0.2", badScore)
	}
}

func TestScoreNarrativeRange(t *testing.T) {
	pkg := testPackage()
	texts := []string{
		"",
		"Alex.",
		"Alex left the clinic at dawn. The Dynacorp heist went sideways. Emilia waited.",
	}
	for _, text := range texts {
		score := ScoreNarrative(text, pkg)
		if score < 0 || score > 1 {
			t.Errorf("ScoreNarrative(%q) = %v, out of [0,1]", text, score)
		}
	}
}

func TestScoreNarrativeEmptyInputs(t *testing.T) {
	if got := ScoreNarrative("", testPackage()); got != 0 {
		t.Errorf("empty text score = %v, want 0", got)
	}
	if got := ScoreNarrative("some text", nil); got != 0 {
		t.Errorf("nil package score = %v, want 0", got)
	}
}

func TestScoreNarrativeNothingToGrade(t *testing.T) {
	pkg := &budget.ContextPackage{UserInput: "continue"}
	if got := ScoreNarrative("The story went on.", pkg); got != 0.5 {
		t.Errorf("score with no evidence or entities = %v, want neutral 0.5", got)
	}
}

func TestScoreNarrativeEntityCoverageOnly(t *testing.T) {
	pkg := &budget.ContextPackage{
		UserInput: "continue",
		Entities: []budget.EntityState{
			{Name: "Alex", Summary: "protagonist"},
			{Name: "Emilia", Summary: "partner"},
		},
	}
	if got := ScoreNarrative("Alex waited alone.", pkg); got != 0.5 {
		t.Errorf("half entity coverage score = %v, want 0.5", got)
	}
	if got := ScoreNarrative("Alex found Emilia at last.", pkg); got != 1.0 {
		t.Errorf("full entity coverage score = %v, want 1.0", got)
	}
}
