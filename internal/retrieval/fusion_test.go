package retrieval

import (
	"math"
	"testing"
)

func TestFuseWeightedAverage(t *testing.T) {
	// The same chunk scored 0.9 and 0.7 under weights
	// 0.6/0.4 fuses to 0.82.
	perModel := map[string][]ChunkHit{
		"bge-large": {{ChunkID: 1, Text: "chunk", Score: 0.9}},
		"e5-large":  {{ChunkID: 1, Text: "chunk", Score: 0.7}},
	}
	weights := map[string]float64{"bge-large": 0.6, "e5-large": 0.4}

	fused := Fuse(perModel, weights)
	if len(fused) != 1 {
		t.Fatalf("fused count = %d, want 1", len(fused))
	}
	if math.Abs(fused[0].Fused-0.82) > 1e-9 {
		t.Errorf("fused score = %v, want 0.82", fused[0].Fused)
	}
	if len(fused[0].ModelScores) != 2 {
		t.Errorf("ModelScores = %v, want both models recorded", fused[0].ModelScores)
	}
}

func TestFuseSingleModelHitNotPenalized(t *testing.T) {
	// A chunk only one model found renormalizes over that model alone.
	perModel := map[string][]ChunkHit{
		"bge-large": {{ChunkID: 1, Score: 0.9}},
		"e5-large":  {},
	}
	weights := map[string]float64{"bge-large": 0.3, "e5-large": 0.7}

	fused := Fuse(perModel, weights)
	if len(fused) != 1 {
		t.Fatalf("fused count = %d, want 1", len(fused))
	}
	if math.Abs(fused[0].Fused-0.9) > 1e-9 {
		t.Errorf("single-model fused score = %v, want 0.9", fused[0].Fused)
	}
}

func TestFuseOrderingAndTieBreak(t *testing.T) {
	perModel := map[string][]ChunkHit{
		"bge-large": {
			{ChunkID: 5, Score: 0.8},
			{ChunkID: 2, Score: 0.8},
			{ChunkID: 9, Score: 0.95},
		},
	}

	fused := Fuse(perModel, map[string]float64{"bge-large": 1.0})
	if len(fused) != 3 {
		t.Fatalf("fused count = %d, want 3", len(fused))
	}
	if fused[0].ChunkID != 9 {
		t.Errorf("top result = chunk %d, want 9", fused[0].ChunkID)
	}
	// Equal scores break ties by chunk id ascending.
	if fused[1].ChunkID != 2 || fused[2].ChunkID != 5 {
		t.Errorf("tie order = [%d %d], want [2 5]", fused[1].ChunkID, fused[2].ChunkID)
	}
}

func TestFuseScoresStayInUnitRange(t *testing.T) {
	perModel := map[string][]ChunkHit{
		"a": {{ChunkID: 1, Score: 1.4}, {ChunkID: 2, Score: -0.3}},
		"b": {{ChunkID: 1, Score: 0.9}},
	}

	fused := Fuse(perModel, map[string]float64{"a": 0.5, "b": 0.5})
	for _, fc := range fused {
		if fc.Fused < 0 || fc.Fused > 1 {
			t.Errorf("chunk %d fused score %v out of [0,1]", fc.ChunkID, fc.Fused)
		}
	}
}

func TestFuseMissingWeightFallsBackToEvenSplit(t *testing.T) {
	perModel := map[string][]ChunkHit{
		"known":   {{ChunkID: 1, Score: 0.8}},
		"unknown": {{ChunkID: 1, Score: 0.4}},
	}
	// Only one model has a stored weight; the other uses the even share.
	weights := map[string]float64{"known": 0.5}

	fused := Fuse(perModel, weights)
	want := (0.8*0.5 + 0.4*0.5) / 1.0
	if math.Abs(fused[0].Fused-want) > 1e-9 {
		t.Errorf("fused = %v, want %v", fused[0].Fused, want)
	}
}

func TestFuseEmptyInput(t *testing.T) {
	if got := Fuse(nil, nil); got != nil {
		t.Errorf("Fuse(nil) = %v, want nil", got)
	}
}

func TestApplyAdjustments(t *testing.T) {
	weights := map[string]float64{"a": 0.6, "b": 0.4}

	adjusted := ApplyAdjustments(weights, map[string]float64{"a": 0.04})
	var sum float64
	for _, w := range adjusted {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("adjusted weights sum to %v, want 1.0", sum)
	}
	if adjusted["a"] <= weights["a"] {
		t.Errorf("positive nudge did not raise weight: %v", adjusted)
	}

	// No adjustments: the original map comes back untouched.
	same := ApplyAdjustments(weights, nil)
	if &same == &adjusted || same["a"] != 0.6 {
		if same["a"] != 0.6 {
			t.Errorf("nil adjustments modified weights: %v", same)
		}
	}

	// A nudge can never push a weight negative.
	floored := ApplyAdjustments(map[string]float64{"a": 0.1, "b": 0.9}, map[string]float64{"a": -0.5})
	if floored["a"] < 0 {
		t.Errorf("weight went negative: %v", floored)
	}
}
