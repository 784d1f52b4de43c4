package retrieval

import "sort"

// Fuse combines per-model search results into one ranked candidate list.
// A candidate's fused score is the weighted average of its per-model scores,
// renormalized over only the models that returned it, so a single-model hit is
// not penalized for the models that missed it. Models absent from the weight
// map fall back to an even split share. Output is ordered by fused score
// descending, ties broken by chunk id ascending.
func Fuse(perModel map[string][]ChunkHit, weights map[string]float64) []FusedChunk {
	if len(perModel) == 0 {
		return nil
	}

	evenShare := 1.0 / float64(len(perModel))
	byChunk := make(map[int64]*FusedChunk)

	for model, hits := range perModel {
		for _, hit := range hits {
			fc := byChunk[hit.ChunkID]
			if fc == nil {
				fc = &FusedChunk{
					ChunkID:     hit.ChunkID,
					Text:        hit.Text,
					ModelScores: make(map[string]float64),
					Season:      hit.Season,
					Episode:     hit.Episode,
					Scene:       hit.Scene,
					Characters:  hit.Characters,
				}
				byChunk[hit.ChunkID] = fc
			}
			fc.ModelScores[model] = clampUnit(hit.Score)
		}
	}

	out := make([]FusedChunk, 0, len(byChunk))
	for _, fc := range byChunk {
		var weighted, present float64
		for model, score := range fc.ModelScores {
			w, ok := weights[model]
			if !ok {
				w = evenShare
			}
			weighted += score * w
			present += w
		}
		if present > 0 {
			fc.Fused = clampUnit(weighted / present)
		}
		out = append(out, *fc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Fused != out[j].Fused {
			return out[i].Fused > out[j].Fused
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return out
}

// ApplyAdjustments returns a copy of weights with per-model nudges applied and
// the result renormalized to sum to 1. Nudged weights never go negative.
func ApplyAdjustments(weights map[string]float64, adjustments map[string]float64) map[string]float64 {
	if len(adjustments) == 0 {
		return weights
	}

	out := make(map[string]float64, len(weights))
	var total float64
	for model, w := range weights {
		w += adjustments[model]
		if w < 0 {
			w = 0
		}
		out[model] = w
		total += w
	}
	if total <= 0 {
		return weights
	}
	for model := range out {
		out[model] /= total
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
