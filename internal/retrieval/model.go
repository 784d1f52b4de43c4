// Package retrieval embeds queries across multiple embedding models, runs
// per-model similarity search, and fuses the per-model scores into a single
// ranking using the weight store's learned per-query-type weights.
package retrieval

import (
	"context"
)

// SearchOptions narrows a similarity search with metadata filters. Nil pointer
// fields mean "no constraint".
type SearchOptions struct {
	Season     *int
	Episode    *int
	Characters []string
}

// ChunkHit is one similarity match from a single model's search, with the
// model-native score already mapped to [0,1].
type ChunkHit struct {
	ChunkID    int64
	Text       string
	Score      float64
	Season     int
	Episode    int
	Scene      int
	Characters []string
}

// FusedChunk is a candidate after cross-model score fusion.
type FusedChunk struct {
	ChunkID int64
	Text    string

	// Fused is the weighted combination of the per-model scores,
	// renormalized over the models that actually returned this chunk.
	Fused float64

	// ModelScores holds the raw per-model scores that went into Fused.
	ModelScores map[string]float64

	Season     int
	Episode    int
	Scene      int
	Characters []string
}

// VectorSearcher runs a similarity search against the chunks embedded by one
// model. Implementations must restrict results to that model's embeddings.
type VectorSearcher interface {
	Search(ctx context.Context, model string, vector []float32, topK int, opts *SearchOptions) ([]ChunkHit, error)
}

// WeightSource serves the current fusion weights for a query type. The weight
// store implements this; it seeds an even or default split for unseen types,
// so callers can rely on a non-empty result.
type WeightSource interface {
	Weights(ctx context.Context, queryType string) (map[string]float64, error)
}
