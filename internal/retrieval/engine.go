package retrieval

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pythagorakase/nexus-sub005/internal/query"
)

const defaultModelTimeout = 10 * time.Second

// EngineConfig configures the retrieval engine.
type EngineConfig struct {
	// ModelTimeout bounds each model's embed + search round trip.
	ModelTimeout time.Duration
}

// DefaultEngineConfig returns the standard engine parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{ModelTimeout: defaultModelTimeout}
}

// Engine fans a query out across every registered embedding model, searches
// each model's chunks, and fuses the per-model scores with the weight store's
// current split for the query type. A model that fails or times out is simply
// excluded from fusion for that request; if every model fails the engine
// returns an empty result rather than an error.
type Engine struct {
	embedders map[string]Embedder
	searcher  VectorSearcher
	weights   WeightSource
	cache     *ResultCache
	config    EngineConfig
}

// NewEngine creates a retrieval engine. cache may be nil to disable caching.
func NewEngine(embedders []Embedder, searcher VectorSearcher, weights WeightSource, cache *ResultCache, config EngineConfig) (*Engine, error) {
	if len(embedders) == 0 {
		return nil, fmt.Errorf("at least one embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("vector searcher cannot be nil")
	}
	if weights == nil {
		return nil, fmt.Errorf("weight source cannot be nil")
	}
	if config.ModelTimeout <= 0 {
		config.ModelTimeout = defaultModelTimeout
	}

	byModel := make(map[string]Embedder, len(embedders))
	for _, e := range embedders {
		byModel[e.GetModel()] = e
	}

	return &Engine{
		embedders: byModel,
		searcher:  searcher,
		weights:   weights,
		cache:     cache,
		config:    config,
	}, nil
}

// Models returns the registered embedding model names.
func (e *Engine) Models() []string {
	models := make([]string, 0, len(e.embedders))
	for m := range e.embedders {
		models = append(models, m)
	}
	return models
}

// Retrieve runs the multi-model search for a classified query and returns the
// top-k fused candidates. It degrades instead of failing: per-model errors are
// logged and excluded, and a total outage yields an empty slice.
func (e *Engine) Retrieve(ctx context.Context, q query.RetrievalQuery, k int) []FusedChunk {
	if k <= 0 {
		return nil
	}

	opts := searchOptions(q.Filters)

	var cacheKey string
	if e.cache != nil {
		cacheKey = CacheKey(q.Normalized, opts, k)
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached
		}
	}

	perModel := e.fanOut(ctx, q.Raw, k, opts)
	if len(perModel) == 0 {
		return []FusedChunk{}
	}

	weights, err := e.weights.Weights(ctx, string(q.Type))
	if err != nil {
		// Fusion falls back to an even split inside Fuse.
		log.Printf("[Retrieval] weight lookup failed for %s, using even split: %v", q.Type, err)
		weights = nil
	}
	weights = ApplyAdjustments(weights, q.WeightAdjustments)

	fused := Fuse(perModel, weights)
	if len(fused) > k {
		fused = fused[:k]
	}

	if e.cache != nil {
		e.cache.Set(cacheKey, fused)
	}
	return fused
}

// fanOut embeds and searches each model in parallel. Each goroutine writes
// only to its own slot; failed models leave their slot nil.
func (e *Engine) fanOut(ctx context.Context, queryText string, k int, opts *SearchOptions) map[string][]ChunkHit {
	type slot struct {
		model string
		hits  []ChunkHit
		err   error
	}

	slots := make([]slot, 0, len(e.embedders))
	for model := range e.embedders {
		slots = append(slots, slot{model: model})
	}

	var wg sync.WaitGroup
	for i := range slots {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			s.hits, s.err = e.searchModel(ctx, s.model, queryText, k, opts)
		}(&slots[i])
	}
	wg.Wait()

	perModel := make(map[string][]ChunkHit, len(slots))
	for _, s := range slots {
		if s.err != nil {
			log.Printf("[Retrieval] model %s excluded from fusion: %v", s.model, s.err)
			continue
		}
		perModel[s.model] = s.hits
	}
	return perModel
}

// searchModel runs one model's embed + similarity search under its own
// timeout. No retries: a failure is reported upward and the model sits this
// request out.
func (e *Engine) searchModel(ctx context.Context, model, queryText string, k int, opts *SearchOptions) ([]ChunkHit, error) {
	embedder := e.embedders[model]

	callCtx, cancel := context.WithTimeout(ctx, e.config.ModelTimeout)
	defer cancel()

	records, err := embedder.Embed(callCtx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmbeddingFailed
	}

	hits, err := e.searcher.Search(callCtx, model, records[0].Embedding, k, opts)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return hits, nil
}

func searchOptions(f query.Filters) *SearchOptions {
	if f.Season == nil && f.Episode == nil && len(f.Characters) == 0 {
		return nil
	}
	return &SearchOptions{
		Season:     f.Season,
		Episode:    f.Episode,
		Characters: f.Characters,
	}
}
