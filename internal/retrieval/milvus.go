package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for Milvus operations
var (
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrUnknownModel     = errors.New("no collection registered for model")
	ErrConnectionFailed = errors.New("failed to connect to Milvus")
	ErrSearchFailed     = errors.New("failed to search vectors")
)

// ModelCollection binds an embedding model to the Milvus collection holding
// its chunk embeddings. Collections are dimension-specific, so each model
// gets its own.
type ModelCollection struct {
	Model      string
	Collection string
	Dimension  int
}

// MilvusConfig holds configuration for the Milvus connection and the
// per-model collections.
type MilvusConfig struct {
	Address     string // Milvus server address (e.g., "localhost:19530")
	Collections []ModelCollection

	IndexType  string // Index type (default: "HNSW")
	MetricType string // Similarity metric (default: "COSINE")

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
}

// DefaultMilvusConfig returns the default configuration from environment
// variables, with one collection per registered embedding model.
func DefaultMilvusConfig() MilvusConfig {
	address := os.Getenv("MILVUS_ADDRESS")
	if address == "" {
		address = "localhost:19530"
	}

	prefix := os.Getenv("MILVUS_COLLECTION_PREFIX")
	if prefix == "" {
		prefix = "nexus_chunks"
	}

	return MilvusConfig{
		Address: address,
		Collections: []ModelCollection{
			{Model: "bge-large", Collection: prefix + "_bge_large", Dimension: 1024},
			{Model: "e5-large", Collection: prefix + "_e5_large", Dimension: 1024},
			{Model: "bge-small", Collection: prefix + "_bge_small", Dimension: 384},
		},
		IndexType:      "HNSW",
		MetricType:     "COSINE",
		M:              16,
		EfConstruction: 256,
	}
}

// MilvusStore implements VectorSearcher over per-model collections.
type MilvusStore struct {
	client  client.Client
	config  MilvusConfig
	byModel map[string]ModelCollection
}

// NewMilvusStore connects to Milvus and ensures every registered collection
// exists with the chunk schema.
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if len(config.Collections) == 0 {
		return nil, fmt.Errorf("no model collections configured")
	}
	for _, mc := range config.Collections {
		if mc.Dimension <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDimension, mc.Model)
		}
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{
		client:  c,
		config:  config,
		byModel: make(map[string]ModelCollection, len(config.Collections)),
	}
	for _, mc := range config.Collections {
		store.byModel[mc.Model] = mc
		if err := store.ensureCollection(ctx, mc); err != nil {
			c.Close()
			return nil, err
		}
	}

	return store, nil
}

// ensureCollection creates one model's collection with schema if missing.
func (m *MilvusStore) ensureCollection(ctx context.Context, mc ModelCollection) error {
	has, err := m.client.HasCollection(ctx, mc.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: mc.Collection,
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", mc.Dimension),
				},
			},
			{
				Name:     "season",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "episode",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "scene",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "characters",
				DataType: entity.FieldTypeJSON,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", mc.Collection, err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
	if err != nil {
		return fmt.Errorf("failed to create index config: %w", err)
	}
	if err := m.client.CreateIndex(ctx, mc.Collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.LoadCollection(ctx, mc.Collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

// Search performs a top-K similarity search over one model's collection,
// filtered by season/episode equality and character containment.
func (m *MilvusStore) Search(ctx context.Context, model string, vector []float32, topK int, opts *SearchOptions) ([]ChunkHit, error) {
	mc, ok := m.byModel[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	if len(vector) != mc.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, mc.Dimension, len(vector))
	}

	expr := buildFilterExpr(opts)

	sp, err := entity.NewIndexHNSWSearchParam(64) // ef parameter for search
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	vectors := []entity.Vector{entity.FloatVector(vector)}
	outputFields := []string{"chunk_id", "text", "season", "episode", "scene", "characters"}

	results, err := m.client.Search(
		ctx,
		mc.Collection,
		nil, // partition names
		expr,
		outputFields,
		vectors,
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	if len(results) == 0 {
		return []ChunkHit{}, nil
	}

	hits := make([]ChunkHit, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		hit := ChunkHit{
			Score: normalizeScore(float64(results[0].Scores[i])),
		}

		for _, field := range results[0].Fields {
			switch field.Name() {
			case "chunk_id":
				hit.ChunkID = field.(*entity.ColumnInt64).Data()[i]
			case "text":
				hit.Text = field.(*entity.ColumnVarChar).Data()[i]
			case "season":
				hit.Season = int(field.(*entity.ColumnInt64).Data()[i])
			case "episode":
				hit.Episode = int(field.(*entity.ColumnInt64).Data()[i])
			case "scene":
				hit.Scene = int(field.(*entity.ColumnInt64).Data()[i])
			case "characters":
				if col, ok := field.(*entity.ColumnJSONBytes); ok {
					var names []string
					if err := json.Unmarshal(col.Data()[i], &names); err == nil {
						hit.Characters = names
					}
				}
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

// buildFilterExpr translates search options to a Milvus boolean expression.
func buildFilterExpr(opts *SearchOptions) string {
	if opts == nil {
		return ""
	}

	var clauses []string
	if opts.Season != nil {
		clauses = append(clauses, fmt.Sprintf("season == %d", *opts.Season))
	}
	if opts.Episode != nil {
		clauses = append(clauses, fmt.Sprintf("episode == %d", *opts.Episode))
	}
	for _, name := range opts.Characters {
		escaped := strings.ReplaceAll(name, `"`, ``)
		clauses = append(clauses, fmt.Sprintf(`json_contains(characters, "%s")`, escaped))
	}

	return strings.Join(clauses, " and ")
}

// normalizeScore maps a cosine similarity into [0,1].
func normalizeScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Close releases the Milvus connection.
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
