package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pythagorakase/nexus-sub005/internal/entity"
	"github.com/pythagorakase/nexus-sub005/internal/narrative"
	"github.com/pythagorakase/nexus-sub005/internal/pipeline"
	"github.com/pythagorakase/nexus-sub005/internal/query"
	"github.com/pythagorakase/nexus-sub005/internal/retrieval"
	"github.com/pythagorakase/nexus-sub005/internal/store"
	"github.com/pythagorakase/nexus-sub005/internal/weights"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus - Adaptive story memory retrieval",
	Long: `Nexus retrieves narrative evidence for an ongoing story and assembles it
into a size-bounded context package.

It routes each query across structured entity state, strategic plot threads,
and multi-model vector search, fuses the results with learned per-query-type
weights, and adapts those weights from retrieval feedback.`,
}

// Execute runs the root command
func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "nexus.db", "Path to the SQLite story database")
}

// Shared styling
var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F780FF")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Italic(true)
	bodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E9E9F4"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
)

// openStores opens the story database and the stores layered over it. The
// caller closes the returned store.
func openStores() (*store.Store, *entity.Adapter, *weights.Store, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	adapter, err := entity.NewAdapter(db.DB())
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	ws, err := weights.NewStore(db.DB(), weights.DefaultConfig())
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return db, adapter, ws, nil
}

// buildPipeline wires the full retrieval pipeline: OpenAI embedders, the
// Milvus vector store, the result cache, the entity registry, and the weight
// store. Requires OPENAI_API_KEY and a reachable Milvus instance.
func buildPipeline(ctx context.Context, adapter *entity.Adapter, ws *weights.Store) (*pipeline.Engine, func(), error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	milvusConfig := retrieval.DefaultMilvusConfig()
	searcher, err := retrieval.NewMilvusStore(ctx, milvusConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to Milvus: %w", err)
	}

	var embedders []retrieval.Embedder
	for _, mc := range milvusConfig.Collections {
		emb, err := retrieval.NewOpenAIEmbedder(mc.Model, mc.Dimension)
		if err != nil {
			searcher.Close()
			return nil, nil, fmt.Errorf("create embedder %s: %w", mc.Model, err)
		}
		embedders = append(embedders, emb)
	}

	cache, err := retrieval.NewResultCache(retrieval.DefaultCacheConfig())
	if err != nil {
		searcher.Close()
		return nil, nil, fmt.Errorf("create result cache: %w", err)
	}

	vector, err := retrieval.NewEngine(embedders, searcher, ws, cache, retrieval.DefaultEngineConfig())
	if err != nil {
		cache.Close()
		searcher.Close()
		return nil, nil, err
	}

	registry := query.NewEntityRegistry()
	if names, err := adapter.KnownNames(ctx); err == nil {
		for name, aliases := range names {
			registry.Add(name, aliases...)
		}
	}

	// LLM fallback for queries the keyword matchers cannot place.
	var fallback query.Classifier
	if llm, err := narrative.NewOpenAILLM(narrative.DefaultLLMConfig()); err == nil {
		fallback = narrative.NewLLMClassifier(llm)
	}
	router := query.NewRouter(query.DefaultRouterConfig(), fallback, registry, ws)

	engine, err := pipeline.NewEngine(router, adapter, vector, ws, nil, pipeline.DefaultConfig())
	if err != nil {
		cache.Close()
		searcher.Close()
		return nil, nil, err
	}

	cleanup := func() {
		cache.Close()
		searcher.Close()
	}
	return engine, cleanup, nil
}
