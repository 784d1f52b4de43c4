package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/pythagorakase/nexus-sub005/internal/entity"
	"github.com/pythagorakase/nexus-sub005/internal/query"
	"github.com/pythagorakase/nexus-sub005/internal/retrieval"
	"github.com/pythagorakase/nexus-sub005/internal/store"
	"github.com/pythagorakase/nexus-sub005/internal/weights"
)

// mockVectorRetriever returns canned fused chunks and records the query it saw.
type mockVectorRetriever struct {
	chunks    []retrieval.FusedChunk
	lastQuery query.RetrievalQuery
	lastK     int
}

func (m *mockVectorRetriever) Retrieve(ctx context.Context, q query.RetrievalQuery, k int) []retrieval.FusedChunk {
	m.lastQuery = q
	m.lastK = k
	return m.chunks
}

type mockNarrativeSource struct {
	text string
	err  error
}

func (m *mockNarrativeSource) Recent(ctx context.Context) (string, error) {
	return m.text, m.err
}

func newTestEngine(t *testing.T, vector VectorRetriever, narrative NarrativeSource) (*Engine, *weights.Store, *sql.DB) {
	t.Helper()

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter, err := entity.NewAdapter(db.DB())
	if err != nil {
		t.Fatalf("create adapter: %v", err)
	}
	ws, err := weights.NewStore(db.DB(), weights.DefaultConfig())
	if err != nil {
		t.Fatalf("create weight store: %v", err)
	}

	registry := query.NewEntityRegistry()
	registry.Add("Alex")
	registry.Add("Emilia", "Em")
	registry.Add("Dynacorp")
	router := query.NewRouter(query.DefaultRouterConfig(), nil, registry, nil)

	engine, err := NewEngine(router, adapter, vector, ws, narrative, DefaultConfig())
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	return engine, ws, db.DB()
}

func seedStory(t *testing.T, db *sql.DB) {
	t.Helper()

	stmts := []string{
		`INSERT INTO characters (id, name, aliases, summary) VALUES
			(1, 'Alex', '', 'The protagonist.'),
			(2, 'Emilia', 'Em', 'A deep-cover operative.')`,
		`INSERT INTO character_relationships (character_id, other_id, kind, detail) VALUES
			(1, 2, 'romance', 'Slow-burn trust built over two seasons.')`,
		`INSERT INTO factions (id, name, summary) VALUES
			(1, 'Dynacorp', 'Megacorp with deep-sea interests.')`,
		`INSERT INTO plot_threads (id, title, summary, season, episode) VALUES
			(1, 'Dynacorp infiltration', 'Long con against Dynacorp.', 2, 0)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRetrieveAndBudgetCharacterQuery(t *testing.T) {
	vector := &mockVectorRetriever{chunks: []retrieval.FusedChunk{
		{ChunkID: 10, Text: "Alex stared at the console.", Fused: 0.8,
			ModelScores: map[string]float64{"bge-large": 0.85, "e5-large": 0.75}},
	}}
	engine, _, db := newTestEngine(t, vector, nil)
	seedStory(t, db)

	pkg, err := engine.RetrieveAndBudget(context.Background(), "Who is Alex?", query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}

	if pkg.UserInput != "Who is Alex?" {
		t.Errorf("UserInput = %q", pkg.UserInput)
	}
	if len(pkg.Evidence) == 0 {
		t.Fatal("expected evidence groups")
	}

	var sawEntity, sawVector bool
	for _, g := range pkg.Evidence {
		switch g.Query {
		case query.TierStructuredEntity.String():
			sawEntity = true
		case query.TierVectorNarrative.String():
			sawVector = true
		}
		for _, item := range g.Items {
			if item.TrackingID == "" {
				t.Error("evidence item missing tracking id")
			}
		}
	}
	if !sawEntity || !sawVector {
		t.Errorf("expected entity and vector groups, got %+v", pkg.Evidence)
	}

	// The exact entity match outranks the vector chunk.
	first := pkg.Evidence[0]
	if first.Query != query.TierStructuredEntity.String() {
		t.Errorf("first group = %q, want entity tier", first.Query)
	}
	if !strings.Contains(first.Items[0].Text, "Alex") {
		t.Errorf("first item = %q, want Alex match", first.Items[0].Text)
	}

	if len(pkg.Entities) != 1 || pkg.Entities[0].Name != "Alex" {
		t.Errorf("Entities = %+v, want Alex snippet", pkg.Entities)
	}
	if len(pkg.Entities[0].RelationshipDetail) != 1 {
		t.Errorf("RelationshipDetail = %v, want one edge", pkg.Entities[0].RelationshipDetail)
	}
}

func TestRetrieveAndBudgetRecordsVectorEvents(t *testing.T) {
	vector := &mockVectorRetriever{chunks: []retrieval.FusedChunk{
		{ChunkID: 42, Text: "The heist unraveled.", Fused: 0.9,
			ModelScores: map[string]float64{"bge-large": 0.95, "e5-large": 0.85}},
	}}
	engine, ws, db := newTestEngine(t, vector, nil)
	seedStory(t, db)

	pkg, err := engine.RetrieveAndBudget(context.Background(), "Who is Alex?", query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}

	// Only the vector item has a recorded event; feedback on it succeeds.
	var fed int
	for _, id := range pkg.TrackingIDs() {
		err := ws.RecordRetrievalFeedback(context.Background(), id, 0.9)
		switch {
		case err == nil:
			fed++
		case errors.Is(err, weights.ErrUnknownTracking):
			// structured item, no model attribution
		default:
			t.Fatalf("RecordRetrievalFeedback: %v", err)
		}
	}
	if fed != 1 {
		t.Errorf("fed %d events, want 1 (the vector chunk)", fed)
	}

	m, err := ws.ChunkMetrics(context.Background(), 42)
	if err != nil {
		t.Fatalf("ChunkMetrics: %v", err)
	}
	if m == nil || m.RetrievalCount != 1 || m.SuccessCount != 1 {
		t.Errorf("chunk metrics = %+v, want 1 retrieval and 1 success", m)
	}
}

func TestRetrieveAndBudgetEventQueryRoutesStrategic(t *testing.T) {
	vector := &mockVectorRetriever{}
	engine, _, db := newTestEngine(t, vector, nil)
	seedStory(t, db)

	pkg, err := engine.RetrieveAndBudget(context.Background(), "What happened to Dynacorp in Season 2?", query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}

	if vector.lastQuery.Type != query.QueryEvent {
		t.Errorf("query type = %q, want event", vector.lastQuery.Type)
	}
	if vector.lastQuery.Filters.Season == nil || *vector.lastQuery.Filters.Season != 2 {
		t.Errorf("season filter = %v, want 2", vector.lastQuery.Filters.Season)
	}

	var sawThread bool
	for _, g := range pkg.Evidence {
		if g.Query == query.TierStructuredStrategic.String() {
			sawThread = true
			if !strings.Contains(g.Items[0].Text, "Dynacorp infiltration") {
				t.Errorf("thread item = %q", g.Items[0].Text)
			}
		}
	}
	if !sawThread {
		t.Errorf("expected a strategic group, got %+v", pkg.Evidence)
	}
}

func TestRetrieveAndBudgetEmptyResults(t *testing.T) {
	vector := &mockVectorRetriever{}
	engine, _, _ := newTestEngine(t, vector, nil)

	pkg, err := engine.RetrieveAndBudget(context.Background(), "something entirely unknown", query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}
	if pkg == nil {
		t.Fatal("expected a package even with no evidence")
	}
	if len(pkg.Evidence) != 0 {
		t.Errorf("Evidence = %+v, want none", pkg.Evidence)
	}
}

func TestRetrieveAndBudgetEmptyQuery(t *testing.T) {
	engine, _, _ := newTestEngine(t, &mockVectorRetriever{}, nil)

	if _, err := engine.RetrieveAndBudget(context.Background(), "   ", query.Filters{}, 5, 4000); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestRetrieveAndBudgetAppliesBudget(t *testing.T) {
	long := strings.Repeat("the tide kept rising over the lower decks. ", 200)
	vector := &mockVectorRetriever{chunks: []retrieval.FusedChunk{
		{ChunkID: 1, Text: long, Fused: 0.9},
		{ChunkID: 2, Text: long, Fused: 0.3},
	}}
	engine, _, db := newTestEngine(t, vector, nil)
	seedStory(t, db)

	target := 1200
	pkg, err := engine.RetrieveAndBudget(context.Background(), "Who is Alex?", query.Filters{}, 5, target)
	if err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}
	if got := pkg.Size(); got > target {
		t.Errorf("package size = %d, want <= %d", got, target)
	}
}

func TestRetrieveAndBudgetNarrativeSource(t *testing.T) {
	engine, _, _ := newTestEngine(t, &mockVectorRetriever{}, &mockNarrativeSource{text: "The rain kept falling."})

	pkg, err := engine.RetrieveAndBudget(context.Background(), "continue the story", query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}
	if pkg.RecentNarrative != "The rain kept falling." {
		t.Errorf("RecentNarrative = %q", pkg.RecentNarrative)
	}

	// A failing source degrades to an empty section.
	engine, _, _ = newTestEngine(t, &mockVectorRetriever{}, &mockNarrativeSource{err: errors.New("unavailable")})
	pkg, err = engine.RetrieveAndBudget(context.Background(), "continue the story", query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}
	if pkg.RecentNarrative != "" {
		t.Errorf("RecentNarrative = %q, want empty on source failure", pkg.RecentNarrative)
	}
}

func TestRetrieveAndBudgetTypeOverride(t *testing.T) {
	vector := &mockVectorRetriever{}
	engine, _, db := newTestEngine(t, vector, nil)
	seedStory(t, db)

	// "Who is Alex?" classifies as character; the override forces theme and
	// with it the strategic-tier routing.
	_, err := engine.RetrieveAndBudgetAs(context.Background(), "Who is Alex?", query.QueryTheme, query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudgetAs() error = %v", err)
	}
	if vector.lastQuery.Type != query.QueryTheme {
		t.Errorf("query type = %q, want theme override", vector.lastQuery.Type)
	}
	if vector.lastQuery.PrimaryTier() != query.TierStructuredStrategic {
		t.Errorf("primary tier = %v, want strategic", vector.lastQuery.PrimaryTier())
	}

	// An invalid override falls back to classification.
	_, err = engine.RetrieveAndBudgetAs(context.Background(), "Who is Alex?", query.QueryType("nonsense"), query.Filters{}, 5, 4000)
	if err != nil {
		t.Fatalf("RetrieveAndBudgetAs() error = %v", err)
	}
	if vector.lastQuery.Type != query.QueryCharacter {
		t.Errorf("query type = %q, want character from classification", vector.lastQuery.Type)
	}
}

func TestRetrieveAndBudgetDefaults(t *testing.T) {
	vector := &mockVectorRetriever{}
	engine, _, _ := newTestEngine(t, vector, nil)

	if _, err := engine.RetrieveAndBudget(context.Background(), "continue", query.Filters{}, 0, 0); err != nil {
		t.Fatalf("RetrieveAndBudget() error = %v", err)
	}
	if vector.lastK != DefaultConfig().DefaultK {
		t.Errorf("k = %d, want default %d", vector.lastK, DefaultConfig().DefaultK)
	}
}

func TestDominantModel(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
		want   string
	}{
		{"highest wins", map[string]float64{"bge-large": 0.7, "e5-large": 0.9}, "e5-large"},
		{"tie broken by name", map[string]float64{"e5-large": 0.8, "bge-large": 0.8}, "bge-large"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dominantModel(tt.scores); got != tt.want {
				t.Errorf("dominantModel() = %q, want %q", got, tt.want)
			}
		})
	}
}
