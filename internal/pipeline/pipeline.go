// Package pipeline orchestrates a retrieval request end to end: route the
// query, consult each memory tier, synthesize and rank the candidates, then
// trim the assembled context package to its token budget. The pipeline
// degrades rather than fails; a tier that errors contributes nothing and the
// caller always receives a usable package.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/pythagorakase/nexus-sub005/internal/budget"
	"github.com/pythagorakase/nexus-sub005/internal/entity"
	"github.com/pythagorakase/nexus-sub005/internal/query"
	"github.com/pythagorakase/nexus-sub005/internal/retrieval"
	"github.com/pythagorakase/nexus-sub005/internal/synthesis"
	"github.com/pythagorakase/nexus-sub005/internal/weights"
)

var ErrInvalidRequest = errors.New("invalid retrieval request")

// VectorRetriever is the vector tier capability consumed by the pipeline.
type VectorRetriever interface {
	Retrieve(ctx context.Context, q query.RetrievalQuery, k int) []retrieval.FusedChunk
}

// Recorder persists retrieval events so later feedback can attribute success
// to the model and query type that produced each piece of evidence.
type Recorder interface {
	RecordRetrieval(ctx context.Context, ev weights.RetrievalEvent) error
}

// NarrativeSource serves the recent-narrative text included in each package.
// Optional; a nil source simply omits the section.
type NarrativeSource interface {
	Recent(ctx context.Context) (string, error)
}

// Config holds pipeline-level defaults and the knobs of the downstream stages.
type Config struct {
	// DefaultK caps per-tier results when the caller passes k <= 0.
	DefaultK int

	// DefaultTargetSize is the token budget used when the caller passes
	// targetSize <= 0.
	DefaultTargetSize int

	// MaxSnippets caps how many entity-state snippets a package carries.
	MaxSnippets int

	Synthesis synthesis.Config
	Budget    budget.Config
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		DefaultK:          10,
		DefaultTargetSize: 4000,
		MaxSnippets:       3,
		Synthesis:         synthesis.DefaultConfig(),
		Budget:            budget.DefaultConfig(),
	}
}

// Engine wires the router, the tier adapters, the synthesizer, and the
// budgeter into the single retrieval entry point.
type Engine struct {
	router    *query.Router
	entities  *entity.Adapter
	vector    VectorRetriever
	recorder  Recorder
	narrative NarrativeSource
	budgeter  *budget.Budgeter
	config    Config
}

// NewEngine creates a pipeline engine. The router, entity adapter, and vector
// retriever are required; recorder and narrative source are optional.
func NewEngine(router *query.Router, entities *entity.Adapter, vector VectorRetriever, recorder Recorder, narrative NarrativeSource, config Config) (*Engine, error) {
	if router == nil {
		return nil, fmt.Errorf("%w: router is required", ErrInvalidRequest)
	}
	if entities == nil {
		return nil, fmt.Errorf("%w: entity adapter is required", ErrInvalidRequest)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector retriever is required", ErrInvalidRequest)
	}
	if config.DefaultK <= 0 || config.DefaultTargetSize <= 0 {
		return nil, fmt.Errorf("%w: defaults must be positive", ErrInvalidRequest)
	}

	return &Engine{
		router:    router,
		entities:  entities,
		vector:    vector,
		recorder:  recorder,
		narrative: narrative,
		budgeter:  budget.NewBudgeter(config.Budget),
		config:    config,
	}, nil
}

// RetrieveAndBudget runs the full pipeline for one request and returns the
// budgeted context package. Tier failures degrade to missing evidence; the
// only hard error is an empty query or a cancelled context.
func (e *Engine) RetrieveAndBudget(ctx context.Context, queryText string, filters query.Filters, k, targetSize int) (*budget.ContextPackage, error) {
	return e.RetrieveAndBudgetAs(ctx, queryText, "", filters, k, targetSize)
}

// RetrieveAndBudgetAs is RetrieveAndBudget with an explicit query type. A
// valid override skips classification; an empty or unknown one classifies as
// usual.
func (e *Engine) RetrieveAndBudgetAs(ctx context.Context, queryText string, override query.QueryType, filters query.Filters, k, targetSize int) (*budget.ContextPackage, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("%w: query text cannot be empty", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = e.config.DefaultK
	}
	if targetSize <= 0 {
		targetSize = e.config.DefaultTargetSize
	}

	q := e.router.Parse(ctx, queryText, override, filters)

	structured, vector := e.consultTiers(ctx, q, k)
	ranked := synthesis.Synthesize(structured, vector, q, e.config.Synthesis)
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	pkg := &budget.ContextPackage{
		UserInput: queryText,
		Evidence:  e.buildEvidence(ctx, ranked, q),
		Entities:  e.entitySnippets(ctx, q.Entities),
	}
	if e.narrative != nil {
		recent, err := e.narrative.Recent(ctx)
		if err != nil {
			log.Printf("[Pipeline] recent narrative unavailable: %v", err)
		} else {
			pkg.RecentNarrative = recent
		}
	}

	return e.budgeter.Fit(pkg, targetSize), nil
}

// consultTiers runs every routed tier and returns the structured and vector
// candidate lists, each in discovery order.
func (e *Engine) consultTiers(ctx context.Context, q query.RetrievalQuery, k int) (structured, vector []synthesis.Candidate) {
	for _, tier := range q.Tiers {
		switch tier {
		case query.TierStructuredEntity:
			for _, m := range e.entities.FindEntities(ctx, q.Entities, k) {
				structured = append(structured, matchCandidate(m, tier))
			}
		case query.TierStructuredStrategic:
			for _, m := range e.entities.FindThreads(ctx, threadTerms(q), q.Filters.Season, q.Filters.Episode, k) {
				structured = append(structured, matchCandidate(m, tier))
			}
		case query.TierVectorNarrative:
			for _, c := range e.vector.Retrieve(ctx, q, k) {
				vector = append(vector, chunkCandidate(c, tier))
			}
		default:
			log.Printf("[Pipeline] unroutable tier %s, skipping", tier)
		}
	}
	return structured, vector
}

// buildEvidence converts ranked candidates into evidence groups, one group per
// contributing tier, preserving rank order inside each group. Every item gets
// a tracking id; vector items additionally produce a retrieval event
// attributed to their dominant model.
func (e *Engine) buildEvidence(ctx context.Context, ranked []synthesis.Candidate, q query.RetrievalQuery) []budget.SubQueryEvidence {
	groups := make(map[query.Tier]*budget.SubQueryEvidence)
	var order []query.Tier

	for _, c := range ranked {
		g, ok := groups[c.Tier]
		if !ok {
			g = &budget.SubQueryEvidence{Query: c.Tier.String()}
			groups[c.Tier] = g
			order = append(order, c.Tier)
		}

		item := budget.EvidenceItem{
			TrackingID: uuid.NewString(),
			Tier:       c.Tier.String(),
			Text:       candidateText(c),
			Score:      c.Score,
		}

		if c.Tier == query.TierVectorNarrative && e.recorder != nil {
			ev := weights.RetrievalEvent{
				TrackingID: item.TrackingID,
				ChunkID:    c.ID,
				Model:      dominantModel(c.ModelScores),
				QueryType:  string(q.Type),
				Score:      c.Score,
			}
			if err := e.recorder.RecordRetrieval(ctx, ev); err != nil {
				log.Printf("[Pipeline] retrieval event not recorded for chunk %d: %v", c.ID, err)
			}
		}

		g.Items = append(g.Items, item)
	}

	out := make([]budget.SubQueryEvidence, 0, len(order))
	for _, tier := range order {
		out = append(out, *groups[tier])
	}
	return out
}

// entitySnippets fetches compact state snapshots for the query's entities,
// capped at MaxSnippets. Unknown entities are skipped silently.
func (e *Engine) entitySnippets(ctx context.Context, names []string) []budget.EntityState {
	var out []budget.EntityState
	for _, name := range names {
		if len(out) >= e.config.MaxSnippets {
			break
		}
		snip, err := e.entities.Snippet(ctx, name)
		if err != nil {
			if !errors.Is(err, entity.ErrNotFound) {
				log.Printf("[Pipeline] snippet lookup failed for %s: %v", name, err)
			}
			continue
		}
		state := budget.EntityState{
			Name:    snip.Name,
			Summary: snip.Summary,
		}
		for _, rel := range snip.Relationships {
			state.RelationshipDetail = append(state.RelationshipDetail, fmt.Sprintf("%s (%s): %s", rel.OtherName, rel.Kind, rel.Detail))
		}
		out = append(out, state)
	}
	return out
}

// matchCandidate converts a structured match into a synthesis candidate.
func matchCandidate(m entity.Match, tier query.Tier) synthesis.Candidate {
	return synthesis.Candidate{
		ID:      m.ID,
		Tier:    tier,
		Name:    m.Name,
		Text:    m.Summary,
		Score:   m.Score,
		Season:  m.Season,
		Episode: m.Episode,
	}
}

// chunkCandidate converts a fused vector chunk into a synthesis candidate.
func chunkCandidate(c retrieval.FusedChunk, tier query.Tier) synthesis.Candidate {
	return synthesis.Candidate{
		ID:          c.ChunkID,
		Tier:        tier,
		Text:        c.Text,
		Score:       c.Fused,
		ModelScores: c.ModelScores,
		Season:      c.Season,
		Episode:     c.Episode,
		Scene:       c.Scene,
		Characters:  c.Characters,
	}
}

// candidateText renders a candidate as evidence text. Structured matches are
// prefixed with their name so the snippet stands alone.
func candidateText(c synthesis.Candidate) string {
	if c.Name != "" && c.Text != "" {
		return c.Name + ": " + c.Text
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Text
}

// threadTerms extracts the content-bearing words used to match plot thread
// titles. Entity names are included whole.
func threadTerms(q query.RetrievalQuery) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, name := range q.Entities {
		lowered := strings.ToLower(name)
		if !seen[lowered] {
			seen[lowered] = true
			terms = append(terms, name)
		}
	}
	for _, tok := range strings.Fields(q.Normalized) {
		if len(tok) < 4 || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	return terms
}

// dominantModel picks the model attributed with a fused chunk: the highest
// raw score, ties by model name ascending.
func dominantModel(scores map[string]float64) string {
	models := make([]string, 0, len(scores))
	for m := range scores {
		models = append(models, m)
	}
	sort.Strings(models)

	best, bestScore := "", -1.0
	for _, m := range models {
		if scores[m] > bestScore {
			best, bestScore = m, scores[m]
		}
	}
	return best
}
