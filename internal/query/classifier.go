package query

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Classifier is an external classification capability consulted when no
// keyword matcher fires. Implementations are expected to return one of the
// known query type names.
type Classifier interface {
	Classify(ctx context.Context, text string) (QueryType, error)
}

// PatternSource surfaces learned query patterns at classification time.
// Implementations are provided by the weight store; a nil source disables
// pattern matching.
type PatternSource interface {
	// MatchPattern returns per-model weight adjustments for a normalized
	// query, if a learned pattern applies.
	MatchPattern(ctx context.Context, normalized string) (map[string]float64, bool)
}

// Matcher maps a set of keywords to a query type. Matchers are evaluated in
// order against the normalized text; the first keyword hit wins.
type Matcher struct {
	Type     QueryType
	Keywords []string
}

// DefaultMatchers returns the built-in keyword matchers. The lists are
// heuristic and intended to be replaced or extended through RouterConfig
// rather than treated as fixed.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Type: QueryRelationship, Keywords: []string{
			"relationship", "relationships", "feel about", "feels about",
			"between", "trust", "loyal", "romance", "allies", "enemies",
		}},
		{Type: QueryCharacter, Keywords: []string{
			"who is", "who was", "character", "personality", "backstory",
			"appearance", "motivation",
		}},
		{Type: QueryLocation, Keywords: []string{
			"where", "location", "place", "city", "district", "region",
		}},
		{Type: QueryEvent, Keywords: []string{
			"what happened", "happened to", "event", "when did", "battle",
			"incident", "aftermath",
		}},
		{Type: QueryTheme, Keywords: []string{
			"theme", "symbolism", "meaning", "motif", "arc",
		}},
	}
}

var (
	seasonRe         = regexp.MustCompile(`(?i)season\s*(\d{1,3})`)
	episodeRe        = regexp.MustCompile(`(?i)episode\s*(\d{1,3})`)
	seasonEpisodeRe  = regexp.MustCompile(`(?i)\bs(\d{1,2})e(\d{1,2})\b`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
	defaultTierTable = map[QueryType][]Tier{
		QueryCharacter:    {TierStructuredEntity, TierVectorNarrative},
		QueryLocation:     {TierStructuredEntity, TierVectorNarrative},
		QueryRelationship: {TierStructuredEntity, TierVectorNarrative},
		QueryEvent:        {TierStructuredStrategic, TierVectorNarrative},
		QueryTheme:        {TierStructuredStrategic, TierVectorNarrative},
		// narrative is the last resort: search everything.
		QueryNarrative: {TierVectorNarrative, TierStructuredEntity, TierStructuredStrategic},
	}
)

// RouterConfig configures a Router. Zero-value fields fall back to the
// built-in matchers and tier table.
type RouterConfig struct {
	Matchers  []Matcher
	TierTable map[QueryType][]Tier
}

// DefaultRouterConfig returns the built-in matcher and routing configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Matchers:  DefaultMatchers(),
		TierTable: defaultTierTable,
	}
}

// Router turns raw text into a RetrievalQuery. All collaborators are optional:
// with every field nil the router still classifies through keywords alone.
type Router struct {
	config   RouterConfig
	fallback Classifier
	registry *EntityRegistry
	patterns PatternSource
}

// NewRouter creates a Router. fallback, registry, and patterns may each be nil.
func NewRouter(config RouterConfig, fallback Classifier, registry *EntityRegistry, patterns PatternSource) *Router {
	if len(config.Matchers) == 0 {
		config.Matchers = DefaultMatchers()
	}
	if config.TierTable == nil {
		config.TierTable = defaultTierTable
	}
	return &Router{
		config:   config,
		fallback: fallback,
		registry: registry,
		patterns: patterns,
	}
}

// Parse classifies and routes a raw query. An override type, when valid,
// skips classification entirely. Parse never fails: classification errors
// degrade to the narrative type.
func (r *Router) Parse(ctx context.Context, raw string, override QueryType, filters Filters) RetrievalQuery {
	normalized := Normalize(raw)

	q := RetrievalQuery{
		Raw:        raw,
		Normalized: normalized,
		Filters:    filters,
	}

	// Season/episode hints in the text fill gaps in the explicit filters.
	season, episode := extractSeasonEpisode(raw)
	if q.Filters.Season == nil && season != nil {
		q.Filters.Season = season
	}
	if q.Filters.Episode == nil && episode != nil {
		q.Filters.Episode = episode
	}

	if r.registry != nil {
		q.Entities = r.registry.ExtractEntities(raw)
		if len(q.Filters.Characters) == 0 && len(q.Entities) > 0 {
			q.Filters.Characters = append([]string(nil), q.Entities...)
		}
	}

	if override.Valid() {
		q.Type = override
	} else {
		q.Type = r.classify(ctx, normalized)
	}

	q.Tiers = r.tiersFor(q.Type)

	if r.patterns != nil {
		if adj, ok := r.patterns.MatchPattern(ctx, normalized); ok {
			q.WeightAdjustments = adj
		}
	}

	return q
}

// classify runs keyword matchers first, then the external classifier, and
// finally defaults to narrative.
func (r *Router) classify(ctx context.Context, normalized string) QueryType {
	for _, m := range r.config.Matchers {
		for _, kw := range m.Keywords {
			if strings.Contains(normalized, kw) {
				return m.Type
			}
		}
	}

	if r.fallback != nil {
		qt, err := r.fallback.Classify(ctx, normalized)
		if err == nil && qt.Valid() {
			return qt
		}
		if err != nil {
			log.Printf("[Router] fallback classification failed, defaulting to narrative: %v", err)
		}
	}

	return QueryNarrative
}

func (r *Router) tiersFor(t QueryType) []Tier {
	if tiers, ok := r.config.TierTable[t]; ok {
		return append([]Tier(nil), tiers...)
	}
	return append([]Tier(nil), defaultTierTable[QueryNarrative]...)
}

// Normalize lower-cases text and collapses runs of whitespace.
func Normalize(raw string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), " ")
}

// extractSeasonEpisode pulls season/episode numbers out of free text. The
// compact sXXeYY form takes precedence over spelled-out forms.
func extractSeasonEpisode(raw string) (season, episode *int) {
	if m := seasonEpisodeRe.FindStringSubmatch(raw); m != nil {
		s, err1 := strconv.Atoi(m[1])
		e, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil {
			return &s, &e
		}
	}

	if m := seasonRe.FindStringSubmatch(raw); m != nil {
		if s, err := strconv.Atoi(m[1]); err == nil {
			season = &s
		}
	}
	if m := episodeRe.FindStringSubmatch(raw); m != nil {
		if e, err := strconv.Atoi(m[1]); err == nil {
			episode = &e
		}
	}
	return season, episode
}

// capitalizedTokens returns the distinct capitalized words in raw text,
// preserving first-seen order. Leading sentence words are included; the
// registry intersection filters out false positives.
func capitalizedTokens(raw string) []string {
	seen := make(map[string]bool)
	var tokens []string

	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	}) {
		runes := []rune(tok)
		if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	return tokens
}
