// Package query classifies raw retrieval requests and routes them to memory
// tiers. Classification is layered: ordered keyword matchers first, then an
// optional external classifier, then a final fallback to the narrative type.
// Classification never fails; unresolvable input always yields a usable query.
package query

import "fmt"

// QueryType is the coarse classification of a retrieval request.
type QueryType string

const (
	QueryCharacter    QueryType = "character"
	QueryLocation     QueryType = "location"
	QueryEvent        QueryType = "event"
	QueryRelationship QueryType = "relationship"
	QueryTheme        QueryType = "theme"
	QueryNarrative    QueryType = "narrative"
)

// AllQueryTypes lists every query type in a stable order.
func AllQueryTypes() []QueryType {
	return []QueryType{
		QueryCharacter,
		QueryLocation,
		QueryEvent,
		QueryRelationship,
		QueryTheme,
		QueryNarrative,
	}
}

// Valid reports whether t is one of the known query types.
func (t QueryType) Valid() bool {
	switch t {
	case QueryCharacter, QueryLocation, QueryEvent, QueryRelationship, QueryTheme, QueryNarrative:
		return true
	}
	return false
}

// Tier identifies a logical memory source.
type Tier int

const (
	// TierStructuredEntity is the relational store of characters, locations,
	// and factions.
	TierStructuredEntity Tier = iota

	// TierStructuredStrategic is the relational store of plot threads and
	// strategic state.
	TierStructuredStrategic

	// TierVectorNarrative is the embedded narrative chunk store.
	TierVectorNarrative
)

// String returns a stable identifier for the tier.
func (t Tier) String() string {
	switch t {
	case TierStructuredEntity:
		return "structured-entity"
	case TierStructuredStrategic:
		return "structured-strategic"
	case TierVectorNarrative:
		return "vector-narrative"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Filters narrows retrieval to a slice of the story world. Nil pointer fields
// mean "no constraint".
type Filters struct {
	Season     *int
	Episode    *int
	Characters []string
}

// RetrievalQuery is the fully resolved form of a raw request. It is built once
// per request and discarded after use.
type RetrievalQuery struct {
	// Raw is the original query text as given by the caller.
	Raw string

	// Normalized is the lower-cased, whitespace-collapsed text used for
	// matching.
	Normalized string

	// Entities are known entity names detected in the query text.
	Entities []string

	// Filters carries season/episode/character constraints, merged from
	// explicit caller filters and values extracted from the text.
	Filters Filters

	// Type is the classified query type.
	Type QueryType

	// Tiers is the ordered list of memory tiers to consult. The first entry
	// is the primary tier for this query type.
	Tiers []Tier

	// WeightAdjustments holds optional per-model fusion weight nudges
	// contributed by a matched query pattern.
	WeightAdjustments map[string]float64
}

// PrimaryTier returns the first routed tier, or TierVectorNarrative when the
// query carries no routing at all.
func (q *RetrievalQuery) PrimaryTier() Tier {
	if len(q.Tiers) == 0 {
		return TierVectorNarrative
	}
	return q.Tiers[0]
}
