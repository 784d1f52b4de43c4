package weights

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// QueryPattern is a learned association between a query phrasing and the
// retrieval behavior that worked for it.
type QueryPattern struct {
	ID                int64
	Pattern           string
	QueryType         string
	SuccessRate       float64
	SampleCount       int
	WeightAdjustments map[string]float64
}

// SeedPattern declares a phrasing to track, keyed to the query type it
// usually indicates.
type SeedPattern struct {
	Pattern   string
	QueryType string
}

// DefaultSeedPatterns mirrors the router's built-in keyword families so the
// batch job has phrasings to attribute success to.
func DefaultSeedPatterns() []SeedPattern {
	return []SeedPattern{
		{Pattern: "what happened", QueryType: "event"},
		{Pattern: "who is", QueryType: "character"},
		{Pattern: "where", QueryType: "location"},
		{Pattern: "feel about", QueryType: "relationship"},
		{Pattern: "relationship", QueryType: "relationship"},
		{Pattern: "theme", QueryType: "theme"},
	}
}

// SeedPatterns inserts pattern rows that do not exist yet.
func (s *Store) SeedPatterns(ctx context.Context, seeds []SeedPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seed := range seeds {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO query_patterns (pattern, query_type)
			VALUES (?, ?)
			ON CONFLICT(pattern) DO NOTHING`,
			seed.Pattern, seed.QueryType); err != nil {
			return fmt.Errorf("seed pattern %q: %w", seed.Pattern, err)
		}
	}
	return nil
}

// Patterns returns all stored query patterns.
func (s *Store) Patterns(ctx context.Context) ([]QueryPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, query_type, success_rate, sample_count, weight_adjustments
		FROM query_patterns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []QueryPattern
	for rows.Next() {
		var p QueryPattern
		var encoded string
		if err := rows.Scan(&p.ID, &p.Pattern, &p.QueryType, &p.SuccessRate, &p.SampleCount, &encoded); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &p.WeightAdjustments); err != nil {
			p.WeightAdjustments = nil
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MatchPattern returns the weight adjustments of the first stored pattern
// whose text occurs in the normalized query, provided the pattern has enough
// evidence behind it. It implements the classifier's PatternSource.
func (s *Store) MatchPattern(ctx context.Context, normalized string) (map[string]float64, bool) {
	patterns, err := s.Patterns(ctx)
	if err != nil {
		log.Printf("[Weights] pattern lookup failed: %v", err)
		return nil, false
	}

	for _, p := range patterns {
		if p.SampleCount < s.config.MinPatternSamples {
			continue
		}
		if len(p.WeightAdjustments) == 0 {
			continue
		}
		if strings.Contains(normalized, p.Pattern) {
			return p.WeightAdjustments, true
		}
	}
	return nil, false
}

// AnalyzeSuccessfulPatterns recomputes each pattern's rolling success rate
// over the most recent feedback window and derives small per-model weight
// nudges from high-scoring retrievals. It is independent of the per-retrieval
// update rule and intended to run as a periodic batch job.
func (s *Store) AnalyzeSuccessfulPatterns(ctx context.Context) ([]QueryPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stats, err := s.recentFeedbackStatsTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	patterns, err := patternsTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	var updated []QueryPattern
	for _, p := range patterns {
		st, ok := stats[p.QueryType]
		if !ok {
			continue
		}

		p.SampleCount = st.total
		if st.total > 0 {
			p.SuccessRate = float64(st.successes) / float64(st.total)
		}

		p.WeightAdjustments = make(map[string]float64, len(st.modelAvg))
		for model, avg := range st.modelAvg {
			p.WeightAdjustments[model] = (avg - 0.5) * 0.1
		}

		encoded, err := json.Marshal(p.WeightAdjustments)
		if err != nil {
			return nil, fmt.Errorf("encode adjustments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE query_patterns
			SET success_rate = ?, sample_count = ?, weight_adjustments = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			p.SuccessRate, p.SampleCount, string(encoded), p.ID); err != nil {
			return nil, fmt.Errorf("update pattern %d: %w", p.ID, err)
		}

		updated = append(updated, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

type feedbackStats struct {
	total     int
	successes int
	modelAvg  map[string]float64
}

// recentFeedbackStatsTx aggregates the feedback window per query type: total
// events, events clearing the high threshold, and mean success score per model.
func (s *Store) recentFeedbackStatsTx(ctx context.Context, tx *sql.Tx) (map[string]*feedbackStats, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT e.query_type, e.model, f.success_score
		FROM retrieval_feedback f
		JOIN retrieval_events e ON e.tracking_id = f.tracking_id
		ORDER BY f.created_at DESC
		LIMIT ?`, s.config.PatternWindow)
	if err != nil {
		return nil, fmt.Errorf("query feedback window: %w", err)
	}
	defer rows.Close()

	type acc struct {
		sum   float64
		count int
	}
	perModel := make(map[string]map[string]*acc)
	stats := make(map[string]*feedbackStats)

	for rows.Next() {
		var queryType, model string
		var score float64
		if err := rows.Scan(&queryType, &model, &score); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}

		st := stats[queryType]
		if st == nil {
			st = &feedbackStats{modelAvg: make(map[string]float64)}
			stats[queryType] = st
			perModel[queryType] = make(map[string]*acc)
		}
		st.total++
		if score >= s.config.HighThreshold {
			st.successes++
		}

		a := perModel[queryType][model]
		if a == nil {
			a = &acc{}
			perModel[queryType][model] = a
		}
		a.sum += score
		a.count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for queryType, models := range perModel {
		for model, a := range models {
			stats[queryType].modelAvg[model] = a.sum / float64(a.count)
		}
	}
	return stats, nil
}

func patternsTx(ctx context.Context, tx *sql.Tx) ([]QueryPattern, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, pattern, query_type, success_rate, sample_count
		FROM query_patterns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []QueryPattern
	for rows.Next() {
		var p QueryPattern
		if err := rows.Scan(&p.ID, &p.Pattern, &p.QueryType, &p.SuccessRate, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WeightHistory returns every stored generation for a (model, query type)
// pair, oldest first. Useful for inspecting how a weight drifted.
func (s *Store) WeightHistory(ctx context.Context, model, queryType string) ([]ModelWeight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, weight, confidence, sample_count
		FROM model_weights
		WHERE model = ? AND query_type = ?
		ORDER BY id`, model, queryType)
	if err != nil {
		return nil, fmt.Errorf("query weight history: %w", err)
	}
	defer rows.Close()

	var out []ModelWeight
	for rows.Next() {
		w := ModelWeight{QueryType: queryType}
		if err := rows.Scan(&w.Model, &w.Weight, &w.Confidence, &w.SampleCount); err != nil {
			return nil, fmt.Errorf("scan weight row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
