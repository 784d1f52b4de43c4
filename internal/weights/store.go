// Package weights persists per-(model, query type) fusion weights and the
// adaptation bookkeeping around them: confidence, sample counts, per-chunk
// success metrics, and learned query patterns. Weight rows are versioned;
// every update marks the previous generation not-current and inserts a new
// one, so history is never lost.
package weights

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrUnknownTracking = errors.New("unknown retrieval tracking id")
	ErrInvalidScore    = errors.New("success score must be in [0,1]")
	ErrUpdateFailed    = errors.New("weight update failed")
	ErrNoModels        = errors.New("no default model weights configured")
)

// Config holds the adaptation parameters. The thresholds and the base rate are
// heuristic constants; they are configurable on purpose and should not be
// treated as tuned values.
type Config struct {
	// BaseLearningRate scales every weight adjustment.
	BaseLearningRate float64

	// HighThreshold and LowThreshold bound the feedback dead-zone: only
	// success scores at or above HighThreshold, or at or below LowThreshold,
	// trigger a weight update.
	HighThreshold float64
	LowThreshold  float64

	// DefaultWeights seeds the per-model split for a query type the first
	// time it is seen. Values are normalized on load.
	DefaultWeights map[string]float64

	// InitialConfidence is assigned to seeded weight rows.
	InitialConfidence float64

	// PatternWindow bounds how many recent feedback events the pattern
	// analysis batch job considers.
	PatternWindow int

	// MinPatternSamples is the evidence floor below which a learned pattern
	// contributes no weight adjustments at classification time.
	MinPatternSamples int
}

// DefaultConfig returns the standard adaptation parameters: two stronger
// models favored over a third, a 0.2/0.8 dead-zone, and a 0.05 base rate.
func DefaultConfig() Config {
	return Config{
		BaseLearningRate: 0.05,
		HighThreshold:    0.8,
		LowThreshold:     0.2,
		DefaultWeights: map[string]float64{
			"bge-large": 0.40,
			"e5-large":  0.35,
			"bge-small": 0.25,
		},
		InitialConfidence: 0.5,
		PatternWindow:     200,
		MinPatternSamples: 5,
	}
}

// ModelWeight is one current weight row for a (model, query type) pair.
type ModelWeight struct {
	Model       string
	QueryType   string
	Weight      float64
	Confidence  float64
	SampleCount int
}

// RetrievalEvent records that a chunk was returned to the caller, attributed
// to the model and query type that produced it. The tracking id ties later
// feedback back to this event.
type RetrievalEvent struct {
	TrackingID string
	ChunkID    int64
	Model      string
	QueryType  string
	Score      float64
}

// ChunkMetric is the per-chunk success bookkeeping row.
type ChunkMetric struct {
	ChunkID        int64
	RetrievalCount int
	SuccessCount   int
	AvgScore       float64
	LastSeen       time.Time
}

// Store is the SQLite-backed weight store. All read-modify-write operations
// run inside a single transaction; the mutex serializes writers within this
// process on top of SQLite's own locking.
type Store struct {
	db     *sql.DB
	config Config
	mu     sync.Mutex
}

// NewStore creates a weight store over an already-migrated database handle.
func NewStore(db *sql.DB, config Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle cannot be nil")
	}
	if len(config.DefaultWeights) == 0 {
		return nil, ErrNoModels
	}
	if config.BaseLearningRate <= 0 {
		config.BaseLearningRate = 0.05
	}
	if config.HighThreshold <= 0 {
		config.HighThreshold = 0.8
	}
	if config.LowThreshold <= 0 {
		config.LowThreshold = 0.2
	}
	if config.InitialConfidence <= 0 {
		config.InitialConfidence = 0.5
	}
	if config.PatternWindow <= 0 {
		config.PatternWindow = 200
	}
	if config.MinPatternSamples <= 0 {
		config.MinPatternSamples = 5
	}

	return &Store{db: db, config: config}, nil
}

// Models returns the model names known to the store's default split.
func (s *Store) Models() []string {
	models := make([]string, 0, len(s.config.DefaultWeights))
	for m := range s.config.DefaultWeights {
		models = append(models, m)
	}
	return models
}

// Weights returns the current per-model fusion weights for a query type.
// An unseen query type is seeded with the default split first, so the result
// always sums to 1.0.
func (s *Store) Weights(ctx context.Context, queryType string) (map[string]float64, error) {
	rows, err := s.CurrentWeights(ctx, queryType)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Model] = r.Weight
	}
	return out, nil
}

// CurrentWeights returns the full current weight rows for a query type,
// seeding defaults when the type has never been seen.
func (s *Store) CurrentWeights(ctx context.Context, queryType string) ([]ModelWeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	weights, err := currentWeightsTx(ctx, tx, queryType)
	if err != nil {
		return nil, err
	}
	if len(weights) == 0 {
		weights, err = s.seedDefaultsTx(ctx, tx, queryType)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return weights, nil
}

func currentWeightsTx(ctx context.Context, tx *sql.Tx, queryType string) ([]ModelWeight, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT model, weight, confidence, sample_count
		FROM model_weights
		WHERE query_type = ? AND is_current = 1
		ORDER BY model`, queryType)
	if err != nil {
		return nil, fmt.Errorf("query current weights: %w", err)
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

// seedDefaultsTx inserts the normalized default split for a query type.
func (s *Store) seedDefaultsTx(ctx context.Context, tx *sql.Tx, queryType string) ([]ModelWeight, error) {
	var total float64
	for _, w := range s.config.DefaultWeights {
		total += w
	}
	if total <= 0 {
		return nil, ErrNoModels
	}

	out := make([]ModelWeight, 0, len(s.config.DefaultWeights))
	for model, w := range s.config.DefaultWeights {
		mw := ModelWeight{
			Model:      model,
			QueryType:  queryType,
			Weight:     w / total,
			Confidence: s.config.InitialConfidence,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_weights (model, query_type, weight, confidence, sample_count, is_current)
			VALUES (?, ?, ?, ?, 0, 1)`,
			mw.Model, mw.QueryType, mw.Weight, mw.Confidence); err != nil {
			return nil, fmt.Errorf("seed weights for %s: %w", queryType, err)
		}
		out = append(out, mw)
	}
	return out, nil
}

// RecordRetrieval stores a retrieval event and bumps the chunk's retrieval
// count. It must be called once per evidence item handed to the caller.
func (s *Store) RecordRetrieval(ctx context.Context, ev RetrievalEvent) error {
	if ev.TrackingID == "" {
		return fmt.Errorf("tracking id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO retrieval_events (tracking_id, chunk_id, model, query_type, score)
		VALUES (?, ?, ?, ?, ?)`,
		ev.TrackingID, ev.ChunkID, ev.Model, ev.QueryType, ev.Score); err != nil {
		return fmt.Errorf("insert retrieval event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_metrics (chunk_id, retrieval_count, last_seen)
		VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(chunk_id) DO UPDATE SET
			retrieval_count = retrieval_count + 1,
			last_seen = CURRENT_TIMESTAMP`,
		ev.ChunkID); err != nil {
		return fmt.Errorf("update chunk metrics: %w", err)
	}

	return tx.Commit()
}

// ChunkMetrics returns the success bookkeeping for a chunk, if any.
func (s *Store) ChunkMetrics(ctx context.Context, chunkID int64) (*ChunkMetric, error) {
	m := ChunkMetric{ChunkID: chunkID}
	err := s.db.QueryRowContext(ctx, `
		SELECT retrieval_count, success_count, avg_score, last_seen
		FROM chunk_metrics WHERE chunk_id = ?`, chunkID).
		Scan(&m.RetrievalCount, &m.SuccessCount, &m.AvgScore, &m.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chunk metrics: %w", err)
	}
	return &m, nil
}
