package weights

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

const (
	minConfidence = 0.1
	maxConfidence = 1.0
)

// RecordRetrievalFeedback applies a success signal to the retrieval identified
// by trackingID. The chunk's running average is always updated; the fusion
// weight for the model that produced the retrieval moves only when the score
// clears the configured dead-zone. The whole read-modify-write runs in one
// transaction, so a failure leaves the prior current weight rows untouched.
func (s *Store) RecordRetrievalFeedback(ctx context.Context, trackingID string, successScore float64) error {
	if successScore < 0 || successScore > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidScore, successScore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrUpdateFailed, err)
	}
	defer tx.Rollback()

	var ev RetrievalEvent
	ev.TrackingID = trackingID
	err = tx.QueryRowContext(ctx, `
		SELECT chunk_id, model, query_type, score
		FROM retrieval_events WHERE tracking_id = ?`, trackingID).
		Scan(&ev.ChunkID, &ev.Model, &ev.QueryType, &ev.Score)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownTracking, trackingID)
	}
	if err != nil {
		return fmt.Errorf("%w: load event: %v", ErrUpdateFailed, err)
	}

	if err := updateChunkAverageTx(ctx, tx, ev.ChunkID, successScore); err != nil {
		return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO retrieval_feedback (tracking_id, success_score)
		VALUES (?, ?)
		ON CONFLICT(tracking_id) DO UPDATE SET
			success_score = excluded.success_score,
			created_at = CURRENT_TIMESTAMP`,
		trackingID, successScore); err != nil {
		return fmt.Errorf("%w: record feedback: %v", ErrUpdateFailed, err)
	}

	// Dead-zone: mid-range scores update metrics only, never weights.
	if successScore < s.config.HighThreshold && successScore > s.config.LowThreshold {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %v", ErrUpdateFailed, err)
		}
		return nil
	}

	if err := s.adjustWeightsTx(ctx, tx, ev.Model, ev.QueryType, successScore); err != nil {
		return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUpdateFailed, err)
	}
	return nil
}

// updateChunkAverageTx folds a success score into the chunk's running average:
// new_avg = (avg * success_count + score) / (success_count + 1).
func updateChunkAverageTx(ctx context.Context, tx *sql.Tx, chunkID int64, score float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_metrics (chunk_id, retrieval_count, success_count, avg_score, last_seen)
		VALUES (?, 0, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(chunk_id) DO UPDATE SET
			avg_score = (avg_score * success_count + ?) / (success_count + 1),
			success_count = success_count + 1,
			last_seen = CURRENT_TIMESTAMP`,
		chunkID, score, score)
	if err != nil {
		return fmt.Errorf("update chunk average: %w", err)
	}
	return nil
}

// adjustWeightsTx applies the learning rule to the model that produced the
// retrieval, renormalizes all weights for the query type to sum to 1.0, and
// inserts a new weight generation.
func (s *Store) adjustWeightsTx(ctx context.Context, tx *sql.Tx, model, queryType string, successScore float64) error {
	current, err := currentWeightsTx(ctx, tx, queryType)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		current, err = s.seedDefaultsTx(ctx, tx, queryType)
		if err != nil {
			return err
		}
	}

	idx := -1
	for i, w := range current {
		if w.Model == model {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Retrieval from a model the split does not know; nothing to adapt.
		log.Printf("[Weights] model %s not in %s split, skipping weight update", model, queryType)
		return nil
	}

	next := make([]ModelWeight, len(current))
	copy(next, current)

	target := &next[idx]

	// Rate shrinks as confidence and evidence accumulate.
	learningRate := s.config.BaseLearningRate *
		(1 - target.Confidence*0.5) /
		(1 + float64(target.SampleCount)/100)
	modifier := (successScore - 0.5) * 2

	target.Weight += learningRate * modifier
	if target.Weight < 0 {
		target.Weight = 0
	}

	if successScore >= s.config.HighThreshold {
		target.Confidence += abs(modifier) * 0.1
	} else {
		target.Confidence -= abs(modifier) * 0.1
	}
	target.Confidence = clamp(target.Confidence, minConfidence, maxConfidence)
	target.SampleCount++

	normalizeWeights(next)

	return insertWeightGenerationTx(ctx, tx, queryType, next)
}

// insertWeightGenerationTx retires the current rows and inserts a new
// generation for the query type.
func insertWeightGenerationTx(ctx context.Context, tx *sql.Tx, queryType string, gen []ModelWeight) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE model_weights SET is_current = 0
		WHERE query_type = ? AND is_current = 1`, queryType); err != nil {
		return fmt.Errorf("retire weight rows: %w", err)
	}

	for _, w := range gen {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_weights (model, query_type, weight, confidence, sample_count, is_current)
			VALUES (?, ?, ?, ?, ?, 1)`,
			w.Model, queryType, w.Weight, w.Confidence, w.SampleCount); err != nil {
			return fmt.Errorf("insert weight row: %w", err)
		}
	}
	return nil
}

// normalizeWeights scales a generation so its weights sum to 1.0. A degenerate
// all-zero generation falls back to an even split.
func normalizeWeights(gen []ModelWeight) {
	var total float64
	for _, w := range gen {
		total += w.Weight
	}
	if total <= 0 {
		even := 1.0 / float64(len(gen))
		for i := range gen {
			gen[i].Weight = even
		}
		return
	}
	for i := range gen {
		gen[i].Weight /= total
	}
}

// RecordNarrativeQuality fans one generation-level quality score into
// per-retrieval feedback for every retrieval that contributed evidence.
// Tracking ids with no recorded retrieval event (structured evidence carries
// no model attribution) are skipped. Other feedback failures do not stop the
// fan-out; they are joined into the returned error.
func (s *Store) RecordNarrativeQuality(ctx context.Context, narrativeID string, score float64, trackingIDs []string) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}

	encoded, err := json.Marshal(trackingIDs)
	if err != nil {
		return fmt.Errorf("encode tracking ids: %w", err)
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO narrative_quality (narrative_id, score, tracking_ids)
		VALUES (?, ?, ?)
		ON CONFLICT(narrative_id) DO UPDATE SET
			score = excluded.score,
			tracking_ids = excluded.tracking_ids`,
		narrativeID, score, string(encoded))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("record narrative quality: %w", err)
	}

	var errs []error
	for _, id := range trackingIDs {
		if err := s.RecordRetrievalFeedback(ctx, id, score); err != nil {
			if errors.Is(err, ErrUnknownTracking) {
				continue
			}
			errs = append(errs, fmt.Errorf("feedback %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
