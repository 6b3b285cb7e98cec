// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package database

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/models"
)

// InsertOutcome stores one resolved (or ongoing) prediction record.
func (s *Store) InsertOutcome(ctx context.Context, o *models.TrendOutcome) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	var evidenceJSON []byte
	if o.OutcomeEvidence != nil {
		var err error
		if evidenceJSON, err = json.Marshal(o.OutcomeEvidence); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trend_outcomes (id, trend_id, prediction_date, predicted_probability,
			predicted_risk_level, probability_band_low, probability_band_high, outcome_date,
			outcome, outcome_notes, outcome_evidence, brier_score, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.TrendID, o.PredictionDate, o.PredictedProbability, o.PredictedRiskLevel,
		o.ProbabilityBandLow, o.ProbabilityBandHigh, o.OutcomeDate, o.Outcome,
		o.OutcomeNotes, evidenceJSON, o.BrierScore, o.RecordedBy)
	return err
}

// ListOutcomes returns outcomes for a trend within an optional date range,
// ordered by prediction date ascending.
func (s *Store) ListOutcomes(ctx context.Context, trendID uuid.UUID, since, until *time.Time) ([]models.TrendOutcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trend_id, prediction_date, predicted_probability, predicted_risk_level,
			probability_band_low, probability_band_high, outcome_date, outcome,
			outcome_notes, outcome_evidence, brier_score, recorded_by
		FROM trend_outcomes
		WHERE trend_id = $1
		  AND ($2::timestamptz IS NULL OR prediction_date >= $2)
		  AND ($3::timestamptz IS NULL OR prediction_date <= $3)
		ORDER BY prediction_date ASC`, trendID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []models.TrendOutcome
	for rows.Next() {
		var o models.TrendOutcome
		var evidenceJSON []byte
		if err := rows.Scan(&o.ID, &o.TrendID, &o.PredictionDate, &o.PredictedProbability,
			&o.PredictedRiskLevel, &o.ProbabilityBandLow, &o.ProbabilityBandHigh,
			&o.OutcomeDate, &o.Outcome, &o.OutcomeNotes, &evidenceJSON,
			&o.BrierScore, &o.RecordedBy); err != nil {
			return nil, err
		}
		if len(evidenceJSON) > 0 {
			_ = json.Unmarshal(evidenceJSON, &o.OutcomeEvidence)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
