// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package database

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/s5unanow/horadus/internal/models"
)

// InsertFeedback stores one operator correction.
func (s *Store) InsertFeedback(ctx context.Context, fb *models.HumanFeedback) error {
	if fb.ID == uuid.Nil {
		fb.ID = uuid.New()
	}
	originalJSON, err := marshalNullable(fb.OriginalValue)
	if err != nil {
		return err
	}
	correctedJSON, err := marshalNullable(fb.CorrectedValue)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO human_feedback (id, target_type, target_id, action, original_value,
			corrected_value, notes, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())`,
		fb.ID, fb.TargetType, fb.TargetID, fb.Action, originalJSON, correctedJSON,
		fb.Notes, fb.CreatedBy)
	return err
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// LatestSuppressionAction returns the most recent suppressing feedback
// action (mark_noise or invalidate) for an event, or "" when none applies.
func (s *Store) LatestSuppressionAction(ctx context.Context, eventID uuid.UUID) (models.FeedbackAction, error) {
	var action models.FeedbackAction
	err := s.pool.QueryRow(ctx, `
		SELECT action FROM human_feedback
		WHERE target_type = 'event' AND target_id = $1
		  AND action IN ('mark_noise', 'invalidate')
		ORDER BY created_at DESC LIMIT 1`, eventID).Scan(&action)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return action, nil
}

// ListFeedback returns feedback records, newest first, optionally filtered.
func (s *Store) ListFeedback(ctx context.Context, targetType *models.FeedbackTarget, action *models.FeedbackAction, limit int) ([]models.HumanFeedback, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_type, target_id, action, original_value, corrected_value,
			notes, created_by, created_at
		FROM human_feedback
		WHERE ($1::text IS NULL OR target_type = $1)
		  AND ($2::text IS NULL OR action = $2)
		ORDER BY created_at DESC LIMIT $3`, targetType, action, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.HumanFeedback
	for rows.Next() {
		var fb models.HumanFeedback
		var originalJSON, correctedJSON []byte
		if err := rows.Scan(&fb.ID, &fb.TargetType, &fb.TargetID, &fb.Action,
			&originalJSON, &correctedJSON, &fb.Notes, &fb.CreatedBy, &fb.CreatedAt); err != nil {
			return nil, err
		}
		if len(originalJSON) > 0 {
			_ = json.Unmarshal(originalJSON, &fb.OriginalValue)
		}
		if len(correctedJSON) > 0 {
			_ = json.Unmarshal(correctedJSON, &fb.CorrectedValue)
		}
		records = append(records, fb)
	}
	return records, rows.Err()
}

// InsertTaxonomyGap audits one unknown trend or signal identifier.
func (s *Store) InsertTaxonomyGap(ctx context.Context, gap *models.TaxonomyGap) error {
	if gap.ID == uuid.Nil {
		gap.ID = uuid.New()
	}
	var payloadJSON []byte
	if gap.Payload != nil {
		var err error
		if payloadJSON, err = json.Marshal(gap.Payload); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO taxonomy_gaps (id, reason, trend_id, signal_type, event_id, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())`,
		gap.ID, gap.Reason, gap.TrendID, gap.SignalType, gap.EventID, payloadJSON)
	return err
}
