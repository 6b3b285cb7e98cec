// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/s5unanow/horadus/internal/models"
)

const trendColumns = `id, name, definition, indicators, baseline_log_odds, current_log_odds,
	decay_half_life_days, is_active, created_at, updated_at`

func scanTrend(row pgx.Row) (*models.Trend, error) {
	var t models.Trend
	var definitionJSON, indicatorsJSON []byte
	err := row.Scan(
		&t.ID, &t.Name, &definitionJSON, &indicatorsJSON, &t.BaselineLogOdds,
		&t.CurrentLogOdds, &t.DecayHalfLifeDays, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(definitionJSON) > 0 {
		if err := json.Unmarshal(definitionJSON, &t.Definition); err != nil {
			return nil, fmt.Errorf("decoding trend definition: %w", err)
		}
	}
	if len(indicatorsJSON) > 0 {
		if err := json.Unmarshal(indicatorsJSON, &t.Indicators); err != nil {
			return nil, fmt.Errorf("decoding trend indicators: %w", err)
		}
	}
	return &t, nil
}

// InsertTrend creates a trend row.
func (s *Store) InsertTrend(ctx context.Context, t *models.Trend) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	definitionJSON, err := json.Marshal(t.Definition)
	if err != nil {
		return err
	}
	indicatorsJSON, err := json.Marshal(t.Indicators)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trends (id, name, definition, indicators, baseline_log_odds,
			current_log_odds, decay_half_life_days, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Name, definitionJSON, indicatorsJSON, t.BaselineLogOdds,
		t.CurrentLogOdds, t.DecayHalfLifeDays, t.IsActive)
	return err
}

// UpdateTrendDefinition updates name, definition, indicators, decay, and
// active flag without touching the probability state.
func (s *Store) UpdateTrendDefinition(ctx context.Context, t *models.Trend) error {
	definitionJSON, err := json.Marshal(t.Definition)
	if err != nil {
		return err
	}
	indicatorsJSON, err := json.Marshal(t.Indicators)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE trends SET name=$2, definition=$3, indicators=$4,
			decay_half_life_days=$5, is_active=$6, updated_at=now()
		WHERE id=$1`,
		t.ID, t.Name, definitionJSON, indicatorsJSON, t.DecayHalfLifeDays, t.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTrend loads one trend.
func (s *Store) GetTrend(ctx context.Context, id uuid.UUID) (*models.Trend, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM trends WHERE id = $1`, trendColumns), id)
	return scanTrend(row)
}

// ListActiveTrends returns active trends ordered by name.
func (s *Store) ListActiveTrends(ctx context.Context) ([]models.Trend, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM trends WHERE is_active ORDER BY name ASC`, trendColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []models.Trend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, err
		}
		trends = append(trends, *t)
	}
	return trends, rows.Err()
}

// ApplyEvidenceLocked serializes one evidence application on a trend: inside
// a single transaction the trend row is locked with SELECT ... FOR UPDATE,
// the evidence row is written, and current_log_odds advances by the
// already-clamped delta. Concurrent applications on the same trend therefore
// produce the algebraic sum of their deltas with both evidence rows present.
func (s *Store) ApplyEvidenceLocked(ctx context.Context, ev *models.TrendEvidence) (previous, next float64, err error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	factorsJSON, err := json.Marshal(ev.Factors)
	if err != nil {
		return 0, 0, err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`SELECT current_log_odds FROM trends WHERE id = $1 FOR UPDATE`,
			ev.TrendID).Scan(&previous); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		next = previous + ev.DeltaLogOdds

		if _, err := tx.Exec(ctx, `
			INSERT INTO trend_evidence (id, trend_id, event_id, signal_type, delta_log_odds,
				factors, reasoning, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,now())`,
			ev.ID, ev.TrendID, ev.EventID, ev.SignalType, ev.DeltaLogOdds,
			factorsJSON, ev.Reasoning); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`UPDATE trends SET current_log_odds = $2, updated_at = now() WHERE id = $1`,
			ev.TrendID, next)
		return err
	})
	return previous, next, err
}

// ApplyDecayLocked pulls a trend toward its baseline under the same row lock
// used by evidence application, so a decay concurrent with a manual delta
// serializes and both effects are preserved. The decay function receives the
// locked row state and reports the new log-odds and whether to apply.
func (s *Store) ApplyDecayLocked(ctx context.Context, trendID uuid.UUID, decide func(t *models.Trend) (float64, bool)) (applied bool, previous, next float64, err error) {
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, fmt.Sprintf(
			`SELECT %s FROM trends WHERE id = $1 FOR UPDATE`, trendColumns), trendID)
		t, err := scanTrend(row)
		if err != nil {
			return err
		}
		previous = t.CurrentLogOdds

		newLogOdds, apply := decide(t)
		if !apply {
			next = previous
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE trends SET current_log_odds = $2, updated_at = now() WHERE id = $1`,
			trendID, newLogOdds); err != nil {
			return err
		}
		applied = true
		next = newLogOdds
		return nil
	})
	return applied, previous, next, err
}

// CountEventEvidence counts evidence rows for (trend, event), including
// invalidated rows: novelty decays per observation, not per surviving row.
func (s *Store) CountEventEvidence(ctx context.Context, trendID, eventID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM trend_evidence WHERE trend_id = $1 AND event_id = $2`,
		trendID, eventID).Scan(&count)
	return count, err
}

// ListTrendEvidence returns evidence for one trend, newest first.
func (s *Store) ListTrendEvidence(ctx context.Context, trendID uuid.UUID, limit int) ([]models.TrendEvidence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trend_id, event_id, signal_type, delta_log_odds, factors, reasoning,
			created_at, is_invalidated, invalidated_at, invalidation_feedback_id
		FROM trend_evidence WHERE trend_id = $1
		ORDER BY created_at DESC LIMIT $2`, trendID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func collectEvidence(rows pgx.Rows) ([]models.TrendEvidence, error) {
	var evidence []models.TrendEvidence
	for rows.Next() {
		var ev models.TrendEvidence
		var factorsJSON []byte
		if err := rows.Scan(&ev.ID, &ev.TrendID, &ev.EventID, &ev.SignalType, &ev.DeltaLogOdds,
			&factorsJSON, &ev.Reasoning, &ev.CreatedAt, &ev.IsInvalidated, &ev.InvalidatedAt,
			&ev.InvalidationFeedbackID); err != nil {
			return nil, err
		}
		if len(factorsJSON) > 0 {
			if err := json.Unmarshal(factorsJSON, &ev.Factors); err != nil {
				return nil, err
			}
		}
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}

// InvalidateEventEvidenceLocked reverses all not-yet-invalidated evidence an
// event contributed. For each affected trend, the trend row is locked, the
// sum of live deltas is subtracted from current_log_odds, and the evidence
// rows are marked invalidated with the feedback id. Returns the reversed sum
// per trend.
func (s *Store) InvalidateEventEvidenceLocked(ctx context.Context, eventID, feedbackID uuid.UUID) (map[uuid.UUID]float64, error) {
	reversed := make(map[uuid.UUID]float64)

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT DISTINCT trend_id FROM trend_evidence
			WHERE event_id = $1 AND NOT is_invalidated
			ORDER BY trend_id`, eventID)
		if err != nil {
			return err
		}
		var trendIDs []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			trendIDs = append(trendIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, trendID := range trendIDs {
			var current float64
			if err := tx.QueryRow(ctx,
				`SELECT current_log_odds FROM trends WHERE id = $1 FOR UPDATE`,
				trendID).Scan(&current); err != nil {
				return err
			}

			var deltaSum float64
			if err := tx.QueryRow(ctx, `
				SELECT COALESCE(sum(delta_log_odds), 0) FROM trend_evidence
				WHERE event_id = $1 AND trend_id = $2 AND NOT is_invalidated`,
				eventID, trendID).Scan(&deltaSum); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, `
				UPDATE trend_evidence
				SET is_invalidated = TRUE, invalidated_at = now(), invalidation_feedback_id = $3
				WHERE event_id = $1 AND trend_id = $2 AND NOT is_invalidated`,
				eventID, trendID, feedbackID); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx,
				`UPDATE trends SET current_log_odds = $2, updated_at = now() WHERE id = $1`,
				trendID, current-deltaSum); err != nil {
				return err
			}
			reversed[trendID] = deltaSum
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reversed, nil
}

// AppendSnapshot appends one time-series point.
func (s *Store) AppendSnapshot(ctx context.Context, snap *models.TrendSnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trend_snapshots (id, trend_id, ts, log_odds) VALUES ($1,$2,$3,$4)`,
		snap.ID, snap.TrendID, snap.Timestamp, snap.LogOdds)
	return err
}

// LatestSnapshotAt returns the most recent snapshot at or before the given
// time, or ErrNotFound.
func (s *Store) LatestSnapshotAt(ctx context.Context, trendID uuid.UUID, at time.Time) (*models.TrendSnapshot, error) {
	var snap models.TrendSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT id, trend_id, ts, log_odds FROM trend_snapshots
		WHERE trend_id = $1 AND ts <= $2
		ORDER BY ts DESC LIMIT 1`, trendID, at).
		Scan(&snap.ID, &snap.TrendID, &snap.Timestamp, &snap.LogOdds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListSnapshotsDownsampled returns history between since and until,
// downsampled to the latest snapshot per bucket ("hour" or "day").
func (s *Store) ListSnapshotsDownsampled(ctx context.Context, trendID uuid.UUID, since, until time.Time, bucket string) ([]models.TrendSnapshot, error) {
	switch bucket {
	case "hour", "day":
	default:
		return nil, fmt.Errorf("database: unsupported snapshot bucket %q", bucket)
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT ON (date_trunc('%s', ts)) id, trend_id, ts, log_odds
		FROM trend_snapshots
		WHERE trend_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY date_trunc('%s', ts) ASC, ts DESC`, bucket, bucket),
		trendID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.TrendSnapshot
	for rows.Next() {
		var snap models.TrendSnapshot
		if err := rows.Scan(&snap.ID, &snap.TrendID, &snap.Timestamp, &snap.LogOdds); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
