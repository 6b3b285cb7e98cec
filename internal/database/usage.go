// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/s5unanow/horadus/internal/models"
)

// GetUsage returns the ledger row for (date, tier), zeroed when absent.
func (s *Store) GetUsage(ctx context.Context, date time.Time, tier models.CostTier) (*models.ApiUsage, error) {
	usage := &models.ApiUsage{UsageDate: utcDate(date), Tier: tier}
	err := s.pool.QueryRow(ctx, `
		SELECT call_count, input_tokens, output_tokens, estimated_cost_usd, updated_at
		FROM api_usage WHERE usage_date = $1 AND tier = $2`,
		utcDate(date), tier).
		Scan(&usage.CallCount, &usage.InputTokens, &usage.OutputTokens,
			&usage.EstimatedCostUSD, &usage.UpdatedAt)
	if err == pgx.ErrNoRows {
		return usage, nil
	}
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// TotalCostForDate sums estimated cost across tiers for one date.
func (s *Store) TotalCostForDate(ctx context.Context, date time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(estimated_cost_usd), 0) FROM api_usage WHERE usage_date = $1`,
		utcDate(date)).Scan(&total)
	return total, err
}

// ListUsageForDate returns all ledger rows for one date ordered by tier.
func (s *Store) ListUsageForDate(ctx context.Context, date time.Time) ([]models.ApiUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT usage_date, tier, call_count, input_tokens, output_tokens,
			estimated_cost_usd, updated_at
		FROM api_usage WHERE usage_date = $1 ORDER BY tier ASC`, utcDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []models.ApiUsage
	for rows.Next() {
		var u models.ApiUsage
		if err := rows.Scan(&u.UsageDate, &u.Tier, &u.CallCount, &u.InputTokens,
			&u.OutputTokens, &u.EstimatedCostUSD, &u.UpdatedAt); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// RecordUsageConditional atomically increments the (date, tier) ledger row,
// re-checking both the per-tier call limit and the daily cost limit inside
// the UPDATE so two concurrent callers cannot both pass the last-slot check.
// Limits of zero disable the respective check. Returns false (no increment)
// when either limit would be exceeded.
func (s *Store) RecordUsageConditional(ctx context.Context, date time.Time, tier models.CostTier,
	inputTokens, outputTokens int64, cost float64, callLimit int64, dailyCostLimit float64) (bool, error) {

	day := utcDate(date)
	recorded := false

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO api_usage (usage_date, tier) VALUES ($1, $2)
			ON CONFLICT (usage_date, tier) DO NOTHING`, day, tier); err != nil {
			return err
		}

		// The conditional UPDATE is the budget gate: it only fires when the
		// post-increment call count stays within the tier limit AND the
		// day's total cost (all tiers, summed under the same snapshot) stays
		// under the cost limit.
		tag, err := tx.Exec(ctx, `
			UPDATE api_usage SET
				call_count = call_count + 1,
				input_tokens = input_tokens + $3,
				output_tokens = output_tokens + $4,
				estimated_cost_usd = estimated_cost_usd + $5,
				updated_at = now()
			WHERE usage_date = $1 AND tier = $2
			  AND ($6 <= 0 OR call_count < $6)
			  AND ($7 <= 0 OR (
				SELECT COALESCE(sum(estimated_cost_usd), 0) FROM api_usage WHERE usage_date = $1
			  ) < $7)`,
			day, tier, inputTokens, outputTokens, cost, callLimit, dailyCostLimit)
		if err != nil {
			return err
		}
		recorded = tag.RowsAffected() == 1
		return nil
	})
	return recorded, err
}
