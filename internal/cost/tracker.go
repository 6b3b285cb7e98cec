// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package cost enforces the daily LLM budget kill switch: per-tier call
// limits and a shared daily cost ceiling, tracked in an atomic ledger keyed
// by (usage_date, tier).
package cost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
	"github.com/s5unanow/horadus/internal/models"
)

// ErrBudgetExceeded marks a denied call. Callers treat it as recoverable:
// the triggering item reverts to PENDING without consuming an error.
var ErrBudgetExceeded = errors.New("cost: budget exceeded")

// ErrUnknownTier is returned for tiers outside the ledger.
var ErrUnknownTier = errors.New("cost: unknown tier")

// PricePer1M is (input, output) USD per million tokens for one tier.
type PricePer1M struct {
	Input  float64
	Output float64
}

// tierPricing quantizes recorded cost per ledger tier.
var tierPricing = map[models.CostTier]PricePer1M{
	models.TierOne:       {Input: 0.10, Output: 0.40},
	models.TierTwo:       {Input: 0.15, Output: 0.60},
	models.TierEmbedding: {Input: 0.10, Output: 0.00},
}

// Store is the atomic ledger surface. RecordUsageConditional must re-check
// both limits inside its own atomicity boundary.
type Store interface {
	GetUsage(ctx context.Context, date time.Time, tier models.CostTier) (*models.ApiUsage, error)
	TotalCostForDate(ctx context.Context, date time.Time) (float64, error)
	ListUsageForDate(ctx context.Context, date time.Time) ([]models.ApiUsage, error)
	RecordUsageConditional(ctx context.Context, date time.Time, tier models.CostTier,
		inputTokens, outputTokens int64, cost float64, callLimit int64, dailyCostLimit float64) (bool, error)
}

// TierSummary is the per-tier rollup in the daily summary.
type TierSummary struct {
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	CallLimit    int64   `json:"call_limit"`
}

// DailySummary is the compact budget view for one UTC date.
type DailySummary struct {
	Date               string                          `json:"date"`
	Status             string                          `json:"status"`
	DailyCostLimitUSD  float64                         `json:"daily_cost_limit_usd"`
	TotalCostUSD       float64                         `json:"total_cost_usd"`
	BudgetRemainingUSD *float64                        `json:"budget_remaining_usd"`
	Tiers              map[models.CostTier]TierSummary `json:"tiers"`
}

// Tracker enforces and records per-tier daily usage.
type Tracker struct {
	store Store
	cfg   config.CostConfig
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a cost tracker.
func NewTracker(store Store, cfg config.CostConfig, opts ...Option) *Tracker {
	t := &Tracker{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnsureWithinBudget returns ErrBudgetExceeded (wrapped with the denial
// reason) when the tier cannot make another call right now.
func (t *Tracker) EnsureWithinBudget(ctx context.Context, tier models.CostTier) error {
	ok, reason, err := t.CheckBudget(ctx, tier)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	metrics.RecordBudgetDenial(string(tier), reason)
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
}

// CheckBudget reports whether a tier can make another call, with the denial
// reason when it cannot. This is advisory; RecordUsage re-checks atomically.
func (t *Tracker) CheckBudget(ctx context.Context, tier models.CostTier) (bool, string, error) {
	if !tier.IsValid() {
		return false, "", fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	today := t.now().UTC()

	usage, err := t.store.GetUsage(ctx, today, tier)
	if err != nil {
		return false, "", fmt.Errorf("reading usage ledger: %w", err)
	}
	callLimit := t.callLimit(tier)
	if callLimit > 0 && usage.CallCount >= callLimit {
		return false, fmt.Sprintf("%s daily call limit (%d) exceeded", tier, callLimit), nil
	}

	if t.cfg.DailyCostLimitUSD > 0 {
		total, err := t.store.TotalCostForDate(ctx, today)
		if err != nil {
			return false, "", fmt.Errorf("summing daily cost: %w", err)
		}
		if total >= t.cfg.DailyCostLimitUSD {
			return false, fmt.Sprintf("daily cost limit ($%g) exceeded", t.cfg.DailyCostLimitUSD), nil
		}
	}
	return true, "", nil
}

// RecordUsage persists counters for one successful API call. The store
// re-checks both limits under the same atomicity boundary as the increment;
// a failed re-check rolls back and surfaces ErrBudgetExceeded, so two
// concurrent calls cannot both consume the last slot.
func (t *Tracker) RecordUsage(ctx context.Context, tier models.CostTier, inputTokens, outputTokens int64) error {
	if !tier.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	cost := EstimateTierCost(tier, inputTokens, outputTokens)
	today := t.now().UTC()

	recorded, err := t.store.RecordUsageConditional(ctx, today, tier, inputTokens, outputTokens,
		cost, t.callLimit(tier), t.cfg.DailyCostLimitUSD)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	if !recorded {
		metrics.RecordBudgetDenial(string(tier), "atomic_recheck")
		return fmt.Errorf("%w: %s ledger re-check failed", ErrBudgetExceeded, tier)
	}

	t.maybeLogAlert(ctx, today)
	return nil
}

// GetDailySummary returns the per-tier rollup with sleep-mode status: any
// tier at its call limit or the cost ceiling being hit puts the platform to
// sleep until the UTC day rolls over.
func (t *Tracker) GetDailySummary(ctx context.Context) (*DailySummary, error) {
	today := t.now().UTC()
	rows, err := t.store.ListUsageForDate(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("listing usage: %w", err)
	}
	byTier := make(map[models.CostTier]models.ApiUsage, len(rows))
	for _, row := range rows {
		byTier[row.Tier] = row
	}

	tiers := make(map[models.CostTier]TierSummary, len(models.KnownCostTiers))
	totalCost := 0.0
	callBlocked := false
	for _, tier := range models.KnownCostTiers {
		row := byTier[tier]
		limit := t.callLimit(tier)
		tiers[tier] = TierSummary{
			Calls:        row.CallCount,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
			CostUSD:      row.EstimatedCostUSD,
			CallLimit:    limit,
		}
		totalCost += row.EstimatedCostUSD
		if limit > 0 && row.CallCount >= limit {
			callBlocked = true
		}
	}

	costBlocked := t.cfg.DailyCostLimitUSD > 0 && totalCost >= t.cfg.DailyCostLimitUSD
	status := "active"
	if costBlocked || callBlocked {
		status = "sleep_mode"
	}

	var remaining *float64
	if t.cfg.DailyCostLimitUSD > 0 {
		r := t.cfg.DailyCostLimitUSD - totalCost
		if r < 0 {
			r = 0
		}
		remaining = &r
	}

	return &DailySummary{
		Date:               today.Format("2006-01-02"),
		Status:             status,
		DailyCostLimitUSD:  t.cfg.DailyCostLimitUSD,
		TotalCostUSD:       totalCost,
		BudgetRemainingUSD: remaining,
		Tiers:              tiers,
	}, nil
}

func (t *Tracker) callLimit(tier models.CostTier) int64 {
	switch tier {
	case models.TierOne:
		return t.cfg.Tier1MaxDailyCalls
	case models.TierTwo:
		return t.cfg.Tier2MaxDailyCalls
	case models.TierEmbedding:
		return t.cfg.EmbeddingMaxDailyCalls
	}
	return 0
}

func (t *Tracker) maybeLogAlert(ctx context.Context, date time.Time) {
	if t.cfg.DailyCostLimitUSD <= 0 || t.cfg.AlertThresholdPct <= 0 {
		return
	}
	total, err := t.store.TotalCostForDate(ctx, date)
	if err != nil {
		return
	}
	usagePct := total / t.cfg.DailyCostLimitUSD * 100
	if usagePct < float64(t.cfg.AlertThresholdPct) {
		return
	}
	logging.Ctx(ctx).Warn().
		Str("date", date.Format("2006-01-02")).
		Float64("total_cost_usd", total).
		Float64("daily_limit_usd", t.cfg.DailyCostLimitUSD).
		Int("threshold_pct", t.cfg.AlertThresholdPct).
		Float64("usage_pct", usagePct).
		Msg("Daily LLM cost alert threshold reached")
}

// EstimateTierCost quantizes one call's cost by the tier pricing table.
func EstimateTierCost(tier models.CostTier, inputTokens, outputTokens int64) float64 {
	price := tierPricing[tier]
	return float64(inputTokens)*price.Input/1_000_000 +
		float64(outputTokens)*price.Output/1_000_000
}
