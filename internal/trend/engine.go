// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package trend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/models"
)

// ErrTrendNotFound is returned when the target trend does not exist.
var ErrTrendNotFound = errors.New("trend: not found")

// Store is the persistence surface the engine needs. Every mutating method
// serializes on the trend row (SELECT ... FOR UPDATE) so concurrent evidence
// application, decay, and invalidation compose additively.
type Store interface {
	GetTrend(ctx context.Context, id uuid.UUID) (*models.Trend, error)
	ListActiveTrends(ctx context.Context) ([]models.Trend, error)
	ApplyEvidenceLocked(ctx context.Context, ev *models.TrendEvidence) (previous, next float64, err error)
	ApplyDecayLocked(ctx context.Context, trendID uuid.UUID, decide func(t *models.Trend) (float64, bool)) (applied bool, previous, next float64, err error)
	CountEventEvidence(ctx context.Context, trendID, eventID uuid.UUID) (int, error)
	InvalidateEventEvidenceLocked(ctx context.Context, eventID, feedbackID uuid.UUID) (map[uuid.UUID]float64, error)
	AppendSnapshot(ctx context.Context, snap *models.TrendSnapshot) error
	LatestSnapshotAt(ctx context.Context, trendID uuid.UUID, at time.Time) (*models.TrendSnapshot, error)
}

// Update reports one applied evidence delta in probability space.
type Update struct {
	TrendID             uuid.UUID
	PreviousProbability float64
	NewProbability      float64
	DeltaApplied        float64
	Direction           models.Direction
}

// Engine owns the probability state transitions for all trends.
type Engine struct {
	store            Store
	maxDeltaPerEvent float64
	now              func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the trend engine.
func NewEngine(store Store, maxDeltaPerEvent float64, opts ...Option) *Engine {
	if maxDeltaPerEvent <= 0 {
		maxDeltaPerEvent = DefaultMaxDeltaPerEvent
	}
	e := &Engine{store: store, maxDeltaPerEvent: maxDeltaPerEvent, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxDeltaPerEvent exposes the configured per-event delta bound.
func (e *Engine) MaxDeltaPerEvent() float64 {
	return e.maxDeltaPerEvent
}

// NoveltyFor returns the novelty factor for the next evidence on
// (trend, event), counting prior observations including invalidated ones.
func (e *Engine) NoveltyFor(ctx context.Context, trendID, eventID uuid.UUID) (float64, error) {
	count, err := e.store.CountEventEvidence(ctx, trendID, eventID)
	if err != nil {
		return 0, fmt.Errorf("counting event evidence: %w", err)
	}
	return NoveltyScore(count), nil
}

// ApplyEvidence computes the clamped delta from the factor breakdown and
// applies it to the trend under the row lock, writing the evidence row in
// the same transaction.
func (e *Engine) ApplyEvidence(ctx context.Context, trend *models.Trend, eventID uuid.UUID, signalType string, factors models.EvidenceFactors, reasoning *string) (*Update, error) {
	delta, resolved := CalculateDelta(factors, trend.DecayHalfLifeDays, e.maxDeltaPerEvent)

	evidence := &models.TrendEvidence{
		TrendID:      trend.ID,
		EventID:      eventID,
		SignalType:   signalType,
		DeltaLogOdds: delta,
		Factors:      resolved,
		Reasoning:    reasoning,
	}

	previous, next, err := e.store.ApplyEvidenceLocked(ctx, evidence)
	if err != nil {
		return nil, fmt.Errorf("applying evidence to trend %s: %w", trend.ID, err)
	}

	logging.Ctx(ctx).Info().
		Str("trend_id", trend.ID.String()).
		Str("event_id", eventID.String()).
		Str("signal_type", signalType).
		Float64("delta_log_odds", delta).
		Float64("new_probability", LogOddsToProb(next)).
		Msg("Evidence applied")

	return &Update{
		TrendID:             trend.ID,
		PreviousProbability: LogOddsToProb(previous),
		NewProbability:      LogOddsToProb(next),
		DeltaApplied:        delta,
		Direction:           resolved.Direction,
	}, nil
}

// ApplyManualDelta applies an operator override delta (already in log-odds
// space) under the row lock, recorded as override evidence against the
// given event (the trend's own id when no event applies).
func (e *Engine) ApplyManualDelta(ctx context.Context, trendID, eventID uuid.UUID, delta float64, reasoning *string) (*Update, error) {
	clamped := ClampDelta(delta, e.maxDeltaPerEvent)
	evidence := &models.TrendEvidence{
		TrendID:      trendID,
		EventID:      eventID,
		SignalType:   "manual_override",
		DeltaLogOdds: clamped,
		Factors: models.EvidenceFactors{
			BaseWeight: clamped,
			Severity:   1, Confidence: 1, Credibility: 1,
			Corroboration: 1, Novelty: 1, TemporalDecay: 1,
			Direction: directionForDelta(clamped),
		},
		Reasoning: reasoning,
	}
	previous, next, err := e.store.ApplyEvidenceLocked(ctx, evidence)
	if err != nil {
		return nil, fmt.Errorf("applying manual delta to trend %s: %w", trendID, err)
	}
	return &Update{
		TrendID:             trendID,
		PreviousProbability: LogOddsToProb(previous),
		NewProbability:      LogOddsToProb(next),
		DeltaApplied:        clamped,
		Direction:           directionForDelta(clamped),
	}, nil
}

func directionForDelta(delta float64) models.Direction {
	if delta < 0 {
		return models.DirectionDeEscalatory
	}
	return models.DirectionEscalatory
}

// ApplyDecay pulls every active trend toward its baseline by
// 0.5^(days/half_life) of the distance accumulated since the last update.
// Each trend decays under its row lock, so a manual delta racing the decay
// serializes: the later writer observes the earlier write and adds on top.
func (e *Engine) ApplyDecay(ctx context.Context) (int, error) {
	trends, err := e.store.ListActiveTrends(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active trends: %w", err)
	}

	now := e.now().UTC()
	decayed := 0
	for _, t := range trends {
		applied, _, _, err := e.store.ApplyDecayLocked(ctx, t.ID, func(locked *models.Trend) (float64, bool) {
			elapsedDays := now.Sub(locked.UpdatedAt).Hours() / 24.0
			if elapsedDays <= 0 {
				return locked.CurrentLogOdds, false
			}
			halfLife := locked.DecayHalfLifeDays
			if halfLife <= 0 {
				return locked.CurrentLogOdds, false
			}
			factor := TemporalDecay(elapsedDays, halfLife)
			newLogOdds := locked.BaselineLogOdds + (locked.CurrentLogOdds-locked.BaselineLogOdds)*factor
			if newLogOdds == locked.CurrentLogOdds {
				return locked.CurrentLogOdds, false
			}
			return newLogOdds, true
		})
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("trend_id", t.ID.String()).Msg("Decay failed for trend")
			continue
		}
		if applied {
			decayed++
		}
	}
	return decayed, nil
}

// SnapshotAll appends one time-series point per active trend.
func (e *Engine) SnapshotAll(ctx context.Context) (int, error) {
	trends, err := e.store.ListActiveTrends(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active trends: %w", err)
	}

	now := e.now().UTC()
	written := 0
	for _, t := range trends {
		snap := &models.TrendSnapshot{TrendID: t.ID, Timestamp: now, LogOdds: t.CurrentLogOdds}
		if err := e.store.AppendSnapshot(ctx, snap); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("trend_id", t.ID.String()).Msg("Snapshot write failed")
			continue
		}
		written++
	}
	return written, nil
}

// InvalidateEventEvidence reverses every not-yet-invalidated delta the event
// contributed, per affected trend, marking the rows with the feedback id.
// Returns the reversed sum per trend.
func (e *Engine) InvalidateEventEvidence(ctx context.Context, eventID, feedbackID uuid.UUID) (map[uuid.UUID]float64, error) {
	reversed, err := e.store.InvalidateEventEvidenceLocked(ctx, eventID, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("invalidating evidence for event %s: %w", eventID, err)
	}
	for trendID, sum := range reversed {
		logging.Ctx(ctx).Info().
			Str("trend_id", trendID.String()).
			Str("event_id", eventID.String()).
			Float64("reversed_delta", sum).
			Msg("Event evidence invalidated")
	}
	return reversed, nil
}

// ProbabilityAt reads the probability implied by the most recent snapshot at
// or before the given time, falling back to the trend's current state.
func (e *Engine) ProbabilityAt(ctx context.Context, trendID uuid.UUID, at time.Time) (float64, error) {
	snap, err := e.store.LatestSnapshotAt(ctx, trendID, at)
	if err == nil {
		return LogOddsToProb(snap.LogOdds), nil
	}

	t, terr := e.store.GetTrend(ctx, trendID)
	if terr != nil {
		return 0, ErrTrendNotFound
	}
	return LogOddsToProb(t.CurrentLogOdds), nil
}
