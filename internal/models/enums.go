// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package models

// ProcessingStatus is the per-run state machine for a raw item.
// Exactly one terminal status is assigned per item per pipeline run.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusClassified ProcessingStatus = "CLASSIFIED"
	StatusNoise      ProcessingStatus = "NOISE"
	StatusError      ProcessingStatus = "ERROR"
)

// IsValid reports whether the status is one of the known states.
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusClassified, StatusNoise, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends a pipeline run for the item.
// PENDING is terminal in the deferred/budget-exceeded sense: the item is
// eligible for the next run without consuming an error.
func (s ProcessingStatus) IsTerminal() bool {
	switch s {
	case StatusClassified, StatusNoise, StatusPending, StatusError:
		return true
	}
	return false
}

// EventLifecycle is the lifecycle state of a clustered event.
type EventLifecycle string

const (
	LifecycleEmerging  EventLifecycle = "EMERGING"
	LifecycleConfirmed EventLifecycle = "CONFIRMED"
	LifecycleFading    EventLifecycle = "FADING"
	LifecycleArchived  EventLifecycle = "ARCHIVED"
)

// IsValid reports whether the lifecycle value is known.
func (l EventLifecycle) IsValid() bool {
	switch l {
	case LifecycleEmerging, LifecycleConfirmed, LifecycleFading, LifecycleArchived:
		return true
	}
	return false
}

// SourceType identifies the collector family that produces items for a source.
type SourceType string

const (
	SourceRSS      SourceType = "rss"
	SourceGDELT    SourceType = "gdelt"
	SourceTelegram SourceType = "telegram"
	SourceAPI      SourceType = "api"
)

// SourceTier ranks a source's editorial standing.
type SourceTier string

const (
	TierPrimary    SourceTier = "primary"
	TierWire       SourceTier = "wire"
	TierMajor      SourceTier = "major"
	TierRegional   SourceTier = "regional"
	TierAggregator SourceTier = "aggregator"
)

// ReportingType classifies how a source obtains its content.
type ReportingType string

const (
	ReportingFirsthand  ReportingType = "firsthand"
	ReportingSecondary  ReportingType = "secondary"
	ReportingAggregator ReportingType = "aggregator"
)

// Direction is the sign of a trend indicator or extracted impact.
type Direction string

const (
	DirectionEscalatory   Direction = "escalatory"
	DirectionDeEscalatory Direction = "de_escalatory"
)

// IsValid reports whether the direction is known.
func (d Direction) IsValid() bool {
	return d == DirectionEscalatory || d == DirectionDeEscalatory
}

// Multiplier returns +1 for escalatory evidence and -1 for de-escalatory.
func (d Direction) Multiplier() float64 {
	if d == DirectionDeEscalatory {
		return -1.0
	}
	return 1.0
}

// OutcomeType records how a prediction resolved.
type OutcomeType string

const (
	OutcomeOccurred    OutcomeType = "OCCURRED"
	OutcomeDidNotOccur OutcomeType = "DID_NOT_OCCUR"
	OutcomePartial     OutcomeType = "PARTIAL"
	OutcomeOngoing     OutcomeType = "ONGOING"
)

// ActualValue maps an outcome to the [0,1] value used for Brier scoring.
// ONGOING outcomes are not scorable and return ok=false.
func (o OutcomeType) ActualValue() (float64, bool) {
	switch o {
	case OutcomeOccurred:
		return 1.0, true
	case OutcomeDidNotOccur:
		return 0.0, true
	case OutcomePartial:
		return 0.5, true
	}
	return 0, false
}

// RiskLevel is the categorical presentation band for a probability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskGuarded  RiskLevel = "guarded"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
	RiskSevere   RiskLevel = "severe"
)

// FeedbackAction is an operator correction applied to an event or trend.
type FeedbackAction string

const (
	FeedbackPin           FeedbackAction = "pin"
	FeedbackMarkNoise     FeedbackAction = "mark_noise"
	FeedbackInvalidate    FeedbackAction = "invalidate"
	FeedbackOverrideDelta FeedbackAction = "override_delta"
)

// Suppresses reports whether the action holds an event out of automated
// processing (merge metadata updates, tier-2, trend impacts).
func (a FeedbackAction) Suppresses() bool {
	return a == FeedbackMarkNoise || a == FeedbackInvalidate
}

// FeedbackTarget is the entity kind a feedback record applies to.
type FeedbackTarget string

const (
	TargetEvent FeedbackTarget = "event"
	TargetTrend FeedbackTarget = "trend"
)

// CostTier is a budget ledger bucket for LLM and embedding spend.
type CostTier string

const (
	TierOne       CostTier = "tier1"
	TierTwo       CostTier = "tier2"
	TierEmbedding CostTier = "embedding"
)

// KnownCostTiers lists the ledger buckets in summary order.
var KnownCostTiers = []CostTier{TierOne, TierTwo, TierEmbedding}

// IsValid reports whether the tier is a known ledger bucket.
func (t CostTier) IsValid() bool {
	switch t {
	case TierOne, TierTwo, TierEmbedding:
		return true
	}
	return false
}

// TaxonomyGapReason classifies why an LLM output failed taxonomy lookup.
type TaxonomyGapReason string

const (
	GapUnknownTrendID    TaxonomyGapReason = "unknown_trend_id"
	GapUnknownSignalType TaxonomyGapReason = "unknown_signal_type"
)
