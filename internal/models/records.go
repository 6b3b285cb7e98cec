// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Source is a configured feed identity consumed by a collector.
type Source struct {
	ID                   uuid.UUID
	Name                 string
	Type                 SourceType
	URL                  string
	CredibilityScore     float64 // in [0,1]
	SourceTier           SourceTier
	ReportingType        ReportingType
	Active               bool
	LastFetchedAt        *time.Time
	IngestionWindowEndAt *time.Time // watermark for next-window boundaries
	ErrorCount           int
	LastError            *string
	Config               map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RawItem is one collected article/post awaiting or past pipeline processing.
type RawItem struct {
	ID                   uuid.UUID
	SourceID             uuid.UUID
	ExternalID           *string
	URL                  *string
	Title                *string
	RawContent           string
	ContentHash          string // hex sha256 of normalized raw text
	FetchedAt            time.Time
	PublishedAt          *time.Time
	Language             *string
	Embedding            *pgvector.Vector
	EmbeddingModel       *string
	EmbeddingGeneratedAt *time.Time
	ProcessingStatus     ProcessingStatus
	ErrorMessage         *string
}

// Timestamp returns the best-known event time for the item: published time
// when present, else fetch time.
func (r *RawItem) Timestamp() time.Time {
	if r.PublishedAt != nil {
		return *r.PublishedAt
	}
	return r.FetchedAt
}

// TrendImpact is one per-trend structured signal extracted by tier-2.
type TrendImpact struct {
	TrendID    string    `json:"trend_id"`
	SignalType string    `json:"signal_type"`
	Direction  Direction `json:"direction"`
	Severity   float64   `json:"severity"`
	Confidence float64   `json:"confidence"`
	Rationale  *string   `json:"rationale"`
}

// ExtractedClaims is the structured tier-2 payload persisted on an event.
type ExtractedClaims struct {
	Claims       []string      `json:"claims"`
	TrendImpacts []TrendImpact `json:"trend_impacts"`
}

// Event is a cluster of raw items describing the same real-world occurrence.
type Event struct {
	ID                   uuid.UUID
	CanonicalSummary     string
	Embedding            *pgvector.Vector
	EmbeddingModel       *string
	EmbeddingGeneratedAt *time.Time
	SourceCount          int
	UniqueSourceCount    int
	FirstSeenAt          time.Time
	LastMentionAt        time.Time
	ConfirmedAt          *time.Time
	LifecycleStatus      EventLifecycle
	PrimaryItemID        *uuid.UUID // weak reference; highest effective credibility
	ExtractedWho         []string
	ExtractedWhat        *string
	ExtractedWhere       *string
	ExtractedWhen        *time.Time
	Categories           []string
	ExtractedClaims      *ExtractedClaims
	HasContradictions    bool
}

// EventItem links one raw item into one event. item_id is unique: an item
// belongs to at most one event.
type EventItem struct {
	EventID uuid.UUID
	ItemID  uuid.UUID
	AddedAt time.Time
}

// Indicator is one configured signal for a trend.
type Indicator struct {
	Weight            float64   `json:"weight"`
	Direction         Direction `json:"direction"`
	DecayHalfLifeDays *float64  `json:"decay_half_life_days,omitempty"`
	Keywords          []string  `json:"keywords,omitempty"`
}

// Trend is one tracked probability statement with its indicator taxonomy.
type Trend struct {
	ID                uuid.UUID
	Name              string
	Definition        map[string]any
	Indicators        map[string]Indicator // keyed by signal_type
	BaselineLogOdds   float64
	CurrentLogOdds    float64
	DecayHalfLifeDays float64
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Identifier returns the stable trend identifier used in LLM payloads:
// definition["id"] when set, else the uuid string.
func (t *Trend) Identifier() string {
	if t.Definition != nil {
		if raw, ok := t.Definition["id"]; ok {
			if s, ok := raw.(string); ok && s != "" {
				return s
			}
		}
	}
	return t.ID.String()
}

// EvidenceFactors is the multiplicative breakdown producing one evidence delta.
type EvidenceFactors struct {
	BaseWeight                 float64   `json:"base_weight"`
	Severity                   float64   `json:"severity"`
	Confidence                 float64   `json:"confidence"`
	Credibility                float64   `json:"credibility"`
	Corroboration              float64   `json:"corroboration"`
	Novelty                    float64   `json:"novelty"`
	EvidenceAgeDays            float64   `json:"evidence_age_days"`
	TemporalDecay              float64   `json:"temporal_decay"`
	Direction                  Direction `json:"direction"`
	IndicatorDecayHalfLifeDays *float64  `json:"indicator_decay_half_life_days,omitempty"`
}

// TrendEvidence is one applied (or invalidated) evidence delta.
type TrendEvidence struct {
	ID                     uuid.UUID
	TrendID                uuid.UUID
	EventID                uuid.UUID
	SignalType             string
	DeltaLogOdds           float64
	Factors                EvidenceFactors
	Reasoning              *string
	CreatedAt              time.Time
	IsInvalidated          bool
	InvalidatedAt          *time.Time
	InvalidationFeedbackID *uuid.UUID
}

// TrendSnapshot is one append-only time-series point of a trend's log-odds.
type TrendSnapshot struct {
	ID        uuid.UUID
	TrendID   uuid.UUID
	Timestamp time.Time
	LogOdds   float64
}

// TrendOutcome records a resolved (or ongoing) prediction for calibration.
type TrendOutcome struct {
	ID                   uuid.UUID
	TrendID              uuid.UUID
	PredictionDate       time.Time
	PredictedProbability float64
	PredictedRiskLevel   RiskLevel
	ProbabilityBandLow   float64
	ProbabilityBandHigh  float64
	OutcomeDate          time.Time
	Outcome              OutcomeType
	OutcomeNotes         *string
	OutcomeEvidence      map[string]any
	BrierScore           *float64
	RecordedBy           *string
}

// ApiUsage is one daily per-tier ledger row; unique on (usage_date, tier).
type ApiUsage struct {
	UsageDate        time.Time // date, midnight UTC
	Tier             CostTier
	CallCount        int64
	InputTokens      int64
	OutputTokens     int64
	EstimatedCostUSD float64
	UpdatedAt        time.Time
}

// HumanFeedback is one operator correction.
type HumanFeedback struct {
	ID             uuid.UUID
	TargetType     FeedbackTarget
	TargetID       uuid.UUID
	Action         FeedbackAction
	OriginalValue  map[string]any
	CorrectedValue map[string]any
	Notes          *string
	CreatedBy      *string
	CreatedAt      time.Time
}

// TaxonomyGap audits an LLM output referencing an unknown trend or signal.
type TaxonomyGap struct {
	ID         uuid.UUID
	Reason     TaxonomyGapReason
	TrendID    string
	SignalType string
	EventID    *uuid.UUID
	Payload    map[string]any
	CreatedAt  time.Time
}

// SourceClusterMember is the per-source shape consumed by corroboration
// scoring: identity plus the fields that drive cluster grouping. Rows from
// older schemas may lack tier/reporting values; scoring falls back to
// unique-source counting in that case.
type SourceClusterMember struct {
	SourceID         uuid.UUID
	CredibilityScore float64
	SourceTier       SourceTier
	ReportingType    ReportingType
}

// NeighborResult is one vector-similarity hit.
type NeighborResult struct {
	EntityID   uuid.UUID
	Similarity float64
}
