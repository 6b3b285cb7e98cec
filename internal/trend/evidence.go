// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package trend

import (
	"math"

	"github.com/s5unanow/horadus/internal/metrics"
	"github.com/s5unanow/horadus/internal/models"
)

// contradictionPenalty discounts corroboration when an event carries
// conflicting claims.
const contradictionPenalty = 0.7

// fallbackSourceCap bounds the unique-source-count fallback so it cannot
// exceed what the cluster-aware path would produce for a well-formed event.
const fallbackSourceCap = 5

// CalculateDelta computes one evidence delta from its factor breakdown:
//
//	raw = weight * severity * confidence * credibility * corroboration
//	      * novelty * temporal_decay * direction
//
// The half-life comes from the indicator when configured, else from the
// trend default. The returned factors include the resolved temporal decay so
// the breakdown persisted alongside the evidence row is complete.
func CalculateDelta(f models.EvidenceFactors, trendHalfLifeDays, maxDelta float64) (float64, models.EvidenceFactors) {
	if maxDelta <= 0 {
		maxDelta = DefaultMaxDeltaPerEvent
	}
	f.TemporalDecay = temporalDecayFromFactors(f, trendHalfLifeDays)

	raw := f.BaseWeight * f.Severity * f.Confidence * f.Credibility *
		f.Corroboration * f.Novelty * f.TemporalDecay * f.Direction.Multiplier()
	return ClampDelta(raw, maxDelta), f
}

func temporalDecayFromFactors(f models.EvidenceFactors, trendHalfLifeDays float64) float64 {
	halfLife := trendHalfLifeDays
	if f.IndicatorDecayHalfLifeDays != nil {
		halfLife = *f.IndicatorDecayHalfLifeDays
	}
	return TemporalDecay(f.EvidenceAgeDays, halfLife)
}

// NoveltyScore returns the diminishing weight for repeat evidence on the
// same (trend, event): 1.0 for the first, 0.5 for the second, 0.25 after.
func NoveltyScore(priorEvidenceCount int) float64 {
	switch {
	case priorEvidenceCount <= 0:
		return 1.0
	case priorEvidenceCount == 1:
		return 0.5
	default:
		return 0.25
	}
}

// CorroborationScore computes the event-level corroboration factor in (0,1).
//
// The canonical path is cluster-aware: linked sources are grouped by
// (reporting_type, source_tier). Aggregator-reporting clusters contribute a
// combined sqrt(n)-discounted score so ten syndicated copies of one wire
// story do not read as ten independent confirmations, while firsthand and
// secondary sources contribute their effective credibility individually.
// The raw score is squashed by score/(score+2) and a contradiction penalty
// applies when the event is flagged.
//
// Rows missing tier/reporting fields fall back to capped unique-source
// counting through the same squash so the fallback can never exceed the
// cluster-aware path.
func CorroborationScore(sources []models.SourceClusterMember, uniqueSourceCount int, hasContradictions bool) float64 {
	var raw float64
	mode := "cluster_aware"
	reason := "source_clusters"

	if clusterFieldsPresent(sources) {
		type clusterKey struct {
			reporting models.ReportingType
			tier      models.SourceTier
		}
		clusters := make(map[clusterKey][]models.SourceClusterMember)
		for _, src := range sources {
			key := clusterKey{src.ReportingType, src.SourceTier}
			clusters[key] = append(clusters[key], src)
		}

		for key, members := range clusters {
			weight := clusterMemberWeight(members)
			if key.reporting == models.ReportingAggregator {
				// One representative weight, discounted by cluster size.
				raw += weight / float64(len(members)) * math.Sqrt(float64(len(members)))
				continue
			}
			raw += weight
		}
	} else {
		mode = "fallback"
		reason = "missing_cluster_fields"
		count := uniqueSourceCount
		if count > fallbackSourceCap {
			count = fallbackSourceCap
		}
		if count < 0 {
			count = 0
		}
		raw = float64(count)
	}

	metrics.RecordCorroborationPath(mode, reason)

	score := raw / (raw + 2.0)
	if hasContradictions {
		score *= contradictionPenalty
	}
	return score
}

func clusterFieldsPresent(sources []models.SourceClusterMember) bool {
	if len(sources) == 0 {
		return false
	}
	for _, src := range sources {
		if src.SourceTier == "" || src.ReportingType == "" {
			return false
		}
	}
	return true
}

func clusterMemberWeight(members []models.SourceClusterMember) float64 {
	var total float64
	for _, src := range members {
		total += models.EffectiveCredibility(src.CredibilityScore, src.SourceTier, src.ReportingType)
	}
	return total
}
