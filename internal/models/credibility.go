// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package models

// DefaultSourceCredibility is assumed when a source has no configured score.
const DefaultSourceCredibility = 0.5

var tierMultipliers = map[SourceTier]float64{
	TierPrimary:    1.0,
	TierWire:       0.95,
	TierMajor:      0.85,
	TierRegional:   0.70,
	TierAggregator: 0.50,
}

var reportingMultipliers = map[ReportingType]float64{
	ReportingFirsthand:  1.0,
	ReportingSecondary:  0.70,
	ReportingAggregator: 0.40,
}

// TierMultiplier returns the credibility multiplier for a source tier.
// Unknown tiers intentionally default to 1.0.
func TierMultiplier(tier SourceTier) float64 {
	if m, ok := tierMultipliers[tier]; ok {
		return m
	}
	return 1.0
}

// ReportingMultiplier returns the credibility multiplier for a reporting type.
// Unknown types intentionally default to 1.0.
func ReportingMultiplier(rt ReportingType) float64 {
	if m, ok := reportingMultipliers[rt]; ok {
		return m
	}
	return 1.0
}

// EffectiveCredibility applies tier and reporting multipliers to a base
// credibility score and clamps the result to [0,1].
func EffectiveCredibility(base float64, tier SourceTier, rt ReportingType) float64 {
	adjusted := base * TierMultiplier(tier) * ReportingMultiplier(rt)
	if adjusted < 0.0 {
		return 0.0
	}
	if adjusted > 1.0 {
		return 1.0
	}
	return adjusted
}
