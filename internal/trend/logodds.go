// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package trend implements the log-odds probability engine: evidence delta
// calculation, corroboration and novelty scoring, atomic trend updates,
// time decay toward baseline, snapshotting, and evidence invalidation.
//
// All storage uses log-odds; probabilities are derived at the edges and
// clamped to [MinProbability, MaxProbability]. LLMs extract structured
// signals; this package computes deltas.
package trend

import "math"

const (
	// MinProbability and MaxProbability clamp every exposed probability.
	MinProbability = 0.001
	MaxProbability = 0.999

	// DefaultMaxDeltaPerEvent bounds a single evidence application.
	DefaultMaxDeltaPerEvent = 0.25
)

// ProbToLogOdds converts a probability to log-odds: ln(p/(1-p)).
// The input is clamped to the probability bounds first so the result is
// always finite.
func ProbToLogOdds(p float64) float64 {
	clamped := ClampProbability(p)
	return math.Log(clamped / (1.0 - clamped))
}

// LogOddsToProb converts log-odds to a probability via the sigmoid, clamped
// to the probability bounds.
func LogOddsToProb(logOdds float64) float64 {
	return ClampProbability(1.0 / (1.0 + math.Exp(-logOdds)))
}

// ClampProbability bounds a probability to [MinProbability, MaxProbability].
func ClampProbability(p float64) float64 {
	if p < MinProbability {
		return MinProbability
	}
	if p > MaxProbability {
		return MaxProbability
	}
	return p
}

// ClampDelta bounds one evidence delta to [-maxDelta, +maxDelta].
func ClampDelta(delta, maxDelta float64) float64 {
	if delta > maxDelta {
		return maxDelta
	}
	if delta < -maxDelta {
		return -maxDelta
	}
	return delta
}

// TemporalDecay returns 0.5^(ageDays/halfLifeDays). Non-positive half-lives
// disable decay (factor 1); negative ages are treated as zero.
func TemporalDecay(ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1.0
	}
	if ageDays <= 0 {
		return 1.0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}
