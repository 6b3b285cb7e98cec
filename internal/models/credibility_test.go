// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package models

import (
	"math"
	"testing"
)

func TestEffectiveCredibility(t *testing.T) {
	tests := []struct {
		name      string
		base      float64
		tier      SourceTier
		reporting ReportingType
		want      float64
	}{
		{"primary firsthand keeps base", 0.9, TierPrimary, ReportingFirsthand, 0.9},
		{"wire secondary stacks multipliers", 1.0, TierWire, ReportingSecondary, 0.665},
		{"aggregator aggregator heavily discounted", 1.0, TierAggregator, ReportingAggregator, 0.2},
		{"unknown tier defaults to 1.0", 0.8, SourceTier("blog"), ReportingFirsthand, 0.8},
		{"unknown reporting defaults to 1.0", 0.8, TierMajor, ReportingType("rumor"), 0.68},
		{"negative base clamps to zero", -0.5, TierPrimary, ReportingFirsthand, 0.0},
		{"overflow clamps to one", 1.5, TierPrimary, ReportingFirsthand, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveCredibility(tt.base, tt.tier, tt.reporting)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EffectiveCredibility(%v, %q, %q) = %v, want %v",
					tt.base, tt.tier, tt.reporting, got, tt.want)
			}
		})
	}
}

func TestDirectionMultiplier(t *testing.T) {
	if got := DirectionEscalatory.Multiplier(); got != 1.0 {
		t.Errorf("escalatory multiplier = %v, want 1.0", got)
	}
	if got := DirectionDeEscalatory.Multiplier(); got != -1.0 {
		t.Errorf("de_escalatory multiplier = %v, want -1.0", got)
	}
}

func TestOutcomeActualValue(t *testing.T) {
	tests := []struct {
		outcome OutcomeType
		want    float64
		ok      bool
	}{
		{OutcomeOccurred, 1.0, true},
		{OutcomeDidNotOccur, 0.0, true},
		{OutcomePartial, 0.5, true},
		{OutcomeOngoing, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.outcome.ActualValue()
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s.ActualValue() = (%v, %v), want (%v, %v)", tt.outcome, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTrendIdentifier(t *testing.T) {
	tr := &Trend{Definition: map[string]any{"id": "eu-russia"}}
	if got := tr.Identifier(); got != "eu-russia" {
		t.Errorf("Identifier() = %q, want eu-russia", got)
	}

	tr2 := &Trend{}
	if got := tr2.Identifier(); got != tr2.ID.String() {
		t.Errorf("Identifier() = %q, want uuid fallback", got)
	}
}
