// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package metrics provides Prometheus instrumentation for the ingest and
// probability pipeline: collector intake, LLM calls and spend, budget
// enforcement, semantic cache efficiency, event suppressions, taxonomy gaps,
// and calibration drift.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	IngestionItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_items_total",
			Help: "Ingestion item counts by collector and status.",
		},
		[]string{"collector", "status"},
	)

	// LLM invocation metrics
	LLMAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_api_calls_total",
			Help: "LLM API call counts by stage.",
		},
		[]string{"stage"},
	)

	LLMEstimatedCostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_estimated_cost_usd_total",
			Help: "Estimated LLM cost in USD by stage.",
		},
		[]string{"stage"},
	)

	LLMBudgetDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_budget_denials_total",
			Help: "Budget enforcement denials by tier and reason.",
		},
		[]string{"tier", "reason"},
	)

	LLMSemanticCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_semantic_cache_lookups_total",
			Help: "LLM semantic cache lookups by stage and result.",
		},
		[]string{"stage", "result"},
	)

	LLMFailoverActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_failover_activations_total",
			Help: "Failover route activations by stage and reason.",
		},
		[]string{"stage", "reason"},
	)

	// Processing metrics
	ProcessingBacklogDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "processing_backlog_depth",
			Help: "Current pending raw-item backlog depth observed during dispatch planning.",
		},
	)

	ProcessingDispatchDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_dispatch_decisions_total",
			Help: "Processing dispatch decisions by outcome and reason.",
		},
		[]string{"decision", "reason"},
	)

	ProcessingReaperResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "processing_reaper_resets_total",
			Help: "Count of raw items reset from processing to pending by the stale-item reaper.",
		},
	)

	ProcessingEventSuppressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_event_suppressions_total",
			Help: "Event suppressions applied during processing by action and stage.",
		},
		[]string{"action", "stage"},
	)

	ProcessingCorroborationPathTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_corroboration_path_total",
			Help: "Corroboration scoring path usage by mode and reason.",
		},
		[]string{"mode", "reason"},
	)

	ProcessingIngestedLanguageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_ingested_language_total",
			Help: "Processed raw-item intake counts segmented by language code.",
		},
		[]string{"language"},
	)

	ProcessingTier1LanguageOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_tier1_language_outcome_total",
			Help: "Tier-1 routing outcomes segmented by language code.",
		},
		[]string{"language", "outcome"},
	)

	// Taxonomy metrics
	TaxonomyGapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxonomy_gaps_total",
			Help: "Captured taxonomy-gap records by reason.",
		},
		[]string{"reason"},
	)

	TaxonomyGapSignalKeysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxonomy_gap_signal_keys_total",
			Help: "Unknown signal-type taxonomy gaps by trend_id and signal_type.",
		},
		[]string{"trend_id", "signal_type"},
	)

	// Calibration metrics
	CalibrationDriftAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_drift_alerts_total",
			Help: "Calibration drift alerts by alert type and severity.",
		},
		[]string{"alert_type", "severity"},
	)

	// Source freshness metrics
	SourceFreshnessStaleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_freshness_stale_total",
			Help: "Stale source detections by collector type.",
		},
		[]string{"collector"},
	)

	SourceCatchupDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_catchup_dispatch_total",
			Help: "Catch-up collector dispatches triggered by freshness checks.",
		},
		[]string{"collector"},
	)

	// Worker metrics
	WorkerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_errors_total",
			Help: "Worker task failures by task name.",
		},
		[]string{"task_name"},
	)

	WorkerDeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_dead_letters_total",
			Help: "Dead-letter payloads pushed after retry exhaustion by task name.",
		},
		[]string{"task_name"},
	)
)

// RecordCollectorMetrics records one collector run's intake counters.
func RecordCollectorMetrics(collector string, fetched, stored, skipped, errors int) {
	IngestionItemsTotal.WithLabelValues(collector, "fetched").Add(nonNegative(fetched))
	IngestionItemsTotal.WithLabelValues(collector, "stored").Add(nonNegative(stored))
	IngestionItemsTotal.WithLabelValues(collector, "skipped").Add(nonNegative(skipped))
	IngestionItemsTotal.WithLabelValues(collector, "errors").Add(nonNegative(errors))
}

// RecordLLMCall records one LLM API call and its estimated cost for a stage.
func RecordLLMCall(stage string, estimatedCostUSD float64) {
	LLMAPICallsTotal.WithLabelValues(stage).Inc()
	if estimatedCostUSD > 0 {
		LLMEstimatedCostUSDTotal.WithLabelValues(stage).Add(estimatedCostUSD)
	}
}

// RecordBudgetDenial records one budget enforcement denial.
func RecordBudgetDenial(tier, reason string) {
	LLMBudgetDenialsTotal.WithLabelValues(tier, normalize(reason)).Inc()
}

// RecordSemanticCacheLookup records one semantic cache hit or miss.
func RecordSemanticCacheLookup(stage, result string) {
	LLMSemanticCacheLookupsTotal.WithLabelValues(stage, result).Inc()
}

// RecordEventSuppression records one suppressed merge or classification.
func RecordEventSuppression(action, stage string) {
	ProcessingEventSuppressionsTotal.WithLabelValues(normalize(action), normalize(stage)).Inc()
}

// RecordCorroborationPath records which corroboration formula served a score.
func RecordCorroborationPath(mode, reason string) {
	ProcessingCorroborationPathTotal.WithLabelValues(normalize(mode), normalize(reason)).Inc()
}

// RecordTaxonomyGap records one unknown-identifier audit entry.
func RecordTaxonomyGap(reason, trendID, signalType string) {
	normalized := normalize(reason)
	TaxonomyGapsTotal.WithLabelValues(normalized).Inc()
	if normalized == "unknown_signal_type" {
		TaxonomyGapSignalKeysTotal.WithLabelValues(normalize(trendID), normalize(signalType)).Inc()
	}
}

// RecordDriftAlert records one calibration drift alert emission.
func RecordDriftAlert(alertType, severity string) {
	CalibrationDriftAlertsTotal.WithLabelValues(alertType, severity).Inc()
}

func normalize(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func nonNegative(v int) float64 {
	if v < 0 {
		return 0
	}
	return float64(v)
}
