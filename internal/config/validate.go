// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package config

import (
	"errors"
	"fmt"
)

const defaultSecretKey = "dev-secret-key-change-in-production"

// minSecretKeyLength is the minimum byte length accepted for SECRET_KEY in
// production. 32 bytes of a reasonably random string clears the entropy bar.
const minSecretKeyLength = 32

// Validate checks ranges and cross-field constraints, including the
// production guardrails: non-default secret of sufficient length, auth
// enabled, admin key configured, and at least one bootstrap key or a
// persisted key store.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Processing.Tier1RelevanceThreshold < 0 || c.Processing.Tier1RelevanceThreshold > 10 {
		errs = append(errs, fmt.Errorf("processing.tier1_relevance_threshold %d out of [0,10]", c.Processing.Tier1RelevanceThreshold))
	}
	if c.Processing.DedupSimilarityThreshold < 0 || c.Processing.DedupSimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("processing.dedup_similarity_threshold %v out of [0,1]", c.Processing.DedupSimilarityThreshold))
	}
	if c.Processing.ClusterSimilarityThreshold < 0 || c.Processing.ClusterSimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("processing.cluster_similarity_threshold %v out of [0,1]", c.Processing.ClusterSimilarityThreshold))
	}
	if c.Processing.ClusterTimeWindowHours < 1 {
		errs = append(errs, errors.New("processing.cluster_time_window_hours must be >= 1"))
	}
	switch c.Processing.URLQueryMode {
	case "strip_all", "keep_non_tracking":
	default:
		errs = append(errs, fmt.Errorf("processing.url_query_mode %q must be strip_all or keep_non_tracking", c.Processing.URLQueryMode))
	}
	switch c.Processing.UnsupportedLanguageMode {
	case "skip", "defer":
	default:
		errs = append(errs, fmt.Errorf("processing.unsupported_language_mode %q must be skip or defer", c.Processing.UnsupportedLanguageMode))
	}
	if c.Embedding.Dimensions < 1 {
		errs = append(errs, errors.New("embedding.dimensions must be >= 1"))
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 2048 {
		errs = append(errs, fmt.Errorf("embedding.batch_size %d out of [1,2048]", c.Embedding.BatchSize))
	}
	if c.LLM.Tier1BatchSize < 1 || c.LLM.Tier1BatchSize > 256 {
		errs = append(errs, fmt.Errorf("llm.tier1_batch_size %d out of [1,256]", c.LLM.Tier1BatchSize))
	}
	if c.LLM.RetryAttempts < 1 {
		errs = append(errs, errors.New("llm.retry_attempts must be >= 1"))
	}
	if c.Trend.DefaultDecayHalfLifeDays <= 0 {
		errs = append(errs, errors.New("trend.default_decay_half_life_days must be > 0"))
	}
	if c.Trend.MaxDeltaPerEvent <= 0 {
		errs = append(errs, errors.New("trend.max_delta_per_event must be > 0"))
	}
	if c.Cost.DailyCostLimitUSD < 0 {
		errs = append(errs, errors.New("cost.daily_cost_limit_usd must be >= 0"))
	}
	if c.Cost.AlertThresholdPct < 0 || c.Cost.AlertThresholdPct > 100 {
		errs = append(errs, fmt.Errorf("cost.alert_threshold_pct %d out of [0,100]", c.Cost.AlertThresholdPct))
	}
	if c.Workers.QueueConcurrency < 1 {
		errs = append(errs, errors.New("workers.queue_concurrency must be >= 1"))
	}

	if c.IsProduction() {
		errs = append(errs, c.validateProductionGuardrails()...)
	}

	return errors.Join(errs...)
}

func (c *Config) validateProductionGuardrails() []error {
	var errs []error

	if c.Security.SecretKey == defaultSecretKey {
		errs = append(errs, errors.New("production requires a non-default security.secret_key"))
	}
	if len(c.Security.SecretKey) < minSecretKeyLength {
		errs = append(errs, fmt.Errorf("production requires security.secret_key of at least %d bytes", minSecretKeyLength))
	}
	if !c.Security.AuthRequired {
		errs = append(errs, errors.New("production requires security.auth_required=true"))
	}
	if c.Security.AdminAPIKey == "" {
		errs = append(errs, errors.New("production requires security.admin_api_key"))
	}
	if len(c.Security.BootstrapAPIKeys) == 0 && c.Security.KeyStorePath == "" {
		errs = append(errs, errors.New("production requires at least one bootstrap API key or a persisted key store"))
	}
	return errs
}
