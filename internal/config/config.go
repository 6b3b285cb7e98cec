// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package config loads and validates Horadus configuration.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, an optional YAML config file, and
// built-in defaults. Secrets may be supplied indirectly: any recognized
// environment variable with a _FILE suffix is read from the named file.
package config

import (
	"time"
)

// Config is the root configuration for the Horadus service.
type Config struct {
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Server      ServerConfig      `koanf:"server"`
	Security    SecurityConfig    `koanf:"security"`
	LLM         LLMConfig         `koanf:"llm"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	Processing  ProcessingConfig  `koanf:"processing"`
	Trend       TrendConfig       `koanf:"trend"`
	Cost        CostConfig        `koanf:"cost"`
	Collection  CollectionConfig  `koanf:"collection"`
	Calibration CalibrationConfig `koanf:"calibration"`
	Workers     WorkersConfig     `koanf:"workers"`
	Logging     LoggingConfig     `koanf:"logging"`
	Environment string            `koanf:"environment"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL              string        `koanf:"url"`
	MaxConns         int32         `koanf:"max_conns"`
	MinConns         int32         `koanf:"min_conns"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	StatementTimeout time.Duration `koanf:"statement_timeout"`
}

// RedisConfig configures the shared key-value store.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecurityConfig configures API authentication and abuse protection.
type SecurityConfig struct {
	SecretKey        string        `koanf:"secret_key"`
	AuthRequired     bool          `koanf:"auth_required"`
	AdminAPIKey      string        `koanf:"admin_api_key"`
	BootstrapAPIKeys []string      `koanf:"bootstrap_api_keys"`
	KeyStorePath     string        `koanf:"key_store_path"`
	RateLimitReqs    int           `koanf:"rate_limit_reqs"`
	RateLimitWindow  time.Duration `koanf:"rate_limit_window"`
	CORSOrigins      []string      `koanf:"cors_origins"`
}

// LLMRouteConfig is one provider/model route.
type LLMRouteConfig struct {
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
	Model    string `koanf:"model"`
	APIMode  string `koanf:"api_mode"` // chat_completions or responses
}

// LLMConfig configures the two classification tiers and invocation policy.
type LLMConfig struct {
	Tier1Primary   LLMRouteConfig `koanf:"tier1_primary"`
	Tier1Secondary LLMRouteConfig `koanf:"tier1_secondary"`
	Tier2Primary   LLMRouteConfig `koanf:"tier2_primary"`
	Tier2Secondary LLMRouteConfig `koanf:"tier2_secondary"`

	Tier1BatchSize   int           `koanf:"tier1_batch_size"`
	Tier1RPM         int           `koanf:"tier1_rpm"`
	Tier2RPM         int           `koanf:"tier2_rpm"`
	RouteTimeout     time.Duration `koanf:"route_timeout"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	RetryBackoff     time.Duration `koanf:"retry_backoff"`
	MaxPayloadTokens int           `koanf:"max_payload_tokens"`
	CharsPerToken    int           `koanf:"chars_per_token"`

	SemanticCacheEnabled    bool          `koanf:"semantic_cache_enabled"`
	SemanticCacheTTL        time.Duration `koanf:"semantic_cache_ttl"`
	SemanticCacheMaxEntries int           `koanf:"semantic_cache_max_entries"`
	SemanticCachePrefix     string        `koanf:"semantic_cache_prefix"`
}

// EmbeddingConfig configures vector generation.
type EmbeddingConfig struct {
	APIKey       string `koanf:"api_key"`
	BaseURL      string `koanf:"base_url"`
	Model        string `koanf:"model"`
	Dimensions   int    `koanf:"dimensions"`
	BatchSize    int    `koanf:"batch_size"`
	CacheMaxSize int    `koanf:"cache_max_size"`
}

// ProcessingConfig tunes the dedup/cluster/tier-1 stages.
type ProcessingConfig struct {
	Tier1RelevanceThreshold    int      `koanf:"tier1_relevance_threshold"`
	DedupSimilarityThreshold   float64  `koanf:"dedup_similarity_threshold"`
	DedupWindowDays            int      `koanf:"dedup_window_days"`
	URLQueryMode               string   `koanf:"url_query_mode"` // strip_all or keep_non_tracking
	ClusterSimilarityThreshold float64  `koanf:"cluster_similarity_threshold"`
	ClusterTimeWindowHours     int      `koanf:"cluster_time_window_hours"`
	SupportedLanguages         []string `koanf:"supported_languages"`
	UnsupportedLanguageMode    string   `koanf:"unsupported_language_mode"` // skip or defer
}

// TrendConfig tunes the probability engine.
type TrendConfig struct {
	DefaultDecayHalfLifeDays float64       `koanf:"default_decay_half_life_days"`
	SnapshotInterval         time.Duration `koanf:"snapshot_interval"`
	MaxDeltaPerEvent         float64       `koanf:"max_delta_per_event"`
}

// CostConfig is the daily budget kill switch.
type CostConfig struct {
	Tier1MaxDailyCalls     int64   `koanf:"tier1_max_daily_calls"`
	Tier2MaxDailyCalls     int64   `koanf:"tier2_max_daily_calls"`
	EmbeddingMaxDailyCalls int64   `koanf:"embedding_max_daily_calls"`
	DailyCostLimitUSD      float64 `koanf:"daily_cost_limit_usd"`
	AlertThresholdPct      int     `koanf:"alert_threshold_pct"`
}

// CollectionConfig schedules collectors and freshness checks.
type CollectionConfig struct {
	RSSInterval        time.Duration `koanf:"rss_interval"`
	GDELTInterval      time.Duration `koanf:"gdelt_interval"`
	MaxItemsPerRun     int           `koanf:"max_items_per_run"`
	WindowOverlap      time.Duration `koanf:"window_overlap"`
	FreshnessThreshold time.Duration `koanf:"freshness_threshold"`
	EnableRSS          bool          `koanf:"enable_rss"`
	EnableGDELT        bool          `koanf:"enable_gdelt"`
	EnableTelegram     bool          `koanf:"enable_telegram"`
}

// CalibrationConfig tunes drift alerting and webhook delivery.
type CalibrationConfig struct {
	DriftMinResolvedOutcomes     int           `koanf:"drift_min_resolved_outcomes"`
	BrierWarnThreshold           float64       `koanf:"brier_warn_threshold"`
	BrierCriticalThreshold       float64       `koanf:"brier_critical_threshold"`
	BucketErrorWarnThreshold     float64       `koanf:"bucket_error_warn_threshold"`
	BucketErrorCriticalThreshold float64       `koanf:"bucket_error_critical_threshold"`
	WebhookURL                   string        `koanf:"webhook_url"`
	WebhookTimeout               time.Duration `koanf:"webhook_timeout"`
	WebhookMaxRetries            int           `koanf:"webhook_max_retries"`
	WebhookBackoff               time.Duration `koanf:"webhook_backoff"`
}

// WorkersConfig configures the supervised worker runtime.
type WorkersConfig struct {
	QueueConcurrency         int           `koanf:"queue_concurrency"`
	ProcessingBatchSize      int           `koanf:"processing_batch_size"`
	ProcessingInterval       time.Duration `koanf:"processing_interval"`
	LifecycleInterval        time.Duration `koanf:"lifecycle_interval"`
	DecayInterval            time.Duration `koanf:"decay_interval"`
	ReaperInterval           time.Duration `koanf:"reaper_interval"`
	StaleProcessingThreshold time.Duration `koanf:"stale_processing_threshold"`
	TaskMaxRetries           int           `koanf:"task_max_retries"`
	TaskRetryBackoff         time.Duration `koanf:"task_retry_backoff"`
	HeartbeatInterval        time.Duration `koanf:"heartbeat_interval"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether production guardrails apply.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == ""
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseConfig{
			URL:              "postgres://postgres@localhost:5432/horadus",
			MaxConns:         10,
			MinConns:         2,
			ConnectTimeout:   5 * time.Second,
			StatementTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8000,
			Timeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			SecretKey:       "dev-secret-key-change-in-production",
			AuthRequired:    true,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		LLM: LLMConfig{
			Tier1Primary:            LLMRouteConfig{Provider: "openai", Model: "gpt-4.1-nano", APIMode: "chat_completions"},
			Tier2Primary:            LLMRouteConfig{Provider: "openai", Model: "gpt-4o-mini", APIMode: "chat_completions"},
			Tier1BatchSize:          10,
			Tier1RPM:                500,
			Tier2RPM:                500,
			RouteTimeout:            60 * time.Second,
			RetryAttempts:           2,
			RetryBackoff:            250 * time.Millisecond,
			MaxPayloadTokens:        24000,
			CharsPerToken:           4,
			SemanticCacheEnabled:    true,
			SemanticCacheTTL:        6 * time.Hour,
			SemanticCacheMaxEntries: 5000,
			SemanticCachePrefix:     "horadus:llm_semantic_cache",
		},
		Embedding: EmbeddingConfig{
			Model:        "text-embedding-3-small",
			Dimensions:   1536,
			BatchSize:    32,
			CacheMaxSize: 2048,
		},
		Processing: ProcessingConfig{
			Tier1RelevanceThreshold:    5,
			DedupSimilarityThreshold:   0.92,
			DedupWindowDays:            7,
			URLQueryMode:               "strip_all",
			ClusterSimilarityThreshold: 0.88,
			ClusterTimeWindowHours:     48,
			SupportedLanguages:         []string{"en"},
			UnsupportedLanguageMode:    "skip",
		},
		Trend: TrendConfig{
			DefaultDecayHalfLifeDays: 30,
			SnapshotInterval:         time.Hour,
			MaxDeltaPerEvent:         0.25,
		},
		Cost: CostConfig{
			Tier1MaxDailyCalls:     1000,
			Tier2MaxDailyCalls:     200,
			EmbeddingMaxDailyCalls: 500,
			DailyCostLimitUSD:      5.0,
			AlertThresholdPct:      80,
		},
		Collection: CollectionConfig{
			RSSInterval:        30 * time.Minute,
			GDELTInterval:      time.Hour,
			MaxItemsPerRun:     100,
			WindowOverlap:      5 * time.Minute,
			FreshnessThreshold: 3 * time.Hour,
			EnableRSS:          true,
			EnableGDELT:        true,
			EnableTelegram:     false,
		},
		Calibration: CalibrationConfig{
			DriftMinResolvedOutcomes:     5,
			BrierWarnThreshold:           0.25,
			BrierCriticalThreshold:       0.35,
			BucketErrorWarnThreshold:     0.15,
			BucketErrorCriticalThreshold: 0.25,
			WebhookTimeout:               10 * time.Second,
			WebhookMaxRetries:            3,
			WebhookBackoff:               time.Second,
		},
		Workers: WorkersConfig{
			QueueConcurrency:         4,
			ProcessingBatchSize:      100,
			ProcessingInterval:       time.Minute,
			LifecycleInterval:        15 * time.Minute,
			DecayInterval:            time.Hour,
			ReaperInterval:           10 * time.Minute,
			StaleProcessingThreshold: 30 * time.Minute,
			TaskMaxRetries:           3,
			TaskRetryBackoff:         2 * time.Second,
			HeartbeatInterval:        30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
