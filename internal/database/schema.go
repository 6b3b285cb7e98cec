// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package database

// schemaDDL bootstraps the Horadus schema. Statements are idempotent so the
// same DDL runs safely on every start; migration parity is checked against
// schemaVersion at startup.
const schemaVersion = 7

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_meta (
    id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    version INT NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    url TEXT NOT NULL,
    credibility_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    source_tier TEXT NOT NULL DEFAULT 'regional',
    reporting_type TEXT NOT NULL DEFAULT 'secondary',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    last_fetched_at TIMESTAMPTZ,
    ingestion_window_end_at TIMESTAMPTZ,
    error_count INT NOT NULL DEFAULT 0,
    last_error TEXT,
    config JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_items (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    source_id UUID NOT NULL REFERENCES sources(id),
    external_id TEXT,
    url TEXT,
    title TEXT,
    raw_content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    published_at TIMESTAMPTZ,
    language TEXT,
    embedding vector(1536),
    embedding_model TEXT,
    embedding_generated_at TIMESTAMPTZ,
    processing_status TEXT NOT NULL DEFAULT 'PENDING',
    processing_started_at TIMESTAMPTZ,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_raw_items_fetched_at ON raw_items (fetched_at);
CREATE INDEX IF NOT EXISTS idx_raw_items_status ON raw_items (processing_status);
CREATE INDEX IF NOT EXISTS idx_raw_items_content_hash ON raw_items (content_hash);
CREATE INDEX IF NOT EXISTS idx_raw_items_external_id ON raw_items (external_id);
CREATE INDEX IF NOT EXISTS idx_raw_items_url ON raw_items (url);
CREATE INDEX IF NOT EXISTS idx_raw_items_embedding ON raw_items
    USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    canonical_summary TEXT NOT NULL,
    embedding vector(1536),
    embedding_model TEXT,
    embedding_generated_at TIMESTAMPTZ,
    source_count INT NOT NULL DEFAULT 1,
    unique_source_count INT NOT NULL DEFAULT 1,
    first_seen_at TIMESTAMPTZ NOT NULL,
    last_mention_at TIMESTAMPTZ NOT NULL,
    confirmed_at TIMESTAMPTZ,
    lifecycle_status TEXT NOT NULL DEFAULT 'EMERGING',
    primary_item_id UUID,
    extracted_who JSONB,
    extracted_what TEXT,
    extracted_where TEXT,
    extracted_when TIMESTAMPTZ,
    categories JSONB,
    extracted_claims JSONB,
    has_contradictions BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_events_last_mention_at ON events (last_mention_at);
CREATE INDEX IF NOT EXISTS idx_events_lifecycle ON events (lifecycle_status);
CREATE INDEX IF NOT EXISTS idx_events_embedding ON events
    USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS event_items (
    event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    item_id UUID NOT NULL REFERENCES raw_items(id) ON DELETE CASCADE,
    added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (event_id, item_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_event_items_item_unique ON event_items (item_id);

CREATE TABLE IF NOT EXISTS trends (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name TEXT NOT NULL,
    definition JSONB,
    indicators JSONB,
    baseline_log_odds DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_log_odds DOUBLE PRECISION NOT NULL DEFAULT 0,
    decay_half_life_days DOUBLE PRECISION NOT NULL DEFAULT 30,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trend_evidence (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    trend_id UUID NOT NULL REFERENCES trends(id),
    event_id UUID NOT NULL REFERENCES events(id),
    signal_type TEXT NOT NULL,
    delta_log_odds DOUBLE PRECISION NOT NULL,
    factors JSONB NOT NULL,
    reasoning TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_invalidated BOOLEAN NOT NULL DEFAULT FALSE,
    invalidated_at TIMESTAMPTZ,
    invalidation_feedback_id UUID
);

CREATE INDEX IF NOT EXISTS idx_trend_evidence_trend ON trend_evidence (trend_id, created_at);
CREATE INDEX IF NOT EXISTS idx_trend_evidence_event ON trend_evidence (event_id);

CREATE TABLE IF NOT EXISTS trend_snapshots (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    trend_id UUID NOT NULL REFERENCES trends(id),
    ts TIMESTAMPTZ NOT NULL DEFAULT now(),
    log_odds DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trend_snapshots_trend_ts ON trend_snapshots (trend_id, ts);

CREATE TABLE IF NOT EXISTS trend_outcomes (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    trend_id UUID NOT NULL REFERENCES trends(id),
    prediction_date TIMESTAMPTZ NOT NULL,
    predicted_probability DOUBLE PRECISION NOT NULL,
    predicted_risk_level TEXT NOT NULL,
    probability_band_low DOUBLE PRECISION NOT NULL,
    probability_band_high DOUBLE PRECISION NOT NULL,
    outcome_date TIMESTAMPTZ NOT NULL,
    outcome TEXT NOT NULL,
    outcome_notes TEXT,
    outcome_evidence JSONB,
    brier_score DOUBLE PRECISION,
    recorded_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_trend_outcomes_trend ON trend_outcomes (trend_id, prediction_date);

CREATE TABLE IF NOT EXISTS api_usage (
    usage_date DATE NOT NULL,
    tier TEXT NOT NULL,
    call_count BIGINT NOT NULL DEFAULT 0,
    input_tokens BIGINT NOT NULL DEFAULT 0,
    output_tokens BIGINT NOT NULL DEFAULT 0,
    estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (usage_date, tier)
);

CREATE TABLE IF NOT EXISTS human_feedback (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    target_type TEXT NOT NULL,
    target_id UUID NOT NULL,
    action TEXT NOT NULL,
    original_value JSONB,
    corrected_value JSONB,
    notes TEXT,
    created_by TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_human_feedback_target ON human_feedback (target_type, target_id, created_at);

CREATE TABLE IF NOT EXISTS taxonomy_gaps (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    reason TEXT NOT NULL,
    trend_id TEXT NOT NULL,
    signal_type TEXT NOT NULL DEFAULT '',
    event_id UUID,
    payload JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

INSERT INTO schema_meta (id, version) VALUES (1, 7)
ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version;
`
