// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
)

// degradeRetrySeconds is how long the cache bypasses Redis after a backend
// failure before probing again.
const degradeRetrySeconds = 30

// SemanticCache is the cross-worker cache for LLM JSON outputs, keyed by
// stage, model, prompt hash, and payload hash. Entries live under a TTL and
// a per-stage sorted-set index trims the cache to max_entries by recency.
//
// The cache degrades gracefully: when Redis errors, lookups miss and writes
// drop for a short window instead of failing the pipeline.
type SemanticCache struct {
	client     *Client
	enabled    bool
	ttl        time.Duration
	maxEntries int
	prefix     string

	unavailableUntil atomic.Int64 // unix seconds
	now              func() time.Time
}

// NewSemanticCache builds the cache from configuration.
func NewSemanticCache(client *Client, cfg config.LLMConfig) *SemanticCache {
	prefix := strings.TrimSpace(cfg.SemanticCachePrefix)
	if prefix == "" {
		prefix = "horadus:llm_semantic_cache"
	}
	ttl := cfg.SemanticCacheTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	maxEntries := cfg.SemanticCacheMaxEntries
	if maxEntries < 1 {
		maxEntries = 5000
	}
	return &SemanticCache{
		client:     client,
		enabled:    cfg.SemanticCacheEnabled && client != nil,
		ttl:        ttl,
		maxEntries: maxEntries,
		prefix:     prefix,
		now:        time.Now,
	}
}

// BuildCacheKey derives the deterministic cache key:
// <prefix>:<stage>:v1:<model>:<sha256(prompt)>:<sha256(payload)>.
func BuildCacheKey(prefix, stage, model, promptTemplate string, payload any) string {
	promptHash := sha256Hex(strings.TrimSpace(promptTemplate))
	payloadHash := sha256Hex(canonicalPayload(payload))
	return prefix + ":" + stage + ":v1:" + strings.TrimSpace(model) + ":" + promptHash + ":" + payloadHash
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func canonicalPayload(payload any) string {
	// goccy/go-json serializes map keys sorted, matching the canonical
	// serialization the cache key depends on.
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Get returns a cached response for the request shape, if present.
func (c *SemanticCache) Get(ctx context.Context, stage, model, promptTemplate string, payload any) (string, bool) {
	if !c.enabled || c.degraded() {
		return "", false
	}

	key := BuildCacheKey(c.prefix, stage, model, promptTemplate, payload)
	value, err := c.client.rdb.Get(ctx, key).Result()
	if err != nil || strings.TrimSpace(value) == "" {
		if err != nil && !errors.Is(err, redis.Nil) {
			c.degrade(stage, "lookup")
		}
		metrics.RecordSemanticCacheLookup(stage, "miss")
		return "", false
	}
	metrics.RecordSemanticCacheLookup(stage, "hit")
	return value, true
}

// Set stores a response and trims the per-stage index to max_entries,
// evicting the oldest keys.
func (c *SemanticCache) Set(ctx context.Context, stage, model, promptTemplate string, payload any, value string) {
	if !c.enabled || c.degraded() {
		return
	}

	key := BuildCacheKey(c.prefix, stage, model, promptTemplate, payload)
	indexKey := c.prefix + ":index:" + stage
	now := float64(c.now().Unix())

	pipe := c.client.rdb.TxPipeline()
	pipe.SetEx(ctx, key, value, c.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: now, Member: key})
	pipe.Expire(ctx, indexKey, 2*c.ttl)
	cardCmd := pipe.ZCard(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		c.degrade(stage, "write")
		return
	}

	overflow := int(cardCmd.Val()) - c.maxEntries
	if overflow <= 0 {
		return
	}

	evicted, err := c.client.rdb.ZRange(ctx, indexKey, 0, int64(overflow-1)).Result()
	if err != nil || len(evicted) == 0 {
		return
	}
	evictPipe := c.client.rdb.TxPipeline()
	evictPipe.ZRem(ctx, indexKey, toAny(evicted)...)
	evictPipe.Del(ctx, evicted...)
	_, _ = evictPipe.Exec(ctx)
}

func (c *SemanticCache) degraded() bool {
	return c.now().Unix() < c.unavailableUntil.Load()
}

func (c *SemanticCache) degrade(stage, op string) {
	c.unavailableUntil.Store(c.now().Unix() + degradeRetrySeconds)
	logging.Warn().
		Str("stage", stage).
		Str("operation", op).
		Int("retry_after_seconds", degradeRetrySeconds).
		Msg("Semantic cache backend unavailable; bypassing")
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
