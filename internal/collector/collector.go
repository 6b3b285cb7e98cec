// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package collector defines the interface concrete feed adapters implement
// and the shared plumbing around them: content hashing, ingestion-window
// watermark advancement with overlap, per-source error accounting, and
// source freshness checks. Collection failures are not classified as
// transient or terminal: every failure is accounted the same way.
//
// Wire adapters (RSS, GDELT, Telegram) live outside the core; they plug in
// through the registry by source type.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/dedup"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
	"github.com/s5unanow/horadus/internal/models"
)

// Result summarizes one collection pass over one source.
type Result struct {
	SourceID     uuid.UUID `json:"source_id"`
	Collector    string    `json:"collector"`
	ItemsFetched int       `json:"items_fetched"`
	ItemsStored  int       `json:"items_stored"`
	ItemsSkipped int       `json:"items_skipped"`
	Errors       []string  `json:"errors"`
}

// Collector is the adapter contract. Implementations hold their own HTTP
// and parsing state; configuration arrives per source.
type Collector interface {
	// Type names the source family this collector serves.
	Type() models.SourceType

	// LoadConfig validates and absorbs the source's config blob.
	LoadConfig(source *models.Source) error

	// CollectOne fetches one source's current window and stores new items.
	CollectOne(ctx context.Context, source *models.Source) (*Result, error)
}

// Registry maps source types to their collectors.
type Registry struct {
	collectors map[models.SourceType]Collector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[models.SourceType]Collector)}
}

// Register adds a collector for its source type.
func (r *Registry) Register(c Collector) {
	r.collectors[c.Type()] = c
}

// For returns the collector for a source type, if registered.
func (r *Registry) For(sourceType models.SourceType) (Collector, bool) {
	c, ok := r.collectors[sourceType]
	return c, ok
}

// SourceStore is the persistence surface collection plumbing needs.
type SourceStore interface {
	ListActiveSources(ctx context.Context, sourceType *models.SourceType) ([]models.Source, error)
	AdvanceSourceWindow(ctx context.Context, id uuid.UUID, windowEnd, fetchedAt time.Time) error
	RecordSourceError(ctx context.Context, id uuid.UUID, message string) error
	ListStaleSources(ctx context.Context, before time.Time) ([]models.Source, error)
}

// Runner drives registered collectors across active sources.
type Runner struct {
	registry      *Registry
	store         SourceStore
	windowOverlap time.Duration
	now           func() time.Time
}

// NewRunner creates the collection runner.
func NewRunner(registry *Registry, store SourceStore, windowOverlap time.Duration) *Runner {
	return &Runner{registry: registry, store: store, windowOverlap: windowOverlap, now: time.Now}
}

// CollectAll runs every active source of the given type through its
// collector. Every failure (config loading or collection) increments the
// source's error counter, records the message as the last error, and leaves
// the ingestion watermark in place; successes advance the watermark with the
// configured overlap.
func (r *Runner) CollectAll(ctx context.Context, sourceType models.SourceType) ([]Result, error) {
	c, ok := r.registry.For(sourceType)
	if !ok {
		return nil, fmt.Errorf("collector: no adapter registered for %q", sourceType)
	}

	sources, err := r.store.ListActiveSources(ctx, &sourceType)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	results := make([]Result, 0, len(sources))
	for i := range sources {
		source := &sources[i]
		result := r.collectOne(ctx, c, source)
		results = append(results, *result)
		metrics.RecordCollectorMetrics(string(sourceType),
			result.ItemsFetched, result.ItemsStored, result.ItemsSkipped, len(result.Errors))
	}
	return results, nil
}

func (r *Runner) collectOne(ctx context.Context, c Collector, source *models.Source) *Result {
	if err := c.LoadConfig(source); err != nil {
		message := fmt.Sprintf("config: %v", err)
		_ = r.store.RecordSourceError(ctx, source.ID, message)
		return &Result{SourceID: source.ID, Collector: string(c.Type()), Errors: []string{message}}
	}

	result, err := c.CollectOne(ctx, source)
	if err != nil {
		message := err.Error()
		if len(message) > 500 {
			message = message[:500]
		}
		_ = r.store.RecordSourceError(ctx, source.ID, message)
		logging.Ctx(ctx).Warn().Err(err).
			Str("source_id", source.ID.String()).
			Str("collector", string(c.Type())).
			Msg("Collection failed for source")
		return &Result{SourceID: source.ID, Collector: string(c.Type()), Errors: []string{message}}
	}

	now := r.now().UTC()
	windowEnd := now.Add(-r.windowOverlap)
	if err := r.store.AdvanceSourceWindow(ctx, source.ID, windowEnd, now); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("source_id", source.ID.String()).
			Msg("Watermark advance failed")
	}
	return result
}

// CheckFreshness flags active sources whose last successful fetch predates
// the threshold and returns them for catch-up dispatch.
func (r *Runner) CheckFreshness(ctx context.Context, threshold time.Duration) ([]models.Source, error) {
	stale, err := r.store.ListStaleSources(ctx, r.now().UTC().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("listing stale sources: %w", err)
	}
	for i := range stale {
		metrics.SourceFreshnessStaleTotal.WithLabelValues(string(stale[i].Type)).Inc()
	}
	return stale, nil
}

// HashContent returns the content hash collectors must stamp on raw items:
// hex sha256 of the normalized raw text.
func HashContent(content string) string {
	return dedup.ComputeContentHash(content)
}
