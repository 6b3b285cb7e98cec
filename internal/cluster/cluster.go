// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package cluster assigns classified raw items to events: vector
// nearest-neighbor within a time window and matching embedding model, or a
// new event when nothing matches. It also owns the event lifecycle state
// machine.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/database"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
	"github.com/s5unanow/horadus/internal/models"
)

// summaryMaxChars caps content-derived canonical summaries.
const summaryMaxChars = 400

// Store is the persistence surface the clusterer needs.
type Store interface {
	EventIDForItem(ctx context.Context, itemID uuid.UUID) (*uuid.UUID, error)
	FindNearestEvent(ctx context.Context, vec pgvector.Vector, embeddingModel string, windowStart time.Time, maxDistance float64) (*models.Event, float64, error)
	InsertEvent(ctx context.Context, ev *models.Event) error
	UpdateEvent(ctx context.Context, ev *models.Event) error
	LinkEventItem(ctx context.Context, eventID, itemID uuid.UUID) error
	CountUniqueEventSources(ctx context.Context, eventID uuid.UUID) (int, error)
	EffectiveItemCredibility(ctx context.Context, itemID uuid.UUID) (float64, error)
	LatestSuppressionAction(ctx context.Context, eventID uuid.UUID) (models.FeedbackAction, error)
	TransitionEventLifecycles(ctx context.Context, fadingBefore, archiveBefore time.Time) (int, int, error)
	ListUnlinkedItems(ctx context.Context, limit int) ([]models.RawItem, error)
}

// Result describes how one item was clustered.
type Result struct {
	ItemID     uuid.UUID
	EventID    uuid.UUID
	Created    bool
	Merged     bool
	Suppressed bool
	Similarity *float64
}

// Clusterer groups raw items into events.
type Clusterer struct {
	store               Store
	similarityThreshold float64
	timeWindow          time.Duration
	now                 func() time.Time
}

// Option configures a Clusterer.
type Option func(*Clusterer)

// WithClock overrides the wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Clusterer) { c.now = now }
}

// New creates a clusterer.
func New(store Store, similarityThreshold float64, timeWindowHours int, opts ...Option) *Clusterer {
	if timeWindowHours < 1 {
		timeWindowHours = 48
	}
	c := &Clusterer{
		store:               store,
		similarityThreshold: similarityThreshold,
		timeWindow:          time.Duration(timeWindowHours) * time.Hour,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClusterItem assigns one raw item to an existing or new event.
//
// Already-linked items resolve to their existing event. Items without an
// embedding or embedding model become singleton events. A candidate match
// under active suppression is not merged into. A lost linkage race resolves
// by re-reading the winning link.
func (c *Clusterer) ClusterItem(ctx context.Context, item *models.RawItem) (*Result, error) {
	if item.ID == uuid.Nil {
		return nil, errors.New("cluster: item must have an id")
	}

	existing, err := c.store.EventIDForItem(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("checking existing linkage: %w", err)
	}
	if existing != nil {
		return &Result{ItemID: item.ID, EventID: *existing, Merged: true}, nil
	}

	embeddingModel := ""
	if item.EmbeddingModel != nil {
		embeddingModel = strings.TrimSpace(*item.EmbeddingModel)
	}
	if item.Embedding == nil || embeddingModel == "" {
		return c.createEventFor(ctx, item)
	}

	windowStart := item.Timestamp().Add(-c.timeWindow)
	maxDistance := 1.0 - c.similarityThreshold
	matched, distance, err := c.store.FindNearestEvent(ctx, *item.Embedding, embeddingModel, windowStart, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("nearest-event lookup: %w", err)
	}
	if matched == nil {
		return c.createEventFor(ctx, item)
	}
	similarity := 1.0 - distance

	suppression, err := c.store.LatestSuppressionAction(ctx, matched.ID)
	if err != nil {
		return nil, fmt.Errorf("checking suppression: %w", err)
	}
	if suppression.Suppresses() {
		metrics.RecordEventSuppression(string(suppression), "clusterer_pre_merge")
		logging.Ctx(ctx).Info().
			Str("event_id", matched.ID.String()).
			Str("item_id", item.ID.String()).
			Str("action", string(suppression)).
			Msg("Skipping suppressed event before merge")
		return &Result{ItemID: item.ID, EventID: matched.ID, Suppressed: true, Similarity: &similarity}, nil
	}

	if err := c.store.LinkEventItem(ctx, matched.ID, item.ID); err != nil {
		if !errors.Is(err, database.ErrUniqueViolation) {
			return nil, fmt.Errorf("linking item to event: %w", err)
		}
		// Lost the race: another worker linked this item first.
		winner, rerr := c.store.EventIDForItem(ctx, item.ID)
		if rerr != nil {
			return nil, fmt.Errorf("resolving linkage race: %w", rerr)
		}
		if winner != nil && *winner != matched.ID {
			logging.Ctx(ctx).Info().
				Str("item_id", item.ID.String()).
				Str("requested_event_id", matched.ID.String()).
				Str("existing_event_id", winner.String()).
				Msg("Item already linked to a different event; using existing linkage")
			return &Result{ItemID: item.ID, EventID: *winner, Merged: true, Similarity: &similarity}, nil
		}
		return &Result{ItemID: item.ID, EventID: matched.ID, Merged: true, Similarity: &similarity}, nil
	}

	if err := c.mergeIntoEvent(ctx, matched, item); err != nil {
		return nil, err
	}
	return &Result{ItemID: item.ID, EventID: matched.ID, Merged: true, Similarity: &similarity}, nil
}

func (c *Clusterer) createEventFor(ctx context.Context, item *models.RawItem) (*Result, error) {
	timestamp := item.Timestamp()
	primaryID := item.ID
	event := &models.Event{
		CanonicalSummary:     canonicalSummary(item),
		Embedding:            item.Embedding,
		EmbeddingModel:       item.EmbeddingModel,
		EmbeddingGeneratedAt: item.EmbeddingGeneratedAt,
		SourceCount:          1,
		UniqueSourceCount:    1,
		FirstSeenAt:          timestamp,
		LastMentionAt:        timestamp,
		LifecycleStatus:      models.LifecycleEmerging,
		PrimaryItemID:        &primaryID,
	}
	if err := c.store.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("creating event: %w", err)
	}

	if err := c.store.LinkEventItem(ctx, event.ID, item.ID); err != nil {
		if errors.Is(err, database.ErrUniqueViolation) {
			winner, rerr := c.store.EventIDForItem(ctx, item.ID)
			if rerr == nil && winner != nil {
				return &Result{ItemID: item.ID, EventID: *winner, Merged: true}, nil
			}
		}
		return nil, fmt.Errorf("linking item to new event: %w", err)
	}
	return &Result{ItemID: item.ID, EventID: event.ID, Created: true}, nil
}

// mergeIntoEvent updates the event's merge metadata: counts, canonical
// summary, mention time, embedding lineage inheritance, primary-item
// credibility contest, and the lifecycle transition.
func (c *Clusterer) mergeIntoEvent(ctx context.Context, event *models.Event, item *models.RawItem) error {
	event.SourceCount++
	event.CanonicalSummary = canonicalSummary(item)
	mentionTime := item.Timestamp()

	if event.Embedding == nil && item.Embedding != nil {
		event.Embedding = item.Embedding
		event.EmbeddingModel = item.EmbeddingModel
		event.EmbeddingGeneratedAt = item.EmbeddingGeneratedAt
	}

	if err := c.updatePrimaryItem(ctx, event, item.ID); err != nil {
		return err
	}

	uniqueSources, err := c.store.CountUniqueEventSources(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("counting unique sources: %w", err)
	}
	if uniqueSources == 0 {
		uniqueSources = 1
	}
	event.UniqueSourceCount = uniqueSources

	OnEventMention(event, mentionTime)

	if err := c.store.UpdateEvent(ctx, event); err != nil {
		return fmt.Errorf("persisting merge: %w", err)
	}
	return nil
}

func (c *Clusterer) updatePrimaryItem(ctx context.Context, event *models.Event, candidateID uuid.UUID) error {
	if event.PrimaryItemID == nil {
		event.PrimaryItemID = &candidateID
		return nil
	}

	candidateCred, err := c.store.EffectiveItemCredibility(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("candidate credibility: %w", err)
	}
	currentCred, err := c.store.EffectiveItemCredibility(ctx, *event.PrimaryItemID)
	if err != nil {
		return fmt.Errorf("current primary credibility: %w", err)
	}
	if candidateCred > currentCred {
		event.PrimaryItemID = &candidateID
	}
	return nil
}

// ClusterUnlinkedItems backfills event linkage for items that never made it
// into an event (crashed runs, partial migrations). Each item goes through
// the same assignment path as live processing; a failing item is skipped so
// one bad row cannot stall the sweep.
func (c *Clusterer) ClusterUnlinkedItems(ctx context.Context, limit int) ([]Result, error) {
	items, err := c.store.ListUnlinkedItems(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unlinked items: %w", err)
	}

	results := make([]Result, 0, len(items))
	created, merged := 0, 0
	for i := range items {
		result, err := c.ClusterItem(ctx, &items[i])
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("item_id", items[i].ID.String()).
				Msg("Backfill clustering failed for item")
			continue
		}
		results = append(results, *result)
		if result.Created {
			created++
		}
		if result.Merged {
			merged++
		}
	}
	if len(results) > 0 {
		logging.Ctx(ctx).Info().
			Int("scanned", len(items)).
			Int("events_created", created).
			Int("events_merged", merged).
			Msg("Unlinked item backfill completed")
	}
	return results, nil
}

// RunLifecycleCheck applies the periodic decay transitions in bulk and
// returns (faded, archived) counts.
func (c *Clusterer) RunLifecycleCheck(ctx context.Context) (int, int, error) {
	asOf := c.now().UTC()
	faded, archived, err := c.store.TransitionEventLifecycles(ctx,
		asOf.Add(-FadingAfter), asOf.Add(-ArchiveAfter))
	if err != nil {
		return 0, 0, fmt.Errorf("lifecycle transitions: %w", err)
	}
	if faded > 0 || archived > 0 {
		logging.Ctx(ctx).Info().
			Int("confirmed_to_fading", faded).
			Int("fading_to_archived", archived).
			Msg("Event lifecycle check completed")
	}
	return faded, archived, nil
}

func canonicalSummary(item *models.RawItem) string {
	if item.Title != nil {
		if title := strings.TrimSpace(*item.Title); title != "" {
			return title
		}
	}
	content := strings.TrimSpace(item.RawContent)
	if len(content) > summaryMaxChars {
		return content[:summaryMaxChars]
	}
	return content
}
