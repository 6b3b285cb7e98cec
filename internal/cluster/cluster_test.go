// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/database"
	"github.com/s5unanow/horadus/internal/models"
)

type fakeStore struct {
	events        map[uuid.UUID]*models.Event
	links         map[uuid.UUID]uuid.UUID // item -> event
	unlinked      []models.RawItem
	nearest       *models.Event
	nearestDist   float64
	suppression   models.FeedbackAction
	uniqueSources int
	credibility   map[uuid.UUID]float64
	linkRaceWith  *uuid.UUID // when set, first LinkEventItem loses to this event
}

func newClusterFake() *fakeStore {
	return &fakeStore{
		events:      make(map[uuid.UUID]*models.Event),
		links:       make(map[uuid.UUID]uuid.UUID),
		credibility: make(map[uuid.UUID]float64),
	}
}

func (f *fakeStore) EventIDForItem(_ context.Context, itemID uuid.UUID) (*uuid.UUID, error) {
	if eventID, ok := f.links[itemID]; ok {
		return &eventID, nil
	}
	return nil, nil
}

func (f *fakeStore) FindNearestEvent(_ context.Context, _ pgvector.Vector, model string, _ time.Time, maxDistance float64) (*models.Event, float64, error) {
	if f.nearest == nil || f.nearestDist > maxDistance {
		return nil, 0, nil
	}
	if f.nearest.EmbeddingModel == nil || *f.nearest.EmbeddingModel != model {
		return nil, 0, nil
	}
	return f.nearest, f.nearestDist, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, ev *models.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	copied := *ev
	f.events[ev.ID] = &copied
	return nil
}

func (f *fakeStore) UpdateEvent(_ context.Context, ev *models.Event) error {
	copied := *ev
	f.events[ev.ID] = &copied
	return nil
}

func (f *fakeStore) LinkEventItem(_ context.Context, eventID, itemID uuid.UUID) error {
	if f.linkRaceWith != nil {
		f.links[itemID] = *f.linkRaceWith
		f.linkRaceWith = nil
		return database.ErrUniqueViolation
	}
	if _, exists := f.links[itemID]; exists {
		return database.ErrUniqueViolation
	}
	f.links[itemID] = eventID
	return nil
}

func (f *fakeStore) CountUniqueEventSources(_ context.Context, _ uuid.UUID) (int, error) {
	return f.uniqueSources, nil
}

func (f *fakeStore) EffectiveItemCredibility(_ context.Context, itemID uuid.UUID) (float64, error) {
	return f.credibility[itemID], nil
}

func (f *fakeStore) LatestSuppressionAction(_ context.Context, _ uuid.UUID) (models.FeedbackAction, error) {
	return f.suppression, nil
}

func (f *fakeStore) ListUnlinkedItems(_ context.Context, limit int) ([]models.RawItem, error) {
	var items []models.RawItem
	for _, item := range f.unlinked {
		if _, linked := f.links[item.ID]; linked {
			continue
		}
		if len(items) >= limit {
			break
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeStore) TransitionEventLifecycles(_ context.Context, fadingBefore, archiveBefore time.Time) (int, int, error) {
	faded, archived := 0, 0
	for _, ev := range f.events {
		if ev.LifecycleStatus == models.LifecycleConfirmed && ev.LastMentionAt.Before(fadingBefore) {
			ev.LifecycleStatus = models.LifecycleFading
			faded++
		}
	}
	for _, ev := range f.events {
		if ev.LifecycleStatus == models.LifecycleFading && ev.LastMentionAt.Before(archiveBefore) {
			ev.LifecycleStatus = models.LifecycleArchived
			archived++
		}
	}
	return faded, archived, nil
}

func strPtr(s string) *string { return &s }

func newItem(model string) *models.RawItem {
	vec := pgvector.NewVector([]float32{0.1, 0.2, 0.3})
	now := time.Now().UTC()
	return &models.RawItem{
		ID:             uuid.New(),
		SourceID:       uuid.New(),
		Title:          strPtr("Border incident reported"),
		RawContent:     "Extended report body",
		FetchedAt:      now,
		Embedding:      &vec,
		EmbeddingModel: strPtr(model),
	}
}

func existingEvent(model string, status models.EventLifecycle, uniqueSources int) *models.Event {
	vec := pgvector.NewVector([]float32{0.1, 0.2, 0.3})
	now := time.Now().UTC().Add(-time.Hour)
	return &models.Event{
		ID:                uuid.New(),
		CanonicalSummary:  "Earlier report",
		Embedding:         &vec,
		EmbeddingModel:    strPtr(model),
		SourceCount:       uniqueSources,
		UniqueSourceCount: uniqueSources,
		FirstSeenAt:       now,
		LastMentionAt:     now,
		LifecycleStatus:   status,
	}
}

func TestClusterItem_CreatesEventWhenNoMatch(t *testing.T) {
	store := newClusterFake()
	c := New(store, 0.88, 48)

	result, err := c.ClusterItem(context.Background(), newItem("m1"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Created || result.Merged {
		t.Errorf("result = %+v, want created", result)
	}
	ev := store.events[result.EventID]
	if ev == nil {
		t.Fatal("event not stored")
	}
	if ev.LifecycleStatus != models.LifecycleEmerging || ev.UniqueSourceCount != 1 {
		t.Errorf("new event = %+v", ev)
	}
	if ev.CanonicalSummary != "Border incident reported" {
		t.Errorf("canonical summary = %q", ev.CanonicalSummary)
	}
}

func TestClusterItem_MergesIntoMatch(t *testing.T) {
	store := newClusterFake()
	store.nearest = existingEvent("m1", models.LifecycleEmerging, 1)
	store.nearestDist = 0.05
	store.uniqueSources = 2
	store.events[store.nearest.ID] = store.nearest
	c := New(store, 0.88, 48)

	result, err := c.ClusterItem(context.Background(), newItem("m1"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Merged || result.Created {
		t.Errorf("result = %+v, want merged", result)
	}
	if result.Similarity == nil || *result.Similarity != 0.95 {
		t.Errorf("similarity = %v, want 0.95", result.Similarity)
	}
	merged := store.events[result.EventID]
	if merged.SourceCount != 2 || merged.UniqueSourceCount != 2 {
		t.Errorf("merged counts = (%d, %d)", merged.SourceCount, merged.UniqueSourceCount)
	}
}

func TestClusterItem_ModelMismatchCreatesNewEvent(t *testing.T) {
	// An event whose vectors came from a different embedding model must not
	// merge even at high cosine similarity.
	store := newClusterFake()
	store.nearest = existingEvent("m1", models.LifecycleEmerging, 1)
	store.nearestDist = 0.05
	c := New(store, 0.88, 48)

	result, err := c.ClusterItem(context.Background(), newItem("m2"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Created {
		t.Errorf("model mismatch must create a new event, got %+v", result)
	}
	if result.EventID == store.nearest.ID {
		t.Error("must not resolve to the mismatched event")
	}
}

func TestClusterItem_EmergingToConfirmed(t *testing.T) {
	store := newClusterFake()
	store.nearest = existingEvent("m1", models.LifecycleEmerging, 2)
	store.nearestDist = 0.02
	store.uniqueSources = 3 // third distinct source joins
	store.events[store.nearest.ID] = store.nearest
	c := New(store, 0.88, 48)

	result, err := c.ClusterItem(context.Background(), newItem("m1"))
	if err != nil {
		t.Fatal(err)
	}
	confirmed := store.events[result.EventID]
	if confirmed.LifecycleStatus != models.LifecycleConfirmed {
		t.Errorf("status = %s, want CONFIRMED", confirmed.LifecycleStatus)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("confirmed_at must be set on confirmation")
	}
}

func TestClusterItem_FadingRevivesToConfirmed(t *testing.T) {
	store := newClusterFake()
	store.nearest = existingEvent("m1", models.LifecycleFading, 2)
	store.nearestDist = 0.02
	store.uniqueSources = 2
	store.events[store.nearest.ID] = store.nearest
	c := New(store, 0.88, 48)

	result, err := c.ClusterItem(context.Background(), newItem("m1"))
	if err != nil {
		t.Fatal(err)
	}
	if store.events[result.EventID].LifecycleStatus != models.LifecycleConfirmed {
		t.Errorf("fading event must revive to CONFIRMED, got %s", store.events[result.EventID].LifecycleStatus)
	}
}

func TestClusterItem_SuppressedEventNotMerged(t *testing.T) {
	store := newClusterFake()
	store.nearest = existingEvent("m1", models.LifecycleConfirmed, 3)
	store.nearestDist = 0.02
	store.suppression = models.FeedbackMarkNoise
	store.events[store.nearest.ID] = store.nearest
	c := New(store, 0.88, 48)

	item := newItem("m1")
	result, err := c.ClusterItem(context.Background(), item)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Suppressed {
		t.Errorf("result = %+v, want suppressed", result)
	}
	if _, linked := store.links[item.ID]; linked {
		t.Error("suppressed event must not receive the link")
	}
	if store.events[store.nearest.ID].SourceCount != 3 {
		t.Error("suppressed event metadata must stay unchanged")
	}
}

func TestClusterItem_LinkRaceResolvesToWinner(t *testing.T) {
	store := newClusterFake()
	store.nearest = existingEvent("m1", models.LifecycleEmerging, 1)
	store.nearestDist = 0.02
	store.events[store.nearest.ID] = store.nearest
	winner := uuid.New()
	store.linkRaceWith = &winner
	c := New(store, 0.88, 48)

	result, err := c.ClusterItem(context.Background(), newItem("m1"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Merged || result.EventID != winner {
		t.Errorf("race must resolve to winning event %s, got %+v", winner, result)
	}
}

func TestClusterItem_AlreadyLinkedShortCircuits(t *testing.T) {
	store := newClusterFake()
	item := newItem("m1")
	existing := uuid.New()
	store.links[item.ID] = existing
	c := New(store, 0.88, 48)

	result, err := c.ClusterItem(context.Background(), item)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Merged || result.EventID != existing {
		t.Errorf("already-linked item must resolve to %s, got %+v", existing, result)
	}
}

func TestClusterItem_NoEmbeddingCreatesSingleton(t *testing.T) {
	store := newClusterFake()
	store.nearest = existingEvent("m1", models.LifecycleEmerging, 1)
	store.nearestDist = 0.01
	c := New(store, 0.88, 48)

	item := newItem("m1")
	item.Embedding = nil
	result, err := c.ClusterItem(context.Background(), item)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Created {
		t.Errorf("item without embedding must create a singleton event, got %+v", result)
	}
}

func TestClusterItem_PrimaryItemContest(t *testing.T) {
	store := newClusterFake()
	currentPrimary := uuid.New()
	ev := existingEvent("m1", models.LifecycleEmerging, 1)
	ev.PrimaryItemID = &currentPrimary
	store.nearest = ev
	store.nearestDist = 0.02
	store.uniqueSources = 2
	store.events[ev.ID] = ev
	c := New(store, 0.88, 48)

	item := newItem("m1")
	store.credibility[currentPrimary] = 0.5
	store.credibility[item.ID] = 0.9

	result, err := c.ClusterItem(context.Background(), item)
	if err != nil {
		t.Fatal(err)
	}
	merged := store.events[result.EventID]
	if merged.PrimaryItemID == nil || *merged.PrimaryItemID != item.ID {
		t.Error("higher-credibility candidate must take primary_item_id")
	}

	// A weaker follow-up must not displace it.
	item2 := newItem("m1")
	store.credibility[item2.ID] = 0.3
	store.nearest = merged
	if _, err := c.ClusterItem(context.Background(), item2); err != nil {
		t.Fatal(err)
	}
	final := store.events[result.EventID]
	if *final.PrimaryItemID != item.ID {
		t.Error("lower-credibility candidate must not displace primary")
	}
}

func TestClusterUnlinkedItems_Backfill(t *testing.T) {
	store := newClusterFake()
	store.unlinked = []models.RawItem{*newItem("m1"), *newItem("m1"), *newItem("m1")}
	c := New(store, 0.88, 48)

	results, err := c.ClusterUnlinkedItems(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want limit-bounded 2", len(results))
	}
	for _, result := range results {
		if !result.Created {
			t.Errorf("unlinked item with no match must create an event, got %+v", result)
		}
		if _, linked := store.links[result.ItemID]; !linked {
			t.Error("backfilled item must end up linked")
		}
	}

	// A second sweep picks up only what remains unlinked.
	results, err = c.ClusterUnlinkedItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("second sweep results = %d, want 1", len(results))
	}
}

func TestOnEventMention_Transitions(t *testing.T) {
	now := time.Now().UTC()

	emerging := &models.Event{LifecycleStatus: models.LifecycleEmerging, UniqueSourceCount: 2}
	if OnEventMention(emerging, now) {
		t.Error("two sources must not confirm")
	}

	emerging.UniqueSourceCount = 3
	if !OnEventMention(emerging, now) || emerging.LifecycleStatus != models.LifecycleConfirmed {
		t.Error("three sources must confirm")
	}
	firstConfirmed := *emerging.ConfirmedAt

	// confirmed_at is set exactly once.
	OnEventMention(emerging, now.Add(time.Hour))
	if !emerging.ConfirmedAt.Equal(firstConfirmed) {
		t.Error("confirmed_at must not move on later mentions")
	}

	archived := &models.Event{LifecycleStatus: models.LifecycleArchived, UniqueSourceCount: 5}
	if !OnEventMention(archived, now) || archived.LifecycleStatus != models.LifecycleConfirmed {
		t.Error("archived event must revive to CONFIRMED on mention")
	}
}

func TestRunLifecycleCheck(t *testing.T) {
	store := newClusterFake()
	now := time.Now().UTC()

	stale := existingEvent("m1", models.LifecycleConfirmed, 3)
	stale.LastMentionAt = now.Add(-72 * time.Hour)
	store.events[stale.ID] = stale

	ancient := existingEvent("m1", models.LifecycleFading, 3)
	ancient.LastMentionAt = now.Add(-8 * 24 * time.Hour)
	store.events[ancient.ID] = ancient

	fresh := existingEvent("m1", models.LifecycleConfirmed, 3)
	fresh.LastMentionAt = now.Add(-time.Hour)
	store.events[fresh.ID] = fresh

	c := New(store, 0.88, 48)
	faded, archived, err := c.RunLifecycleCheck(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if faded != 1 || archived != 1 {
		t.Errorf("transitions = (%d, %d), want (1, 1)", faded, archived)
	}
	if store.events[fresh.ID].LifecycleStatus != models.LifecycleConfirmed {
		t.Error("fresh event must stay CONFIRMED")
	}
}
