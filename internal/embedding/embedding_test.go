// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/models"
)

type fakeProvider struct {
	dimensions int
	calls      int
	batches    [][]string
	fail       error
	scramble   bool
}

func (f *fakeProvider) CreateEmbeddings(_ context.Context, inputs []string, _ string) (*ProviderResponse, error) {
	f.calls++
	f.batches = append(f.batches, inputs)
	if f.fail != nil {
		return nil, f.fail
	}
	vectors := make([]ProviderVector, len(inputs))
	for i := range inputs {
		values := make([]float32, f.dimensions)
		values[0] = float32(len(inputs[i]))
		vectors[i] = ProviderVector{Index: i, Values: values}
	}
	if f.scramble && len(vectors) > 1 {
		vectors[0], vectors[1] = vectors[1], vectors[0]
	}
	return &ProviderResponse{Vectors: vectors, PromptTokens: 10 * len(inputs)}, nil
}

type recordingBudget struct {
	denied      bool
	ensureCalls int
	recorded    []int64
}

func (b *recordingBudget) EnsureWithinBudget(_ context.Context, _ models.CostTier) error {
	b.ensureCalls++
	if b.denied {
		return errors.New("budget exceeded")
	}
	return nil
}

func (b *recordingBudget) RecordUsage(_ context.Context, _ models.CostTier, input, _ int64) error {
	b.recorded = append(b.recorded, input)
	return nil
}

type nopStore struct {
	items       []models.RawItem
	events      []models.Event
	itemVectors map[uuid.UUID]pgvector.Vector
}

func (s *nopStore) ListItemsWithoutEmbedding(_ context.Context, _ int) ([]models.RawItem, error) {
	return s.items, nil
}
func (s *nopStore) PersistItemEmbedding(_ context.Context, id uuid.UUID, vec pgvector.Vector, _ string, _ time.Time) error {
	if s.itemVectors == nil {
		s.itemVectors = make(map[uuid.UUID]pgvector.Vector)
	}
	s.itemVectors[id] = vec
	return nil
}
func (s *nopStore) ListEventsWithoutEmbedding(_ context.Context, _ int) ([]models.Event, error) {
	return s.events, nil
}
func (s *nopStore) PersistEventEmbedding(_ context.Context, _ uuid.UUID, _ pgvector.Vector, _ string, _ time.Time) error {
	return nil
}

func newTestService(provider *fakeProvider, budget *recordingBudget, store Store) *Service {
	cfg := config.EmbeddingConfig{
		Model: "text-embedding-3-small", Dimensions: provider.dimensions,
		BatchSize: 2, CacheMaxSize: 100,
	}
	return New(provider, store, budget, cfg)
}

func TestEmbedTexts_CacheReuse(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	svc := newTestService(provider, &recordingBudget{}, &nopStore{})
	ctx := context.Background()

	vectors, hits, calls, err := svc.EmbedTexts(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 2 || hits != 0 || calls != 1 {
		t.Errorf("first run: vectors=%d hits=%d calls=%d", len(vectors), hits, calls)
	}

	_, hits, calls, err = svc.EmbedTexts(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if hits != 2 || calls != 0 {
		t.Errorf("second run must be fully cached: hits=%d calls=%d", hits, calls)
	}
}

func TestEmbedTexts_WhitespaceNormalization(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	svc := newTestService(provider, &recordingBudget{}, &nopStore{})
	ctx := context.Background()

	if _, _, _, err := svc.EmbedTexts(ctx, []string{"  hello   world  "}); err != nil {
		t.Fatal(err)
	}
	// Same text with different whitespace must hit the cache.
	_, hits, calls, err := svc.EmbedTexts(ctx, []string{"hello world"})
	if err != nil {
		t.Fatal(err)
	}
	if hits != 1 || calls != 0 {
		t.Errorf("normalized text must share cache entries: hits=%d calls=%d", hits, calls)
	}

	if _, _, _, err := svc.EmbedTexts(ctx, []string{"   "}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank input must be rejected, got %v", err)
	}
}

func TestEmbedTexts_DuplicateInputsShareOneMiss(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	svc := newTestService(provider, &recordingBudget{}, &nopStore{})

	vectors, _, calls, err := svc.EmbedTexts(context.Background(), []string{"same", "same", "same"})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for deduped misses", calls)
	}
	if len(provider.batches[0]) != 1 {
		t.Errorf("provider batch size = %d, want 1 unique text", len(provider.batches[0]))
	}
	for i := 1; i < len(vectors); i++ {
		if vectors[i][0] != vectors[0][0] {
			t.Error("duplicate inputs must share one vector")
		}
	}
}

func TestEmbedTexts_Batching(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	svc := newTestService(provider, &recordingBudget{}, &nopStore{}) // batch size 2

	_, _, calls, err := svc.EmbedTexts(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("5 unique misses at batch size 2 = %d calls, want 3", calls)
	}
}

func TestEmbedTexts_BudgetDenied(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	budget := &recordingBudget{denied: true}
	svc := newTestService(provider, budget, &nopStore{})

	_, _, _, err := svc.EmbedTexts(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("denied budget must surface")
	}
	if provider.calls != 0 {
		t.Errorf("provider must not be called past budget, calls = %d", provider.calls)
	}
}

func TestEmbedTexts_RecordsUsage(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	budget := &recordingBudget{}
	svc := newTestService(provider, budget, &nopStore{})

	if _, _, _, err := svc.EmbedTexts(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if len(budget.recorded) != 1 || budget.recorded[0] != 20 {
		t.Errorf("recorded usage = %v, want [20]", budget.recorded)
	}
}

func TestEmbedTexts_DimensionMismatch(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	cfg := config.EmbeddingConfig{Model: "m", Dimensions: 8, BatchSize: 2, CacheMaxSize: 10}
	svc := New(provider, &nopStore{}, &recordingBudget{}, cfg)

	_, _, _, err := svc.EmbedTexts(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("dimension mismatch must be rejected")
	}
}

func TestEmbedTexts_ScrambledIndicesRealigned(t *testing.T) {
	provider := &fakeProvider{dimensions: 4, scramble: true}
	svc := newTestService(provider, &recordingBudget{}, &nopStore{})

	vectors, _, _, err := svc.EmbedTexts(context.Background(), []string{"a", "bbbb"})
	if err != nil {
		t.Fatal(err)
	}
	// Vector payloads encode input length; realignment restores order.
	if vectors[0][0] != 1 || vectors[1][0] != 4 {
		t.Errorf("vectors not realigned by index: %v %v", vectors[0][0], vectors[1][0])
	}
}

func TestEmbedItemsWithoutEmbedding_Persists(t *testing.T) {
	provider := &fakeProvider{dimensions: 4}
	item := models.RawItem{ID: uuid.New(), RawContent: "some article text"}
	store := &nopStore{items: []models.RawItem{item}}
	svc := newTestService(provider, &recordingBudget{}, store)

	result, err := svc.EmbedItemsWithoutEmbedding(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if result.Embedded != 1 || result.Scanned != 1 {
		t.Errorf("result = %+v", result)
	}
	vec, ok := store.itemVectors[item.ID]
	if !ok {
		t.Fatal("vector not persisted")
	}
	if got := vec.Slice(); len(got) != 4 || math.IsNaN(float64(got[0])) {
		t.Errorf("persisted vector = %v", got)
	}
}
