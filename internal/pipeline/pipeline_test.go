// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/classify"
	"github.com/s5unanow/horadus/internal/cluster"
	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/cost"
	"github.com/s5unanow/horadus/internal/dedup"
	"github.com/s5unanow/horadus/internal/models"
	"github.com/s5unanow/horadus/internal/trend"
)

type fakeStore struct {
	items    map[uuid.UUID]*models.RawItem
	statuses map[uuid.UUID]models.ProcessingStatus
	messages map[uuid.UUID]*string
	events   map[uuid.UUID]*models.Event
	trends   []models.Trend
	sources  []models.SourceClusterMember
	gaps     []models.TaxonomyGap
}

func newPipelineStore() *fakeStore {
	return &fakeStore{
		items:    make(map[uuid.UUID]*models.RawItem),
		statuses: make(map[uuid.UUID]models.ProcessingStatus),
		messages: make(map[uuid.UUID]*string),
		events:   make(map[uuid.UUID]*models.Event),
	}
}

func (f *fakeStore) ClaimPendingItems(_ context.Context, limit int) ([]models.RawItem, error) {
	var claimed []models.RawItem
	for _, item := range f.items {
		if item.ProcessingStatus == models.StatusPending && len(claimed) < limit {
			item.ProcessingStatus = models.StatusProcessing
			claimed = append(claimed, *item)
		}
	}
	return claimed, nil
}

func (f *fakeStore) UpdateItemStatus(_ context.Context, id uuid.UUID, status models.ProcessingStatus, message *string) error {
	f.statuses[id] = status
	f.messages[id] = message
	if item, ok := f.items[id]; ok {
		item.ProcessingStatus = status
	}
	return nil
}

func (f *fakeStore) PersistItemEmbedding(_ context.Context, id uuid.UUID, vec pgvector.Vector, model string, at time.Time) error {
	if item, ok := f.items[id]; ok {
		item.Embedding = &vec
		item.EmbeddingModel = &model
		item.EmbeddingGeneratedAt = &at
	}
	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	if ev, ok := f.events[id]; ok {
		return ev, nil
	}
	return nil, errors.New("event not found")
}

func (f *fakeStore) ListActiveTrends(_ context.Context) ([]models.Trend, error) {
	return f.trends, nil
}

func (f *fakeStore) LatestSuppressionAction(_ context.Context, _ uuid.UUID) (models.FeedbackAction, error) {
	return "", nil
}

func (f *fakeStore) ListEventSources(_ context.Context, _ uuid.UUID) ([]models.SourceClusterMember, error) {
	return f.sources, nil
}

func (f *fakeStore) InsertTaxonomyGap(_ context.Context, gap *models.TaxonomyGap) error {
	f.gaps = append(f.gaps, *gap)
	return nil
}

type fakeDedup struct {
	duplicateOf *uuid.UUID
}

func (f *fakeDedup) FindDuplicate(_ context.Context, _ dedup.Query) (*dedup.Result, error) {
	if f.duplicateOf != nil {
		return &dedup.Result{IsDuplicate: true, MatchedItemID: f.duplicateOf, MatchReason: dedup.MatchContentHash}, nil
	}
	return &dedup.Result{}, nil
}

type fakeEmbedder struct {
	calls int
	fail  error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, int, int, error) {
	if f.fail != nil {
		return nil, 0, 0, f.fail
	}
	f.calls++
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{0.1, 0.2}
	}
	return vectors, 0, 1, nil
}

func (f *fakeEmbedder) Model() string { return "text-embedding-3-small" }

type fakeClusterer struct {
	result *cluster.Result
}

func (f *fakeClusterer) ClusterItem(_ context.Context, item *models.RawItem) (*cluster.Result, error) {
	r := *f.result
	r.ItemID = item.ID
	return &r, nil
}

type fakeTier1 struct {
	queue bool
	err   error
	calls int
}

func (f *fakeTier1) ClassifyItems(_ context.Context, items []models.RawItem, _ []models.Trend) ([]classify.Tier1ItemResult, *classify.Usage, error) {
	f.calls++
	if f.err != nil {
		return nil, &classify.Usage{}, f.err
	}
	results := make([]classify.Tier1ItemResult, len(items))
	for i := range items {
		results[i] = classify.Tier1ItemResult{
			ItemID: items[i].ID, MaxRelevance: 9, ShouldQueueTier2: f.queue,
		}
	}
	return results, &classify.Usage{PromptTokens: 100, CompletionTokens: 20, APICalls: 1}, nil
}

type fakeTier2 struct {
	impacts []models.TrendImpact
	err     error
	calls   int
}

func (f *fakeTier2) ClassifyEvent(_ context.Context, event *models.Event, _ []models.Trend, _ []string) (*classify.Tier2EventResult, *classify.Usage, error) {
	f.calls++
	if f.err != nil {
		return nil, &classify.Usage{}, f.err
	}
	return &classify.Tier2EventResult{
		EventID: event.ID, TrendImpactsCount: len(f.impacts), TrendImpacts: f.impacts,
	}, &classify.Usage{PromptTokens: 200, CompletionTokens: 80, APICalls: 1}, nil
}

type fakeEngine struct {
	applied []models.EvidenceFactors
	signals []string
}

func (f *fakeEngine) NoveltyFor(_ context.Context, _, _ uuid.UUID) (float64, error) {
	return 1.0, nil
}

func (f *fakeEngine) ApplyEvidence(_ context.Context, t *models.Trend, _ uuid.UUID, signalType string, factors models.EvidenceFactors, _ *string) (*trend.Update, error) {
	f.applied = append(f.applied, factors)
	f.signals = append(f.signals, signalType)
	return &trend.Update{TrendID: t.ID, DeltaApplied: 0.1}, nil
}

func processingConfig() config.ProcessingConfig {
	return config.ProcessingConfig{
		Tier1RelevanceThreshold: 5,
		DedupWindowDays:         7,
		SupportedLanguages:      []string{"en"},
		UnsupportedLanguageMode: "skip",
	}
}

type harness struct {
	store     *fakeStore
	dedup     *fakeDedup
	embedder  *fakeEmbedder
	clusterer *fakeClusterer
	tier1     *fakeTier1
	tier2     *fakeTier2
	engine    *fakeEngine
	orch      *Orchestrator
}

func newHarness(cfg config.ProcessingConfig) *harness {
	h := &harness{
		store:    newPipelineStore(),
		dedup:    &fakeDedup{},
		embedder: &fakeEmbedder{},
		tier1:    &fakeTier1{queue: true},
		tier2:    &fakeTier2{},
		engine:   &fakeEngine{},
	}

	eventID := uuid.New()
	h.store.events[eventID] = &models.Event{
		ID: eventID, CanonicalSummary: "event", UniqueSourceCount: 2,
		FirstSeenAt: time.Now().UTC(), LastMentionAt: time.Now().UTC(),
		LifecycleStatus: models.LifecycleEmerging,
	}
	h.clusterer = &fakeClusterer{result: &cluster.Result{EventID: eventID, Created: true}}

	h.store.trends = []models.Trend{{
		ID:         uuid.New(),
		Name:       "EU-Russia",
		Definition: map[string]any{"id": "eu-russia"},
		Indicators: map[string]models.Indicator{
			"military_movement": {Weight: 0.04, Direction: models.DirectionEscalatory},
		},
		DecayHalfLifeDays: 30,
		IsActive:          true,
	}}

	h.orch = New(h.store, h.dedup, h.embedder, h.clusterer, h.tier1, h.tier2, h.engine, cfg)
	return h
}

func (h *harness) addPendingItem() *models.RawItem {
	lang := "en"
	item := &models.RawItem{
		ID: uuid.New(), SourceID: uuid.New(),
		RawContent: "article body", ContentHash: "hash",
		FetchedAt: time.Now().UTC(), Language: &lang,
		ProcessingStatus: models.StatusPending,
	}
	h.store.items[item.ID] = item
	return item
}

func TestPipeline_HappyPathClassifies(t *testing.T) {
	h := newHarness(processingConfig())
	h.tier2.impacts = []models.TrendImpact{{
		TrendID: "eu-russia", SignalType: "military_movement",
		Direction: models.DirectionEscalatory, Severity: 0.7, Confidence: 0.8,
	}}
	item := h.addPendingItem()

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if run.Scanned != 1 || run.Classified != 1 || run.Errors != 0 {
		t.Errorf("run = %+v", run)
	}
	if h.store.statuses[item.ID] != models.StatusClassified {
		t.Errorf("status = %s, want CLASSIFIED", h.store.statuses[item.ID])
	}
	if run.Embedded != 1 || run.EventsCreated != 1 {
		t.Errorf("embedded=%d created=%d", run.Embedded, run.EventsCreated)
	}
	if run.TrendImpactsSeen != 1 || run.TrendUpdates != 1 {
		t.Errorf("impacts seen=%d updates=%d", run.TrendImpactsSeen, run.TrendUpdates)
	}
	if len(h.engine.applied) != 1 {
		t.Fatalf("evidence applications = %d", len(h.engine.applied))
	}
	factors := h.engine.applied[0]
	if factors.BaseWeight != 0.04 || factors.Severity != 0.7 || factors.Novelty != 1.0 {
		t.Errorf("factors = %+v", factors)
	}
	if run.Usage.Tier1APICalls != 1 || run.Usage.Tier2APICalls != 1 || run.Usage.EmbeddingAPICalls != 1 {
		t.Errorf("usage = %+v", run.Usage)
	}
}

func TestPipeline_DuplicateGoesToNoise(t *testing.T) {
	h := newHarness(processingConfig())
	matched := uuid.New()
	h.dedup.duplicateOf = &matched
	item := h.addPendingItem()

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if run.Duplicates != 1 || run.Noise != 1 {
		t.Errorf("run = %+v", run)
	}
	if h.store.statuses[item.ID] != models.StatusNoise {
		t.Errorf("status = %s, want NOISE", h.store.statuses[item.ID])
	}
	if h.tier1.calls != 0 {
		t.Error("duplicates must not reach tier-1")
	}
}

func TestPipeline_Tier1NoiseSkipsTier2(t *testing.T) {
	h := newHarness(processingConfig())
	h.tier1.queue = false
	item := h.addPendingItem()

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if h.store.statuses[item.ID] != models.StatusNoise {
		t.Errorf("status = %s, want NOISE", h.store.statuses[item.ID])
	}
	if h.tier2.calls != 0 {
		t.Error("noise items must not reach tier-2")
	}
	if run.Noise != 1 {
		t.Errorf("noise = %d", run.Noise)
	}
}

func TestPipeline_BudgetExceededRevertsToPending(t *testing.T) {
	h := newHarness(processingConfig())
	h.tier1.err = cost.ErrBudgetExceeded
	item := h.addPendingItem()

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if h.store.statuses[item.ID] != models.StatusPending {
		t.Errorf("status = %s, want PENDING", h.store.statuses[item.ID])
	}
	if run.Errors != 0 {
		t.Errorf("budget exhaustion must not count as error, errors = %d", run.Errors)
	}
	if h.store.messages[item.ID] != nil {
		t.Error("no error message must be persisted on budget reversion")
	}
	if h.tier2.calls != 0 {
		t.Error("tier-2 must not run after tier-1 budget denial")
	}
}

func TestPipeline_Tier2BudgetExceededRevertsToPending(t *testing.T) {
	h := newHarness(processingConfig())
	h.tier2.err = cost.ErrBudgetExceeded
	item := h.addPendingItem()

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if h.store.statuses[item.ID] != models.StatusPending {
		t.Errorf("status = %s, want PENDING", h.store.statuses[item.ID])
	}
	if run.Deferred != 1 {
		t.Errorf("deferred = %d, want 1", run.Deferred)
	}
}

func TestPipeline_StageErrorLandsInError(t *testing.T) {
	h := newHarness(processingConfig())
	h.embedder.fail = errors.New("provider exploded with a very long diagnostic message")
	item := h.addPendingItem()

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if run.Errors != 1 {
		t.Errorf("errors = %d, want 1", run.Errors)
	}
	if h.store.statuses[item.ID] != models.StatusError {
		t.Errorf("status = %s, want ERROR", h.store.statuses[item.ID])
	}
	if h.store.messages[item.ID] == nil {
		t.Error("error message must be persisted")
	}
}

func TestPipeline_UnsupportedLanguageSkip(t *testing.T) {
	h := newHarness(processingConfig())
	item := h.addPendingItem()
	lang := "xx"
	item.Language = &lang

	_, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if h.store.statuses[item.ID] != models.StatusNoise {
		t.Errorf("skip mode status = %s, want NOISE", h.store.statuses[item.ID])
	}
	if h.store.messages[item.ID] == nil {
		t.Error("language skip must record the reason")
	}
	if h.embedder.calls != 0 {
		t.Error("unsupported language must stop before embedding")
	}
}

func TestPipeline_UnsupportedLanguageDefer(t *testing.T) {
	cfg := processingConfig()
	cfg.UnsupportedLanguageMode = "defer"
	h := newHarness(cfg)
	item := h.addPendingItem()
	lang := "xx"
	item.Language = &lang

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if h.store.statuses[item.ID] != models.StatusPending {
		t.Errorf("defer mode status = %s, want PENDING", h.store.statuses[item.ID])
	}
	if run.Deferred != 1 {
		t.Errorf("deferred = %d, want 1", run.Deferred)
	}
}

func TestPipeline_SuppressedEventStopsAtNoise(t *testing.T) {
	h := newHarness(processingConfig())
	h.clusterer.result.Suppressed = true
	h.clusterer.result.Created = false
	item := h.addPendingItem()

	_, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if h.store.statuses[item.ID] != models.StatusNoise {
		t.Errorf("status = %s, want NOISE", h.store.statuses[item.ID])
	}
	if h.tier1.calls != 0 || h.tier2.calls != 0 {
		t.Error("suppressed events must not consume classifier spend")
	}
}

func TestPipeline_UnknownTrendIDRecordsGap(t *testing.T) {
	h := newHarness(processingConfig())
	h.tier2.impacts = []models.TrendImpact{
		{TrendID: "nonexistent", SignalType: "military_movement", Direction: models.DirectionEscalatory, Severity: 0.5, Confidence: 0.5},
		{TrendID: "eu-russia", SignalType: "unheard_of_signal", Direction: models.DirectionEscalatory, Severity: 0.5, Confidence: 0.5},
	}
	h.addPendingItem()

	run, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if run.TrendImpactsSeen != 2 || run.TrendUpdates != 0 {
		t.Errorf("seen=%d updates=%d", run.TrendImpactsSeen, run.TrendUpdates)
	}
	if len(h.store.gaps) != 2 {
		t.Fatalf("taxonomy gaps = %d, want 2", len(h.store.gaps))
	}
	if h.store.gaps[0].Reason != models.GapUnknownTrendID {
		t.Errorf("first gap reason = %s", h.store.gaps[0].Reason)
	}
	if h.store.gaps[1].Reason != models.GapUnknownSignalType {
		t.Errorf("second gap reason = %s", h.store.gaps[1].Reason)
	}
}

func TestPipeline_TerminalStatusInvariant(t *testing.T) {
	// Whatever happens per item, the final status is exactly one of the
	// four terminal states.
	scenarios := []func(h *harness){
		func(h *harness) {},
		func(h *harness) { matched := uuid.New(); h.dedup.duplicateOf = &matched },
		func(h *harness) { h.tier1.queue = false },
		func(h *harness) { h.tier1.err = cost.ErrBudgetExceeded },
		func(h *harness) { h.embedder.fail = errors.New("boom") },
	}
	for i, mutate := range scenarios {
		h := newHarness(processingConfig())
		mutate(h)
		item := h.addPendingItem()

		if _, err := h.orch.ProcessPendingItems(context.Background(), 10); err != nil {
			t.Fatalf("scenario %d: %v", i, err)
		}
		status := h.store.statuses[item.ID]
		if !status.IsTerminal() {
			t.Errorf("scenario %d: status %s is not terminal", i, status)
		}
	}
}

func TestPipeline_NoActiveTrends(t *testing.T) {
	h := newHarness(processingConfig())
	h.store.trends = nil
	h.addPendingItem()

	_, err := h.orch.ProcessPendingItems(context.Background(), 10)
	if !errors.Is(err, ErrNoActiveTrends) {
		t.Errorf("want ErrNoActiveTrends, got %v", err)
	}
}
