// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package pipeline orchestrates the per-item processing sequence:
// dedup, embedding, clustering, tier-1 relevance, tier-2 extraction, and
// trend impact application, under the item status machine
// PENDING -> PROCESSING -> {CLASSIFIED | NOISE | PENDING | ERROR}.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/classify"
	"github.com/s5unanow/horadus/internal/cluster"
	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/cost"
	"github.com/s5unanow/horadus/internal/dedup"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
	"github.com/s5unanow/horadus/internal/models"
	"github.com/s5unanow/horadus/internal/trend"
)

// errorMessageMaxChars truncates persisted error messages.
const errorMessageMaxChars = 1000

// ErrNoActiveTrends is returned when a run starts with no trends to score.
var ErrNoActiveTrends = errors.New("pipeline: no active trends available")

// Store is the persistence surface the orchestrator needs directly.
type Store interface {
	ClaimPendingItems(ctx context.Context, limit int) ([]models.RawItem, error)
	UpdateItemStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus, errorMessage *string) error
	PersistItemEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector, model string, generatedAt time.Time) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListActiveTrends(ctx context.Context) ([]models.Trend, error)
	LatestSuppressionAction(ctx context.Context, eventID uuid.UUID) (models.FeedbackAction, error)
	ListEventSources(ctx context.Context, eventID uuid.UUID) ([]models.SourceClusterMember, error)
	InsertTaxonomyGap(ctx context.Context, gap *models.TaxonomyGap) error
}

// Deduplicator finds duplicates for a candidate item.
type Deduplicator interface {
	FindDuplicate(ctx context.Context, q dedup.Query) (*dedup.Result, error)
}

// Embedder generates and identifies vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, int, int, error)
	Model() string
}

// ItemClusterer assigns items to events.
type ItemClusterer interface {
	ClusterItem(ctx context.Context, item *models.RawItem) (*cluster.Result, error)
}

// Tier1 is the relevance filter surface.
type Tier1 interface {
	ClassifyItems(ctx context.Context, items []models.RawItem, trends []models.Trend) ([]classify.Tier1ItemResult, *classify.Usage, error)
}

// Tier2 is the structured extraction surface.
type Tier2 interface {
	ClassifyEvent(ctx context.Context, event *models.Event, trends []models.Trend, contextChunks []string) (*classify.Tier2EventResult, *classify.Usage, error)
}

// TrendEngine applies evidence deltas.
type TrendEngine interface {
	NoveltyFor(ctx context.Context, trendID, eventID uuid.UUID) (float64, error)
	ApplyEvidence(ctx context.Context, t *models.Trend, eventID uuid.UUID, signalType string, factors models.EvidenceFactors, reasoning *string) (*trend.Update, error)
}

// Usage aggregates token and call counts across one run.
type Usage struct {
	EmbeddingAPICalls     int
	Tier1PromptTokens     int
	Tier1CompletionTokens int
	Tier1APICalls         int
	Tier2PromptTokens     int
	Tier2CompletionTokens int
	Tier2APICalls         int
	EstimatedCostUSD      float64
}

// ItemResult is the outcome for one processed item.
type ItemResult struct {
	ItemID       uuid.UUID
	FinalStatus  models.ProcessingStatus
	EventID      *uuid.UUID
	Duplicate    bool
	Embedded     bool
	EventCreated bool
	EventMerged  bool
	Tier2Applied bool
	TrendUpdates int
	ErrorMessage *string
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	Scanned          int
	Processed        int
	Classified       int
	Noise            int
	Duplicates       int
	Errors           int
	Deferred         int
	Embedded         int
	EventsCreated    int
	EventsMerged     int
	TrendImpactsSeen int
	TrendUpdates     int
	Results          []ItemResult
	Usage            Usage
}

// Orchestrator sequences the processing stages for pending items.
type Orchestrator struct {
	store     Store
	dedup     Deduplicator
	embedder  Embedder
	clusterer ItemClusterer
	tier1     Tier1
	tier2     Tier2
	engine    TrendEngine
	cfg       config.ProcessingConfig
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates the orchestrator.
func New(store Store, dedupSvc Deduplicator, embedder Embedder, clusterer ItemClusterer,
	tier1 Tier1, tier2 Tier2, engine TrendEngine, cfg config.ProcessingConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		dedup:     dedupSvc,
		embedder:  embedder,
		clusterer: clusterer,
		tier1:     tier1,
		tier2:     tier2,
		engine:    engine,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessPendingItems claims up to limit pending items and runs each through
// the pipeline. Claimed items are already PROCESSING when processing starts.
func (o *Orchestrator) ProcessPendingItems(ctx context.Context, limit int) (*RunResult, error) {
	items, err := o.store.ClaimPendingItems(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming pending items: %w", err)
	}
	return o.ProcessItems(ctx, items)
}

// ProcessItems runs explicit items through the pipeline.
func (o *Orchestrator) ProcessItems(ctx context.Context, items []models.RawItem) (*RunResult, error) {
	run := &RunResult{Scanned: len(items)}
	if len(items) == 0 {
		return run, nil
	}

	trends, err := o.store.ListActiveTrends(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active trends: %w", err)
	}
	if len(trends) == 0 {
		return nil, ErrNoActiveTrends
	}

	for i := range items {
		result := o.processItem(ctx, &items[i], trends, run)
		run.Results = append(run.Results, *result)

		switch result.FinalStatus {
		case models.StatusError:
			run.Errors++
			continue
		case models.StatusPending:
			run.Deferred++
			continue
		}

		run.Processed++
		if result.FinalStatus == models.StatusClassified {
			run.Classified++
		}
		if result.FinalStatus == models.StatusNoise {
			run.Noise++
		}
		if result.Duplicate {
			run.Duplicates++
		}
		if result.Embedded {
			run.Embedded++
		}
		if result.EventCreated {
			run.EventsCreated++
		}
		if result.EventMerged {
			run.EventsMerged++
		}
		run.TrendUpdates += result.TrendUpdates
	}
	return run, nil
}

// processItem executes the stage sequence for one item. Any uncaught stage
// failure lands the item in ERROR with a truncated message; budget
// exhaustion reverts it to PENDING without consuming an error.
func (o *Orchestrator) processItem(ctx context.Context, item *models.RawItem, trends []models.Trend, run *RunResult) *ItemResult {
	result := &ItemResult{ItemID: item.ID, FinalStatus: models.StatusProcessing}

	if language := itemLanguage(item); language != "" {
		metrics.ProcessingIngestedLanguageTotal.WithLabelValues(language).Inc()
		if !o.languageSupported(language) {
			return o.applyLanguagePolicy(ctx, item, language, result)
		}
	}

	if done := o.runDedup(ctx, item, result); done {
		return result
	}
	if done := o.runEmbedding(ctx, item, result, run); done {
		return result
	}

	clusterResult, err := o.clusterer.ClusterItem(ctx, item)
	if err != nil {
		return o.failItem(ctx, item, result, fmt.Errorf("clustering: %w", err))
	}
	result.EventID = &clusterResult.EventID
	result.EventCreated = clusterResult.Created
	result.EventMerged = clusterResult.Merged && !clusterResult.Created

	// Suppressed events take no further automated impact: the item keeps
	// its current terminal state without tier-1/tier-2 spend.
	if clusterResult.Suppressed {
		return o.finishItem(ctx, item, result, models.StatusNoise, nil)
	}

	queued, err := o.runTier1(ctx, item, trends, run)
	if err != nil {
		if errors.Is(err, cost.ErrBudgetExceeded) {
			return o.revertToPending(ctx, item, result)
		}
		return o.failItem(ctx, item, result, err)
	}
	if !queued {
		return o.finishItem(ctx, item, result, models.StatusNoise, nil)
	}

	event, err := o.store.GetEvent(ctx, clusterResult.EventID)
	if err != nil {
		return o.failItem(ctx, item, result, fmt.Errorf("loading event %s: %w", clusterResult.EventID, err))
	}

	tier2Result, tier2Usage, err := o.tier2.ClassifyEvent(ctx, event, trends, nil)
	if err != nil {
		if errors.Is(err, cost.ErrBudgetExceeded) {
			return o.revertToPending(ctx, item, result)
		}
		return o.failItem(ctx, item, result, fmt.Errorf("tier2: %w", err))
	}
	run.Usage.Tier2PromptTokens += tier2Usage.PromptTokens
	run.Usage.Tier2CompletionTokens += tier2Usage.CompletionTokens
	run.Usage.Tier2APICalls += tier2Usage.APICalls
	run.Usage.EstimatedCostUSD += tier2Usage.EstimatedCostUSD
	result.Tier2Applied = true

	updates, impactsSeen := o.applyImpacts(ctx, event, trends, tier2Result.TrendImpacts)
	result.TrendUpdates = updates
	run.TrendImpactsSeen += impactsSeen

	return o.finishItem(ctx, item, result, models.StatusClassified, nil)
}

func itemLanguage(item *models.RawItem) string {
	if item.Language == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*item.Language))
}

func (o *Orchestrator) languageSupported(language string) bool {
	for _, supported := range o.cfg.SupportedLanguages {
		if strings.EqualFold(supported, language) {
			return true
		}
	}
	return len(o.cfg.SupportedLanguages) == 0
}

func (o *Orchestrator) applyLanguagePolicy(ctx context.Context, item *models.RawItem, language string, result *ItemResult) *ItemResult {
	reason := fmt.Sprintf("unsupported language %q", language)
	if o.cfg.UnsupportedLanguageMode == "defer" {
		metrics.ProcessingTier1LanguageOutcomeTotal.WithLabelValues(language, "deferred").Inc()
		return o.finishItem(ctx, item, result, models.StatusPending, &reason)
	}
	metrics.ProcessingTier1LanguageOutcomeTotal.WithLabelValues(language, "skipped").Inc()
	return o.finishItem(ctx, item, result, models.StatusNoise, &reason)
}

func (o *Orchestrator) runDedup(ctx context.Context, item *models.RawItem, result *ItemResult) bool {
	query := dedup.Query{
		ExternalID:    item.ExternalID,
		URL:           item.URL,
		ExcludeItemID: &item.ID,
		WindowDays:    o.cfg.DedupWindowDays,
	}
	if item.ContentHash != "" {
		hash := item.ContentHash
		query.ContentHash = &hash
	}
	if item.Embedding != nil && item.EmbeddingModel != nil {
		query.Embedding = item.Embedding
		query.EmbeddingModel = item.EmbeddingModel
	}

	duplicate, err := o.dedup.FindDuplicate(ctx, query)
	if err != nil {
		o.failItem(ctx, item, result, fmt.Errorf("dedup: %w", err))
		return true
	}
	if duplicate.IsDuplicate {
		result.Duplicate = true
		o.finishItem(ctx, item, result, models.StatusNoise, nil)
		return true
	}
	return false
}

func (o *Orchestrator) runEmbedding(ctx context.Context, item *models.RawItem, result *ItemResult, run *RunResult) bool {
	if item.Embedding != nil {
		return false
	}

	content := strings.TrimSpace(item.RawContent)
	if content == "" {
		o.failItem(ctx, item, result, errors.New("raw_content must not be empty"))
		return true
	}

	vectors, _, apiCalls, err := o.embedder.EmbedTexts(ctx, []string{content})
	if err != nil {
		if errors.Is(err, cost.ErrBudgetExceeded) {
			o.revertToPending(ctx, item, result)
			return true
		}
		o.failItem(ctx, item, result, fmt.Errorf("embedding: %w", err))
		return true
	}
	run.Usage.EmbeddingAPICalls += apiCalls

	vec := pgvector.NewVector(vectors[0])
	model := o.embedder.Model()
	generatedAt := o.now().UTC()
	if err := o.store.PersistItemEmbedding(ctx, item.ID, vec, model, generatedAt); err != nil {
		o.failItem(ctx, item, result, fmt.Errorf("persisting embedding: %w", err))
		return true
	}
	item.Embedding = &vec
	item.EmbeddingModel = &model
	item.EmbeddingGeneratedAt = &generatedAt
	result.Embedded = true
	return false
}

func (o *Orchestrator) runTier1(ctx context.Context, item *models.RawItem, trends []models.Trend, run *RunResult) (bool, error) {
	tier1Results, tier1Usage, err := o.tier1.ClassifyItems(ctx, []models.RawItem{*item}, trends)
	run.Usage.Tier1PromptTokens += tier1Usage.PromptTokens
	run.Usage.Tier1CompletionTokens += tier1Usage.CompletionTokens
	run.Usage.Tier1APICalls += tier1Usage.APICalls
	run.Usage.EstimatedCostUSD += tier1Usage.EstimatedCostUSD
	if err != nil {
		return false, err
	}
	if len(tier1Results) != 1 {
		return false, fmt.Errorf("tier1 returned %d results for single-item call", len(tier1Results))
	}
	if tier1Results[0].Err != nil {
		return false, fmt.Errorf("tier1: %w", tier1Results[0].Err)
	}

	outcome := "noise"
	if tier1Results[0].ShouldQueueTier2 {
		outcome = "queued"
	}
	metrics.ProcessingTier1LanguageOutcomeTotal.WithLabelValues(itemLanguage(item), outcome).Inc()
	return tier1Results[0].ShouldQueueTier2, nil
}

// applyImpacts converts each declared impact into an evidence application.
// Unknown trend ids and signal types are recorded as taxonomy gaps and
// skipped; individual application failures are logged without sinking the
// item.
func (o *Orchestrator) applyImpacts(ctx context.Context, event *models.Event, trends []models.Trend, impacts []models.TrendImpact) (updates, seen int) {
	if len(impacts) == 0 {
		return 0, 0
	}

	trendByIdentifier := make(map[string]*models.Trend, len(trends))
	for i := range trends {
		trendByIdentifier[trends[i].Identifier()] = &trends[i]
	}

	sources, err := o.store.ListEventSources(ctx, event.ID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID.String()).Msg("Loading event sources failed")
	}
	credibility := bestCredibility(sources)
	corroboration := trend.CorroborationScore(sources, event.UniqueSourceCount, event.HasContradictions)
	ageDays := o.evidenceAgeDays(event)

	for _, impact := range impacts {
		seen++

		target, ok := trendByIdentifier[impact.TrendID]
		if !ok {
			o.recordTaxonomyGap(ctx, models.GapUnknownTrendID, impact, event.ID)
			continue
		}
		indicator, ok := target.Indicators[impact.SignalType]
		if !ok {
			o.recordTaxonomyGap(ctx, models.GapUnknownSignalType, impact, event.ID)
			continue
		}

		novelty, err := o.engine.NoveltyFor(ctx, target.ID, event.ID)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("trend_id", target.ID.String()).Msg("Novelty lookup failed")
			novelty = 1.0
		}

		factors := models.EvidenceFactors{
			BaseWeight:                 indicator.Weight,
			Severity:                   impact.Severity,
			Confidence:                 impact.Confidence,
			Credibility:                credibility,
			Corroboration:              corroboration,
			Novelty:                    novelty,
			EvidenceAgeDays:            ageDays,
			Direction:                  impact.Direction,
			IndicatorDecayHalfLifeDays: indicator.DecayHalfLifeDays,
		}
		if _, err := o.engine.ApplyEvidence(ctx, target, event.ID, impact.SignalType, factors, impact.Rationale); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("trend_id", target.ID.String()).
				Str("event_id", event.ID.String()).
				Msg("Evidence application failed")
			continue
		}
		updates++
	}
	return updates, seen
}

func bestCredibility(sources []models.SourceClusterMember) float64 {
	if len(sources) == 0 {
		return models.DefaultSourceCredibility
	}
	best := 0.0
	for _, src := range sources {
		effective := models.EffectiveCredibility(src.CredibilityScore, src.SourceTier, src.ReportingType)
		if effective > best {
			best = effective
		}
	}
	return best
}

func (o *Orchestrator) evidenceAgeDays(event *models.Event) float64 {
	reference := event.FirstSeenAt
	if event.ExtractedWhen != nil {
		reference = *event.ExtractedWhen
	}
	age := o.now().UTC().Sub(reference).Hours() / 24.0
	if age < 0 {
		return 0
	}
	return age
}

func (o *Orchestrator) recordTaxonomyGap(ctx context.Context, reason models.TaxonomyGapReason, impact models.TrendImpact, eventID uuid.UUID) {
	metrics.RecordTaxonomyGap(string(reason), impact.TrendID, impact.SignalType)
	gap := &models.TaxonomyGap{
		Reason:     reason,
		TrendID:    impact.TrendID,
		SignalType: impact.SignalType,
		EventID:    &eventID,
		Payload: map[string]any{
			"direction":  string(impact.Direction),
			"severity":   impact.Severity,
			"confidence": impact.Confidence,
		},
	}
	if err := o.store.InsertTaxonomyGap(ctx, gap); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("trend_id", impact.TrendID).Msg("Taxonomy gap write failed")
	}
}

func (o *Orchestrator) finishItem(ctx context.Context, item *models.RawItem, result *ItemResult, status models.ProcessingStatus, message *string) *ItemResult {
	if err := o.store.UpdateItemStatus(ctx, item.ID, status, message); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("item_id", item.ID.String()).Msg("Status write failed")
	}
	item.ProcessingStatus = status
	result.FinalStatus = status
	result.ErrorMessage = message
	return result
}

// revertToPending hands the item back to a future run after budget
// exhaustion: no error is recorded and no status is consumed.
func (o *Orchestrator) revertToPending(ctx context.Context, item *models.RawItem, result *ItemResult) *ItemResult {
	logging.Ctx(ctx).Info().
		Str("item_id", item.ID.String()).
		Msg("Budget exhausted; deferring item to next run")
	return o.finishItem(ctx, item, result, models.StatusPending, nil)
}

func (o *Orchestrator) failItem(ctx context.Context, item *models.RawItem, result *ItemResult, cause error) *ItemResult {
	message := cause.Error()
	if len(message) > errorMessageMaxChars {
		message = message[:errorMessageMaxChars]
	}
	logging.Ctx(ctx).Error().Err(cause).Str("item_id", item.ID.String()).Msg("Processing pipeline failed for item")
	return o.finishItem(ctx, item, result, models.StatusError, &message)
}
