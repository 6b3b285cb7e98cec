// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package embedding generates vectors for raw items and events: batched
// provider calls behind an in-process LRU keyed by content hash, with
// dimension/index validation and budget gating.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/s5unanow/horadus/internal/cache"
	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/models"
)

// ErrEmptyInput is returned when a text normalizes to nothing.
var ErrEmptyInput = errors.New("embedding: input text must not be empty")

// Provider is the embeddings endpoint surface.
type Provider interface {
	CreateEmbeddings(ctx context.Context, inputs []string, model string) (*ProviderResponse, error)
}

// ProviderVector is one indexed vector from the provider.
type ProviderVector struct {
	Index  int
	Values []float32
}

// ProviderResponse normalizes one embeddings API response.
type ProviderResponse struct {
	Vectors      []ProviderVector
	PromptTokens int
}

// BudgetGuard gates provider calls on the embedding tier budget.
type BudgetGuard interface {
	EnsureWithinBudget(ctx context.Context, tier models.CostTier) error
	RecordUsage(ctx context.Context, tier models.CostTier, inputTokens, outputTokens int64) error
}

// Store persists generated vectors with their model lineage.
type Store interface {
	ListItemsWithoutEmbedding(ctx context.Context, limit int) ([]models.RawItem, error)
	PersistItemEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector, model string, generatedAt time.Time) error
	ListEventsWithoutEmbedding(ctx context.Context, limit int) ([]models.Event, error)
	PersistEventEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector, model string, generatedAt time.Time) error
}

// RunResult summarizes one persistence backfill run.
type RunResult struct {
	EntityType string
	Scanned    int
	Embedded   int
	CacheHits  int
	APICalls   int
}

// Service generates embeddings with caching and batching.
type Service struct {
	provider   Provider
	store      Store
	budget     BudgetGuard
	model      string
	dimensions int
	batchSize  int
	lru        *cache.VectorLRU
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the embedding service.
func New(provider Provider, store Store, budget BudgetGuard, cfg config.EmbeddingConfig, opts ...Option) *Service {
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 32
	}
	s := &Service{
		provider:   provider,
		store:      store,
		budget:     budget,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
		lru:        cache.NewVectorLRU(cfg.CacheMaxSize),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the configured embedding model name.
func (s *Service) Model() string {
	return s.model
}

// EmbedText generates a single vector.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, _, _, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vectors for multiple texts with cache reuse.
// Returns (vectors, cacheHits, apiCalls). Duplicate inputs share one miss.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, int, int, error) {
	if len(texts) == 0 {
		return nil, 0, 0, nil
	}

	normalized := make([]string, len(texts))
	for i, text := range texts {
		n, err := normalizeText(text)
		if err != nil {
			return nil, 0, 0, err
		}
		normalized[i] = n
	}

	results := make([][]float32, len(normalized))
	cacheHits := 0
	apiCalls := 0

	missIndexes := make(map[string][]int)
	missText := make(map[string]string)
	var missOrder []string

	for i, text := range normalized {
		key := cacheKey(text)
		if vec, ok := s.lru.Get(key); ok {
			results[i] = vec
			cacheHits++
			continue
		}
		if _, seen := missIndexes[key]; !seen {
			missOrder = append(missOrder, key)
			missText[key] = text
		}
		missIndexes[key] = append(missIndexes[key], i)
	}

	for start := 0; start < len(missOrder); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missOrder) {
			end = len(missOrder)
		}
		chunkKeys := missOrder[start:end]
		chunkTexts := make([]string, len(chunkKeys))
		for i, key := range chunkKeys {
			chunkTexts[i] = missText[key]
		}

		vectors, err := s.requestEmbeddings(ctx, chunkTexts)
		if err != nil {
			return nil, cacheHits, apiCalls, err
		}
		apiCalls++

		for i, key := range chunkKeys {
			s.lru.Add(key, vectors[i])
			for _, resultIndex := range missIndexes[key] {
				results[resultIndex] = vectors[i]
			}
		}
	}

	for i, vec := range results {
		if vec == nil {
			return nil, cacheHits, apiCalls, fmt.Errorf("embedding: no vector produced for input %d", i)
		}
	}
	return results, cacheHits, apiCalls, nil
}

// EmbedItemsWithoutEmbedding backfills vectors for items missing them.
func (s *Service) EmbedItemsWithoutEmbedding(ctx context.Context, limit int) (*RunResult, error) {
	items, err := s.store.ListItemsWithoutEmbedding(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := &RunResult{EntityType: "raw_items", Scanned: len(items)}
	if len(items) == 0 {
		return result, nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.RawContent
	}
	vectors, cacheHits, apiCalls, err := s.EmbedTexts(ctx, texts)
	if err != nil {
		return result, err
	}
	result.CacheHits = cacheHits
	result.APICalls = apiCalls

	generatedAt := s.now().UTC()
	for i, item := range items {
		vec := pgvector.NewVector(vectors[i])
		if err := s.store.PersistItemEmbedding(ctx, item.ID, vec, s.model, generatedAt); err != nil {
			return result, err
		}
		result.Embedded++
	}
	logging.Ctx(ctx).Info().
		Int("count", result.Embedded).
		Int("cache_hits", cacheHits).
		Int("api_calls", apiCalls).
		Msg("Embedded raw items")
	return result, nil
}

// EmbedEventsWithoutEmbedding backfills vectors for events missing them.
func (s *Service) EmbedEventsWithoutEmbedding(ctx context.Context, limit int) (*RunResult, error) {
	events, err := s.store.ListEventsWithoutEmbedding(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := &RunResult{EntityType: "events", Scanned: len(events)}
	if len(events) == 0 {
		return result, nil
	}

	texts := make([]string, len(events))
	for i, ev := range events {
		texts[i] = ev.CanonicalSummary
	}
	vectors, cacheHits, apiCalls, err := s.EmbedTexts(ctx, texts)
	if err != nil {
		return result, err
	}
	result.CacheHits = cacheHits
	result.APICalls = apiCalls

	generatedAt := s.now().UTC()
	for i, ev := range events {
		vec := pgvector.NewVector(vectors[i])
		if err := s.store.PersistEventEmbedding(ctx, ev.ID, vec, s.model, generatedAt); err != nil {
			return result, err
		}
		result.Embedded++
	}
	logging.Ctx(ctx).Info().
		Int("count", result.Embedded).
		Int("cache_hits", cacheHits).
		Int("api_calls", apiCalls).
		Msg("Embedded events")
	return result, nil
}

func (s *Service) requestEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if s.budget != nil {
		if err := s.budget.EnsureWithinBudget(ctx, models.TierEmbedding); err != nil {
			return nil, err
		}
	}

	response, err := s.provider.CreateEmbeddings(ctx, inputs, s.model)
	if err != nil {
		return nil, fmt.Errorf("embedding provider call: %w", err)
	}
	if len(response.Vectors) != len(inputs) {
		return nil, fmt.Errorf("embedding: response size %d does not match input size %d",
			len(response.Vectors), len(inputs))
	}

	sorted := make([]ProviderVector, len(response.Vectors))
	copy(sorted, response.Vectors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	vectors := make([][]float32, len(inputs))
	for i, pv := range sorted {
		if pv.Index != i {
			return nil, fmt.Errorf("embedding: response indices are invalid")
		}
		if len(pv.Values) != s.dimensions {
			return nil, fmt.Errorf("embedding: dimension mismatch: expected %d, got %d",
				s.dimensions, len(pv.Values))
		}
		for _, v := range pv.Values {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, fmt.Errorf("embedding: vector contains non-finite value")
			}
		}
		vectors[i] = pv.Values
	}

	if s.budget != nil {
		if err := s.budget.RecordUsage(ctx, models.TierEmbedding, int64(response.PromptTokens), 0); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func normalizeText(text string) (string, error) {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return "", ErrEmptyInput
	}
	return normalized, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// OpenAIProvider adapts the go-openai embeddings endpoint to Provider,
// falling back to total_tokens when prompt_tokens is absent.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds the provider from configuration.
func NewOpenAIProvider(cfg config.EmbeddingConfig, timeout time.Duration) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// CreateEmbeddings implements Provider.
func (p *OpenAIProvider) CreateEmbeddings(ctx context.Context, inputs []string, model string) (*ProviderResponse, error) {
	response, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}

	vectors := make([]ProviderVector, len(response.Data))
	for i, item := range response.Data {
		vectors[i] = ProviderVector{Index: item.Index, Values: item.Embedding}
	}
	promptTokens := response.Usage.PromptTokens
	if promptTokens == 0 {
		promptTokens = response.Usage.TotalTokens
	}
	return &ProviderResponse{Vectors: vectors, PromptTokens: promptTokens}, nil
}
