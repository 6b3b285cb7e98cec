// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package classify implements the two LLM classification tiers: the cheap
// per-trend relevance filter (tier-1) and the thorough per-event structured
// extraction (tier-2). Both validate model output strictly before anything
// is persisted.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/cost"
	"github.com/s5unanow/horadus/internal/llm"
	"github.com/s5unanow/horadus/internal/models"
)

// itemContentMaxChars caps per-item content in the tier-1 payload.
const itemContentMaxChars = 4000

// ErrNoTrends is returned when classification runs without active trends.
var ErrNoTrends = errors.New("classify: at least one trend is required")

// Invoker is the policy-governed LLM surface both tiers call.
type Invoker interface {
	Invoke(ctx context.Context, req llm.PolicyRequest) (*llm.InvocationResult, error)
}

// TrendScore is one per-trend relevance score for an item.
type TrendScore struct {
	TrendID        string
	RelevanceScore int
	Rationale      *string
}

// Tier1ItemResult is the routing decision for one raw item.
type Tier1ItemResult struct {
	ItemID           uuid.UUID
	MaxRelevance     int
	ShouldQueueTier2 bool
	TrendScores      []TrendScore
	Err              error
}

// Usage accumulates token and call counts for one classifier run.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	APICalls         int
	EstimatedCostUSD float64
	CacheHits        int
}

func (u *Usage) add(result *llm.InvocationResult) {
	if result.CacheHit {
		u.CacheHits++
		return
	}
	u.PromptTokens += result.PromptTokens
	u.CompletionTokens += result.CompletionTokens
	u.APICalls++
	u.EstimatedCostUSD += result.EstimatedCostUSD
}

// Tier1Classifier routes items toward tier-2 by batched relevance scoring.
type Tier1Classifier struct {
	invoker   Invoker
	batchSize int
	threshold int
	validate  *validator.Validate
}

// NewTier1Classifier creates the relevance filter.
func NewTier1Classifier(invoker Invoker, batchSize, threshold int) *Tier1Classifier {
	if batchSize < 1 {
		batchSize = 10
	}
	return &Tier1Classifier{
		invoker:   invoker,
		batchSize: batchSize,
		threshold: threshold,
		validate:  validator.New(),
	}
}

type tier1ScoreOutput struct {
	TrendID        string  `json:"trend_id" validate:"required"`
	RelevanceScore int     `json:"relevance_score" validate:"min=0,max=10"`
	Rationale      *string `json:"rationale"`
}

type tier1ItemOutput struct {
	ItemID      string             `json:"item_id" validate:"required"`
	TrendScores []tier1ScoreOutput `json:"trend_scores" validate:"required,min=1,dive"`
}

type tier1Output struct {
	Items []tier1ItemOutput `json:"items" validate:"required,min=1,dive"`
}

// ClassifyItems scores each item against every trend, batching up to the
// configured batch size per call. A failed batch falls back to single-item
// retries; items that still fail carry their error in the result.
func (c *Tier1Classifier) ClassifyItems(ctx context.Context, items []models.RawItem, trends []models.Trend) ([]Tier1ItemResult, *Usage, error) {
	usage := &Usage{}
	if len(items) == 0 {
		return nil, usage, nil
	}
	if len(trends) == 0 {
		return nil, usage, ErrNoTrends
	}

	var results []Tier1ItemResult
	for start := 0; start < len(items); start += c.batchSize {
		end := start + c.batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		batchResults, err := c.classifyBatch(ctx, batch, trends, usage)
		if err == nil {
			results = append(results, batchResults...)
			continue
		}
		if errors.Is(err, cost.ErrBudgetExceeded) {
			return nil, usage, err
		}

		// Batch failed: retry each item on its own so one malformed row
		// cannot sink the whole batch.
		for i := range batch {
			single, serr := c.classifyBatch(ctx, batch[i:i+1], trends, usage)
			if serr != nil {
				if errors.Is(serr, cost.ErrBudgetExceeded) {
					return nil, usage, serr
				}
				results = append(results, Tier1ItemResult{ItemID: batch[i].ID, Err: serr})
				continue
			}
			results = append(results, single...)
		}
	}
	return results, usage, nil
}

func (c *Tier1Classifier) classifyBatch(ctx context.Context, items []models.RawItem, trends []models.Trend, usage *Usage) ([]Tier1ItemResult, error) {
	payload := c.buildPayload(items, trends)
	content, err := llm.BuildSafePayloadContent(payload, llm.SafePayloadOptions{
		Tag:            "news_items",
		MaxTokens:      0,
		WarningMessage: "Tier 1 payload exceeds token budget; truncating",
	})
	if err != nil {
		return nil, fmt.Errorf("building tier1 payload: %w", err)
	}

	result, err := c.invoker.Invoke(ctx, llm.PolicyRequest{
		Stage: "tier1",
		Tier:  models.TierOne,
		Messages: []llm.Message{
			{Role: "system", Content: tier1Prompt},
			{Role: "user", Content: content},
		},
		Temperature:    0,
		FallbackFormat: &llm.ResponseFormat{Type: llm.FormatJSONObject},
		PromptTemplate: tier1Prompt,
		CachePayload:   payload,
	})
	if err != nil {
		return nil, err
	}
	usage.add(result)

	output, err := c.parseOutput(result.Content)
	if err != nil {
		return nil, err
	}
	if err := c.validateAlignment(output, items, trends); err != nil {
		return nil, err
	}
	return c.toResults(output)
}

type tier1Payload struct {
	Threshold int                 `json:"threshold"`
	Trends    []tier1TrendPayload `json:"trends"`
	Items     []tier1ItemPayload  `json:"items"`
}

type tier1TrendPayload struct {
	TrendID  string   `json:"trend_id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

type tier1ItemPayload struct {
	ItemID  string `json:"item_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (c *Tier1Classifier) buildPayload(items []models.RawItem, trends []models.Trend) tier1Payload {
	trendPayloads := make([]tier1TrendPayload, 0, len(trends))
	for i := range trends {
		trendPayloads = append(trendPayloads, trendPayload(&trends[i]))
	}

	itemPayloads := make([]tier1ItemPayload, 0, len(items))
	for i := range items {
		item := &items[i]
		title := ""
		if item.Title != nil {
			title = strings.TrimSpace(*item.Title)
		}
		content := strings.TrimSpace(item.RawContent)
		if len(content) > itemContentMaxChars {
			content = content[:itemContentMaxChars] + "..."
		}
		itemPayloads = append(itemPayloads, tier1ItemPayload{
			ItemID:  item.ID.String(),
			Title:   title,
			Content: content,
		})
	}
	return tier1Payload{Threshold: c.threshold, Trends: trendPayloads, Items: itemPayloads}
}

func trendPayload(t *models.Trend) tier1TrendPayload {
	var keywords []string
	seen := make(map[string]struct{})
	for _, indicator := range t.Indicators {
		for _, keyword := range indicator.Keywords {
			normalized := strings.TrimSpace(keyword)
			if normalized == "" {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			keywords = append(keywords, normalized)
		}
	}
	return tier1TrendPayload{TrendID: t.Identifier(), Name: t.Name, Keywords: keywords}
}

func (c *Tier1Classifier) parseOutput(content string) (*tier1Output, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("classify: tier1 response missing content")
	}
	decoder := json.NewDecoder(strings.NewReader(content))
	decoder.DisallowUnknownFields()
	output := &tier1Output{}
	if err := decoder.Decode(output); err != nil {
		return nil, fmt.Errorf("classify: tier1 response is not valid JSON: %w", err)
	}
	if err := c.validate.Struct(output); err != nil {
		return nil, fmt.Errorf("classify: tier1 response failed validation: %w", err)
	}
	return output, nil
}

// validateAlignment enforces exact correspondence: the response item-id set
// equals the batch, and each item carries exactly the expected trend-id set
// with no duplicates.
func (c *Tier1Classifier) validateAlignment(output *tier1Output, items []models.RawItem, trends []models.Trend) error {
	expectedItems := make(map[string]struct{}, len(items))
	for i := range items {
		expectedItems[items[i].ID.String()] = struct{}{}
	}
	actualItems := make(map[string]struct{}, len(output.Items))
	for _, row := range output.Items {
		actualItems[row.ItemID] = struct{}{}
	}
	if len(expectedItems) != len(actualItems) {
		return errors.New("classify: tier1 response item ids do not match input batch")
	}
	for id := range expectedItems {
		if _, ok := actualItems[id]; !ok {
			return errors.New("classify: tier1 response item ids do not match input batch")
		}
	}

	expectedTrends := make(map[string]struct{}, len(trends))
	for i := range trends {
		expectedTrends[trends[i].Identifier()] = struct{}{}
	}
	for _, row := range output.Items {
		seen := make(map[string]struct{}, len(row.TrendScores))
		for _, score := range row.TrendScores {
			if _, dup := seen[score.TrendID]; dup {
				return fmt.Errorf("classify: tier1 response has duplicate trend id %s", score.TrendID)
			}
			seen[score.TrendID] = struct{}{}
		}
		if len(seen) != len(expectedTrends) {
			return fmt.Errorf("classify: tier1 response trend ids mismatch for item %s", row.ItemID)
		}
		for id := range seen {
			if _, ok := expectedTrends[id]; !ok {
				return fmt.Errorf("classify: tier1 response trend ids mismatch for item %s", row.ItemID)
			}
		}
	}
	return nil
}

func (c *Tier1Classifier) toResults(output *tier1Output) ([]Tier1ItemResult, error) {
	results := make([]Tier1ItemResult, 0, len(output.Items))
	for _, row := range output.Items {
		itemID, err := uuid.Parse(row.ItemID)
		if err != nil {
			return nil, fmt.Errorf("classify: tier1 response item id %q is not a uuid", row.ItemID)
		}

		scores := make([]TrendScore, 0, len(row.TrendScores))
		maxRelevance := 0
		for _, score := range row.TrendScores {
			scores = append(scores, TrendScore{
				TrendID:        score.TrendID,
				RelevanceScore: score.RelevanceScore,
				Rationale:      score.Rationale,
			})
			if score.RelevanceScore > maxRelevance {
				maxRelevance = score.RelevanceScore
			}
		}
		results = append(results, Tier1ItemResult{
			ItemID:           itemID,
			MaxRelevance:     maxRelevance,
			ShouldQueueTier2: maxRelevance >= c.threshold,
			TrendScores:      scores,
		})
	}
	return results, nil
}
