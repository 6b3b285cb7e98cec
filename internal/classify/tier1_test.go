// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/cost"
	"github.com/s5unanow/horadus/internal/llm"
	"github.com/s5unanow/horadus/internal/models"
)

func errBudgetSentinel() error { return cost.ErrBudgetExceeded }

// scriptedInvoker returns queued contents or errors in order; the last
// entry repeats.
type scriptedInvoker struct {
	script   []any // string (content) or error
	calls    int
	requests []llm.PolicyRequest
}

func (s *scriptedInvoker) Invoke(_ context.Context, req llm.PolicyRequest) (*llm.InvocationResult, error) {
	s.requests = append(s.requests, req)
	index := s.calls
	if index >= len(s.script) {
		index = len(s.script) - 1
	}
	s.calls++
	switch v := s.script[index].(type) {
	case string:
		return &llm.InvocationResult{Content: v, ActiveModel: "gpt-4.1-nano", PromptTokens: 100, CompletionTokens: 50}, nil
	case error:
		return nil, v
	}
	return nil, errors.New("scripted invoker misconfigured")
}

func trendWithID(id, name string) models.Trend {
	return models.Trend{
		ID:         uuid.New(),
		Name:       name,
		Definition: map[string]any{"id": id},
		Indicators: map[string]models.Indicator{
			"military_movement": {
				Weight: 0.04, Direction: models.DirectionEscalatory,
				Keywords: []string{"troops", "border"},
			},
		},
		IsActive: true,
	}
}

func tier1Response(items []models.RawItem, scoresByItem map[uuid.UUID]map[string]int) string {
	type score struct {
		TrendID        string `json:"trend_id"`
		RelevanceScore int    `json:"relevance_score"`
	}
	type item struct {
		ItemID      string  `json:"item_id"`
		TrendScores []score `json:"trend_scores"`
	}
	var rows []item
	for _, it := range items {
		var scores []score
		for trendID, value := range scoresByItem[it.ID] {
			scores = append(scores, score{TrendID: trendID, RelevanceScore: value})
		}
		rows = append(rows, item{ItemID: it.ID.String(), TrendScores: scores})
	}
	raw, _ := json.Marshal(map[string]any{"items": rows})
	return string(raw)
}

func testItems(n int) []models.RawItem {
	items := make([]models.RawItem, n)
	for i := range items {
		items[i] = models.RawItem{ID: uuid.New(), RawContent: fmt.Sprintf("article %d", i)}
	}
	return items
}

func TestTier1_ThresholdRouting(t *testing.T) {
	items := testItems(2)
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia"), trendWithID("us-china", "US-China")}

	response := tier1Response(items, map[uuid.UUID]map[string]int{
		items[0].ID: {"eu-russia": 9, "us-china": 2},
		items[1].ID: {"eu-russia": 1, "us-china": 1},
	})
	invoker := &scriptedInvoker{script: []any{response}}
	classifier := NewTier1Classifier(invoker, 10, 5)

	results, usage, err := classifier.ClassifyItems(context.Background(), items, trends)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	byID := make(map[uuid.UUID]Tier1ItemResult)
	for _, r := range results {
		byID[r.ItemID] = r
	}
	if !byID[items[0].ID].ShouldQueueTier2 || byID[items[0].ID].MaxRelevance != 9 {
		t.Errorf("item 0 = %+v, want queued with max 9", byID[items[0].ID])
	}
	if byID[items[1].ID].ShouldQueueTier2 {
		t.Errorf("item 1 scored (1,1) must be noise")
	}
	if usage.APICalls != 1 || usage.PromptTokens != 100 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestTier1_MissingTrendIDRejected(t *testing.T) {
	items := testItems(1)
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia"), trendWithID("us-china", "US-China")}

	// Response omits us-china; the batch must fail and the single-item
	// fallback (same bad response) surfaces the error per item.
	response := tier1Response(items, map[uuid.UUID]map[string]int{
		items[0].ID: {"eu-russia": 7},
	})
	invoker := &scriptedInvoker{script: []any{response}}
	classifier := NewTier1Classifier(invoker, 10, 5)

	results, _, err := classifier.ClassifyItems(context.Background(), items, trends)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Errorf("misaligned response must carry per-item error, got %+v", results)
	}
}

func TestTier1_UnknownItemIDRejected(t *testing.T) {
	items := testItems(1)
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}

	stranger := testItems(1)
	response := tier1Response(stranger, map[uuid.UUID]map[string]int{
		stranger[0].ID: {"eu-russia": 5},
	})
	invoker := &scriptedInvoker{script: []any{response}}
	classifier := NewTier1Classifier(invoker, 10, 5)

	results, _, err := classifier.ClassifyItems(context.Background(), items, trends)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Err == nil {
		t.Error("response with foreign item id must fail")
	}
}

func TestTier1_BatchFailureFallsBackToSingles(t *testing.T) {
	items := testItems(2)
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}

	good0 := tier1Response(items[:1], map[uuid.UUID]map[string]int{items[0].ID: {"eu-russia": 8}})
	good1 := tier1Response(items[1:], map[uuid.UUID]map[string]int{items[1].ID: {"eu-russia": 2}})
	invoker := &scriptedInvoker{script: []any{"not json", good0, good1}}
	classifier := NewTier1Classifier(invoker, 10, 5)

	results, _, err := classifier.ClassifyItems(context.Background(), items, trends)
	if err != nil {
		t.Fatal(err)
	}
	if invoker.calls != 3 {
		t.Errorf("calls = %d, want batch + 2 singles", invoker.calls)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("fallback singles should succeed, got %v", r.Err)
		}
	}
}

func TestTier1_BudgetExceededPropagates(t *testing.T) {
	items := testItems(1)
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}

	budgetErr := fmt.Errorf("wrapped: %w", errBudgetSentinel())
	invoker := &scriptedInvoker{script: []any{budgetErr}}
	classifier := NewTier1Classifier(invoker, 10, 5)

	_, _, err := classifier.ClassifyItems(context.Background(), items, trends)
	if err == nil {
		t.Fatal("budget exhaustion must propagate, not degrade to per-item errors")
	}
}

func TestTier1_RequiresTrends(t *testing.T) {
	classifier := NewTier1Classifier(&scriptedInvoker{script: []any{"{}"}}, 10, 5)
	_, _, err := classifier.ClassifyItems(context.Background(), testItems(1), nil)
	if !errors.Is(err, ErrNoTrends) {
		t.Errorf("want ErrNoTrends, got %v", err)
	}
}

func TestTier1_ScoreOutOfRangeRejected(t *testing.T) {
	items := testItems(1)
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}

	raw, _ := json.Marshal(map[string]any{"items": []map[string]any{{
		"item_id": items[0].ID.String(),
		"trend_scores": []map[string]any{{
			"trend_id": "eu-russia", "relevance_score": 11,
		}},
	}}})
	invoker := &scriptedInvoker{script: []any{string(raw)}}
	classifier := NewTier1Classifier(invoker, 10, 5)

	results, _, err := classifier.ClassifyItems(context.Background(), items, trends)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Err == nil {
		t.Error("relevance_score 11 must fail validation")
	}
}
