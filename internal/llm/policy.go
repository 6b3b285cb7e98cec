// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package llm

import (
	"context"

	"github.com/s5unanow/horadus/internal/metrics"
	"github.com/s5unanow/horadus/internal/models"
)

// BudgetGuard is the cost-tracker surface the policy needs.
type BudgetGuard interface {
	EnsureWithinBudget(ctx context.Context, tier models.CostTier) error
	RecordUsage(ctx context.Context, tier models.CostTier, inputTokens, outputTokens int64) error
}

// SemanticCache is the optional cross-worker response cache.
type SemanticCache interface {
	Get(ctx context.Context, stage, model, promptTemplate string, payload any) (string, bool)
	Set(ctx context.Context, stage, model, promptTemplate string, payload any, value string)
}

// InvocationResult is the outcome of one policy-governed invocation.
type InvocationResult struct {
	Content          string
	ActiveModel      string
	PromptTokens     int
	CompletionTokens int
	EstimatedCostUSD float64
	CacheHit         bool
}

// PolicyRequest carries everything one governed invocation needs.
type PolicyRequest struct {
	Stage          string
	Tier           models.CostTier
	Messages       []Message
	Temperature    float32
	StrictFormat   *ResponseFormat
	FallbackFormat *ResponseFormat

	// PromptTemplate and CachePayload key the semantic cache; both must be
	// set for caching to engage.
	PromptTemplate string
	CachePayload   any
}

// Policy composes budget enforcement, semantic caching, failover invocation,
// strict-schema fallback, and usage accounting.
type Policy struct {
	invoker *FailoverInvoker
	budget  BudgetGuard
	cache   SemanticCache
}

// NewPolicy wires one stage's invocation policy. budget and cache may be nil
// to disable the respective concern.
func NewPolicy(invoker *FailoverInvoker, budget BudgetGuard, cache SemanticCache) *Policy {
	return &Policy{invoker: invoker, budget: budget, cache: cache}
}

// Invoke runs one governed invocation:
//
//  1. semantic cache consult (hit short-circuits, costs nothing)
//  2. budget check for the tier
//  3. failover invocation with strict-schema fallback
//  4. usage recording and cost estimation
func (p *Policy) Invoke(ctx context.Context, req PolicyRequest) (*InvocationResult, error) {
	cacheable := p.cache != nil && req.PromptTemplate != "" && req.CachePayload != nil
	if cacheable {
		if cached, ok := p.cache.Get(ctx, req.Stage, p.invoker.primary.Model, req.PromptTemplate, req.CachePayload); ok {
			return &InvocationResult{
				Content:     cached,
				ActiveModel: p.invoker.primary.Model,
				CacheHit:    true,
			}, nil
		}
	}

	if p.budget != nil {
		if err := p.budget.EnsureWithinBudget(ctx, req.Tier); err != nil {
			return nil, err
		}
	}

	chatReq := ChatRequest{
		Model:       p.invoker.primary.Model,
		Temperature: req.Temperature,
		Messages:    req.Messages,
	}

	var response *ChatResponse
	var activeModel string
	var err error
	if req.StrictFormat != nil {
		chatReq.ResponseFormat = req.StrictFormat
		response, activeModel, err = p.invoker.CreateWithSchemaFallback(ctx, chatReq, req.FallbackFormat)
	} else {
		chatReq.ResponseFormat = req.FallbackFormat
		response, activeModel, err = p.invoker.CreateChatCompletion(ctx, chatReq)
	}
	if err != nil {
		return nil, err
	}

	if p.budget != nil {
		if err := p.budget.RecordUsage(ctx, req.Tier,
			int64(response.PromptTokens), int64(response.CompletionTokens)); err != nil {
			return nil, err
		}
	}

	cost := EstimateModelCostUSD(activeModel, response.PromptTokens, response.CompletionTokens)
	metrics.RecordLLMCall(req.Stage, cost)

	if cacheable {
		p.cache.Set(ctx, req.Stage, p.invoker.primary.Model, req.PromptTemplate, req.CachePayload, response.Content)
	}

	return &InvocationResult{
		Content:          response.Content,
		ActiveModel:      activeModel,
		PromptTokens:     response.PromptTokens,
		CompletionTokens: response.CompletionTokens,
		EstimatedCostUSD: cost,
	}, nil
}
