// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
)

// FailoverInvoker invokes chat completions against a primary route with
// per-route retries and an optional secondary route. A circuit breaker per
// route sheds load from a provider that keeps failing; breaker-open errors
// count as connection failures and trigger failover.
type FailoverInvoker struct {
	stage     string
	primary   Route
	secondary *Route
	policy    RetryPolicy
	breakers  map[string]*gobreaker.CircuitBreaker[*ChatResponse]
}

// NewFailoverInvoker builds an invoker for one classification stage.
func NewFailoverInvoker(stage string, primary Route, secondary *Route, policy RetryPolicy) (*FailoverInvoker, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.BackoffCap <= 0 {
		policy.BackoffCap = 30 * time.Second
	}

	inv := &FailoverInvoker{
		stage:     stage,
		primary:   primary,
		secondary: secondary,
		policy:    policy,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[*ChatResponse]),
	}
	inv.breakers[routeKey(primary)] = newRouteBreaker(stage, primary)
	if secondary != nil {
		inv.breakers[routeKey(*secondary)] = newRouteBreaker(stage, *secondary)
	}
	return inv, nil
}

func routeKey(r Route) string {
	return r.Provider + "/" + r.Model
}

func newRouteBreaker(stage string, route Route) *gobreaker.CircuitBreaker[*ChatResponse] {
	return gobreaker.NewCircuitBreaker[*ChatResponse](gobreaker.Settings{
		Name:    stage + ":" + routeKey(route),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Non-retryable provider answers (schema rejections, 4xx) are
			// the caller's problem, not the route's health.
			return err == nil || !IsRetryable(err)
		},
	})
}

// CreateChatCompletion runs the request through the primary route's retry
// budget, then, when the final primary error is retryable, through the
// secondary's. The active model is returned for usage accounting.
func (inv *FailoverInvoker) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, string, error) {
	response, attempts, primaryErr := inv.invokeRoute(ctx, inv.primary, req)
	if primaryErr == nil {
		return response, inv.primary.Model, nil
	}
	if inv.secondary == nil || !IsRetryable(primaryErr) {
		return nil, "", primaryErr
	}

	reason := string(Classify(primaryErr).Code)
	metrics.LLMFailoverActivationsTotal.WithLabelValues(inv.stage, reason).Inc()
	logging.Ctx(ctx).Warn().
		Str("stage", inv.stage).
		Str("reason", reason).
		Str("primary", routeKey(inv.primary)).
		Str("secondary", routeKey(*inv.secondary)).
		Int("primary_attempts", attempts).
		Msg("LLM failover activated")

	response, _, secondaryErr := inv.invokeRoute(ctx, *inv.secondary, req)
	if secondaryErr == nil {
		return response, inv.secondary.Model, nil
	}
	logging.Ctx(ctx).Warn().
		Str("stage", inv.stage).
		Str("secondary", routeKey(*inv.secondary)).
		Str("reason", string(Classify(secondaryErr).Code)).
		Msg("LLM failover route failed")
	return nil, "", secondaryErr
}

// CreateWithSchemaFallback tries the strict json_schema format first, and on
// a schema-unsupported 400 retries the same routes with the fallback format.
func (inv *FailoverInvoker) CreateWithSchemaFallback(ctx context.Context, req ChatRequest, fallback *ResponseFormat) (*ChatResponse, string, error) {
	response, model, err := inv.CreateChatCompletion(ctx, req)
	if err == nil || fallback == nil || !IsStrictSchemaUnsupported(err) {
		return response, model, err
	}

	logging.Ctx(ctx).Warn().
		Str("stage", inv.stage).
		Str("model", inv.primary.Model).
		Msg("Strict schema unsupported; falling back to compatibility response format")

	fallbackReq := req
	fallbackReq.ResponseFormat = fallback
	return inv.CreateChatCompletion(ctx, fallbackReq)
}

// invokeRoute runs one route's retry budget: up to MaxAttempts calls with
// jittered exponential backoff, honoring context cancellation between
// attempts. Non-retryable errors abort immediately.
func (inv *FailoverInvoker) invokeRoute(ctx context.Context, route Route, req ChatRequest) (*ChatResponse, int, error) {
	breaker := inv.breakers[routeKey(route)]

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = inv.policy.Backoff
	expBackoff.MaxInterval = inv.policy.BackoffCap
	expBackoff.Multiplier = 2

	attempts := 0
	var lastErr error
	for attempts < inv.policy.MaxAttempts {
		attempts++

		response, err := breaker.Execute(func() (*ChatResponse, error) {
			return route.Client.CreateChatCompletion(ctx, req)
		})
		if err == nil {
			return response, attempts, nil
		}
		lastErr = normalizeBreakerError(err)

		if !IsRetryable(lastErr) || attempts >= inv.policy.MaxAttempts {
			return nil, attempts, lastErr
		}

		wait := expBackoff.NextBackOff()
		logging.Ctx(ctx).Warn().
			Str("stage", inv.stage).
			Str("route", routeKey(route)).
			Str("reason", string(Classify(lastErr).Code)).
			Int("attempt", attempts).
			Int("max_attempts", inv.policy.MaxAttempts).
			Dur("backoff", wait).
			Msg("LLM route retry scheduled")

		select {
		case <-ctx.Done():
			return nil, attempts, Classify(ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, attempts, lastErr
}

func normalizeBreakerError(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return &InvocationError{Code: CodeConnection, Retryable: true, Err: err}
	}
	return err
}
