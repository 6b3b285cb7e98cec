// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package webhook delivers calibration drift alerts to an optional outbound
// endpoint with bounded retries.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/s5unanow/horadus/internal/calibration"
	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/logging"
)

// backoffCap bounds the exponential delay between delivery attempts.
const backoffCap = 60 * time.Second

// DriftNotifier posts drift-alert batches to a configured webhook.
type DriftNotifier struct {
	url        string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	client     *http.Client
}

// NewDriftNotifier builds the notifier; a blank URL disables delivery.
func NewDriftNotifier(cfg config.CalibrationConfig) *DriftNotifier {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DriftNotifier{
		url:        cfg.WebhookURL,
		timeout:    timeout,
		maxRetries: cfg.WebhookMaxRetries,
		backoff:    cfg.WebhookBackoff,
		client:     &http.Client{Timeout: timeout},
	}
}

type driftPayload struct {
	EventType   string                   `json:"event_type"`
	GeneratedAt string                   `json:"generated_at"`
	TrendScope  string                   `json:"trend_scope"`
	AlertCount  int                      `json:"alert_count"`
	Alerts      []calibration.DriftAlert `json:"alerts"`
}

// Notify delivers one alert batch. Returns true when the webhook accepted
// the payload; disabled endpoints and empty batches return false without
// attempting delivery. Retries apply to 429, 5xx, and network errors, with
// exponential backoff capped at one minute.
func (n *DriftNotifier) Notify(ctx context.Context, trendScope string, generatedAt time.Time, alerts []calibration.DriftAlert) bool {
	if n.url == "" || len(alerts) == 0 {
		return false
	}

	body, err := json.Marshal(driftPayload{
		EventType:   "calibration_drift_alerts",
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		TrendScope:  trendScope,
		AlertCount:  len(alerts),
		Alerts:      alerts,
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Drift webhook payload marshal failed")
		return false
	}

	maxAttempts := n.maxRetries + 1
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = n.backoff
	expBackoff.MaxInterval = backoffCap
	expBackoff.Multiplier = 2

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryable, err := n.attempt(ctx, body)
		if err == nil {
			logging.Ctx(ctx).Info().
				Str("webhook_url", n.url).
				Str("trend_scope", trendScope).
				Int("alert_count", len(alerts)).
				Int("attempts", attempt).
				Msg("Calibration drift webhook delivered")
			return true
		}

		if !retryable || attempt == maxAttempts {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("webhook_url", n.url).
				Str("trend_scope", trendScope).
				Int("attempts", attempt).
				Int("max_attempts", maxAttempts).
				Bool("retryable", retryable).
				Msg("Calibration drift webhook delivery failed")
			return false
		}

		wait := expBackoff.NextBackOff()
		logging.Ctx(ctx).Debug().
			Str("webhook_url", n.url).
			Int("attempt", attempt).
			Dur("next_delay", wait).
			Msg("Retrying calibration drift webhook delivery")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
	return false
}

func (n *DriftNotifier) attempt(ctx context.Context, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return true, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		fmt.Errorf("http_status=%d", resp.StatusCode)
}
