// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/calibration"
	"github.com/s5unanow/horadus/internal/cost"
	"github.com/s5unanow/horadus/internal/database"
	"github.com/s5unanow/horadus/internal/kv"
	"github.com/s5unanow/horadus/internal/models"
	"github.com/s5unanow/horadus/internal/trend"
)

// Handler serves the HTTP API over the core services.
type Handler struct {
	store       *database.Store
	kvClient    *kv.Client
	engine      *trend.Engine
	calibration *calibration.Service
	tracker     *cost.Tracker
}

// NewHandler wires the API handlers.
func NewHandler(store *database.Store, kvClient *kv.Client, engine *trend.Engine, calibrationSvc *calibration.Service, tracker *cost.Tracker) *Handler {
	return &Handler{
		store:       store,
		kvClient:    kvClient,
		engine:      engine,
		calibration: calibrationSvc,
		tracker:     tracker,
	}
}

// Health reports migration parity, database, key-value store, and worker
// heartbeat freshness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	checks := map[string]string{}

	if version, err := h.store.SchemaVersion(ctx); err != nil {
		checks["migrations"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	} else if version != h.store.ExpectedSchemaVersion() {
		checks["migrations"] = "version mismatch"
		status = http.StatusServiceUnavailable
	} else {
		checks["migrations"] = "ok"
	}

	if err := h.store.Ping(ctx); err != nil {
		checks["database"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if err := h.kvClient.Ping(ctx); err != nil {
		checks["kv"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["kv"] = "ok"
	}

	if workers, err := h.kvClient.FreshWorkerCount(ctx); err != nil {
		checks["workers"] = "error: " + err.Error()
	} else if workers == 0 {
		checks["workers"] = "no fresh heartbeats"
	} else {
		checks["workers"] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

// Budget returns the cost tracker's daily summary.
func (h *Handler) Budget(w http.ResponseWriter, r *http.Request) {
	summary, err := h.tracker.GetDailySummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListTrends returns active trends with derived probabilities.
func (h *Handler) ListTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := h.store.ListActiveTrends(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type trendView struct {
		ID                 uuid.UUID        `json:"id"`
		Name               string           `json:"name"`
		Identifier         string           `json:"identifier"`
		CurrentProbability float64          `json:"current_probability"`
		RiskLevel          models.RiskLevel `json:"risk_level"`
		UpdatedAt          time.Time        `json:"updated_at"`
	}
	views := make([]trendView, 0, len(trends))
	for i := range trends {
		t := &trends[i]
		probability := trend.LogOddsToProb(t.CurrentLogOdds)
		views = append(views, trendView{
			ID:                 t.ID,
			Name:               t.Name,
			Identifier:         t.Identifier(),
			CurrentProbability: probability,
			RiskLevel:          trend.RiskLevelFor(probability),
			UpdatedAt:          t.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// GetTrend returns one trend with full definition.
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	trendID, ok := h.trendID(w, r)
	if !ok {
		return
	}
	t, err := h.store.GetTrend(r.Context(), trendID)
	if err != nil {
		h.notFoundOr500(w, err)
		return
	}

	probability := trend.LogOddsToProb(t.CurrentLogOdds)
	bandLow, bandHigh, confidence, evidenceCount := h.presentationStats(r.Context(), t.ID, probability)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                    t.ID,
		"name":                  t.Name,
		"definition":            t.Definition,
		"indicators":            t.Indicators,
		"baseline_log_odds":     t.BaselineLogOdds,
		"current_log_odds":      t.CurrentLogOdds,
		"current_probability":   probability,
		"risk_level":            trend.RiskLevelFor(probability),
		"probability_band_low":  bandLow,
		"probability_band_high": bandHigh,
		"confidence_rating":     confidence,
		"evidence_count_30d":    evidenceCount,
		"decay_half_life_days":  t.DecayHalfLifeDays,
		"is_active":             t.IsActive,
		"updated_at":            t.UpdatedAt,
	})
}

// presentationStats derives the adaptive probability band and confidence
// rating from the trend's recent evidence: more and better-corroborated
// evidence narrows the band, stale evidence widens it.
func (h *Handler) presentationStats(ctx context.Context, trendID uuid.UUID, probability float64) (low, high float64, confidence trend.ConfidenceRating, count30d int) {
	now := time.Now().UTC()
	evidence, err := h.store.ListTrendEvidence(ctx, trendID, 200)
	if err != nil {
		low, high = trend.ProbabilityBand(probability, 0.15)
		return low, high, trend.ConfidenceLow, 0
	}

	cutoff := now.Add(-30 * 24 * time.Hour)
	var corroborationSum float64
	var newest time.Time
	for _, ev := range evidence {
		if ev.IsInvalidated {
			continue
		}
		if ev.CreatedAt.After(cutoff) {
			count30d++
			corroborationSum += ev.Factors.Corroboration
		}
		if ev.CreatedAt.After(newest) {
			newest = ev.CreatedAt
		}
	}

	avgCorroboration := 0.0
	if count30d > 0 {
		avgCorroboration = corroborationSum / float64(count30d)
	}
	daysSinceLast := 30
	if !newest.IsZero() {
		daysSinceLast = int(now.Sub(newest).Hours() / 24)
	}

	low, high = trend.AdaptiveBand(probability, count30d, avgCorroboration, daysSinceLast)
	confidence = trend.ConfidenceFor(high-low, count30d, avgCorroboration)
	return low, high, confidence, count30d
}

// CreateTrend registers a new trend (admin only).
func (h *Handler) CreateTrend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name              string                      `json:"name"`
		Definition        map[string]any              `json:"definition"`
		Indicators        map[string]models.Indicator `json:"indicators"`
		BaselineLogOdds   float64                     `json:"baseline_log_odds"`
		DecayHalfLifeDays float64                     `json:"decay_half_life_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if payload.DecayHalfLifeDays <= 0 {
		payload.DecayHalfLifeDays = 30
	}

	t := &models.Trend{
		Name:              payload.Name,
		Definition:        payload.Definition,
		Indicators:        payload.Indicators,
		BaselineLogOdds:   payload.BaselineLogOdds,
		CurrentLogOdds:    payload.BaselineLogOdds,
		DecayHalfLifeDays: payload.DecayHalfLifeDays,
		IsActive:          true,
	}
	if err := h.store.InsertTrend(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": t.ID})
}

// TrendHistory returns the downsampled snapshot series.
func (h *Handler) TrendHistory(w http.ResponseWriter, r *http.Request) {
	trendID, ok := h.trendID(w, r)
	if !ok {
		return
	}

	bucket := r.URL.Query().Get("bucket")
	if bucket != "day" {
		bucket = "hour"
	}
	until := time.Now().UTC()
	since := until.Add(-30 * 24 * time.Hour)
	if raw := r.URL.Query().Get("days"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			since = until.Add(-time.Duration(days) * 24 * time.Hour)
		}
	}

	snapshots, err := h.store.ListSnapshotsDownsampled(r.Context(), trendID, since, until, bucket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type point struct {
		Timestamp   time.Time `json:"timestamp"`
		LogOdds     float64   `json:"log_odds"`
		Probability float64   `json:"probability"`
	}
	points := make([]point, 0, len(snapshots))
	for _, snap := range snapshots {
		points = append(points, point{
			Timestamp:   snap.Timestamp,
			LogOdds:     snap.LogOdds,
			Probability: trend.LogOddsToProb(snap.LogOdds),
		})
	}
	writeJSON(w, http.StatusOK, points)
}

// TrendEvidence lists recent evidence rows with factor breakdowns.
func (h *Handler) TrendEvidence(w http.ResponseWriter, r *http.Request) {
	trendID, ok := h.trendID(w, r)
	if !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	evidence, err := h.store.ListTrendEvidence(r.Context(), trendID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, evidence)
}

// TrendCalibration returns the calibration report.
func (h *Handler) TrendCalibration(w http.ResponseWriter, r *http.Request) {
	trendID, ok := h.trendID(w, r)
	if !ok {
		return
	}
	report, err := h.calibration.GetReport(r.Context(), trendID, nil, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RecordOutcome stores one prediction outcome (admin only).
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	trendID, ok := h.trendID(w, r)
	if !ok {
		return
	}
	var payload struct {
		OutcomeDate time.Time          `json:"outcome_date"`
		Outcome     models.OutcomeType `json:"outcome"`
		Notes       *string            `json:"notes"`
		Evidence    map[string]any     `json:"evidence"`
		RecordedBy  *string            `json:"recorded_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.OutcomeDate.IsZero() {
		payload.OutcomeDate = time.Now().UTC()
	}

	record, err := h.calibration.RecordOutcome(r.Context(), trendID, payload.OutcomeDate,
		payload.Outcome, payload.Notes, payload.Evidence, payload.RecordedBy)
	if err != nil {
		if errors.Is(err, calibration.ErrTrendNotFound) {
			writeError(w, http.StatusNotFound, "trend not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// ListSources returns active sources.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListActiveSources(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// DeadLetters returns the newest dead-letter payloads (admin only).
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	payloads, err := h.kvClient.ListDeadLetters(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payloads)
}

func (h *Handler) trendID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "trendID")
	trendID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trend id")
		return uuid.Nil, false
	}
	return trendID, true
}

func (h *Handler) notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
