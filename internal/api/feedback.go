// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/models"
)

// EventFeedback records an operator action on an event. An invalidate
// action additionally reverses the event's live evidence deltas on every
// affected trend.
func (h *Handler) EventFeedback(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	var payload struct {
		Action    models.FeedbackAction `json:"action"`
		Notes     *string               `json:"notes"`
		CreatedBy *string               `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch payload.Action {
	case models.FeedbackPin, models.FeedbackMarkNoise, models.FeedbackInvalidate:
	default:
		writeError(w, http.StatusBadRequest, "action must be pin, mark_noise, or invalidate")
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetEvent(ctx, eventID); err != nil {
		h.notFoundOr500(w, err)
		return
	}

	feedback := &models.HumanFeedback{
		TargetType: models.TargetEvent,
		TargetID:   eventID,
		Action:     payload.Action,
		Notes:      payload.Notes,
		CreatedBy:  payload.CreatedBy,
	}
	if err := h.store.InsertFeedback(ctx, feedback); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]any{"id": feedback.ID, "action": payload.Action}
	if payload.Action == models.FeedbackInvalidate {
		reversed, err := h.engine.InvalidateEventEvidence(ctx, eventID, feedback.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reversedView := make(map[string]float64, len(reversed))
		for trendID, sum := range reversed {
			reversedView[trendID.String()] = sum
		}
		response["reversed_deltas"] = reversedView
	}
	writeJSON(w, http.StatusCreated, response)
}

// TrendOverride applies a manual log-odds delta to a trend.
func (h *Handler) TrendOverride(w http.ResponseWriter, r *http.Request) {
	trendID, ok := h.trendID(w, r)
	if !ok {
		return
	}

	var payload struct {
		DeltaLogOdds float64 `json:"delta_log_odds"`
		Notes        *string `json:"notes"`
		CreatedBy    *string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetTrend(ctx, trendID); err != nil {
		h.notFoundOr500(w, err)
		return
	}

	feedback := &models.HumanFeedback{
		TargetType: models.TargetTrend,
		TargetID:   trendID,
		Action:     models.FeedbackOverrideDelta,
		CorrectedValue: map[string]any{
			"delta_log_odds": payload.DeltaLogOdds,
		},
		Notes:     payload.Notes,
		CreatedBy: payload.CreatedBy,
	}
	if err := h.store.InsertFeedback(ctx, feedback); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	update, err := h.engine.ApplyManualDelta(ctx, trendID, trendID, payload.DeltaLogOdds, payload.Notes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"feedback_id":          feedback.ID,
		"previous_probability": update.PreviousProbability,
		"new_probability":      update.NewProbability,
		"delta_applied":        update.DeltaApplied,
	})
}

// ListFeedback returns recent feedback records.
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	var targetType *models.FeedbackTarget
	if raw := r.URL.Query().Get("target_type"); raw != "" {
		value := models.FeedbackTarget(raw)
		targetType = &value
	}
	var action *models.FeedbackAction
	if raw := r.URL.Query().Get("action"); raw != "" {
		value := models.FeedbackAction(raw)
		action = &value
	}

	records, err := h.store.ListFeedback(r.Context(), targetType, action, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}
