// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package classify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/models"
)

type fakeEventStore struct {
	context [][2]string
	updated *models.Event
}

func (f *fakeEventStore) ListEventContext(_ context.Context, _ uuid.UUID, _ int) ([][2]string, error) {
	return f.context, nil
}

func (f *fakeEventStore) UpdateEvent(_ context.Context, ev *models.Event) error {
	copied := *ev
	f.updated = &copied
	return nil
}

func testEvent() *models.Event {
	now := time.Now().UTC()
	return &models.Event{
		ID:               uuid.New(),
		CanonicalSummary: "Border shelling reported",
		FirstSeenAt:      now,
		LastMentionAt:    now,
		LifecycleStatus:  models.LifecycleConfirmed,
	}
}

func validTier2Response(trendID string) string {
	raw, _ := json.Marshal(map[string]any{
		"summary":         "Cross-border artillery exchange near the frontier",
		"extracted_what":  "artillery exchange",
		"extracted_who":   []string{"Army A", "Army B", "Army A"},
		"extracted_where": "border region",
		"extracted_when":  "2026-07-30T14:00:00Z",
		"claims":          []string{"shelling occurred", "casualties unconfirmed"},
		"categories":      []string{"military", "conflict"},
		"trend_impacts": []map[string]any{{
			"trend_id":    trendID,
			"signal_type": "military_movement",
			"direction":   "escalatory",
			"severity":    0.7,
			"confidence":  0.8,
			"rationale":   "direct exchange of fire",
		}},
	})
	return string(raw)
}

func TestTier2_ValidResponsePersisted(t *testing.T) {
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}
	store := &fakeEventStore{context: [][2]string{{"Title", "Body text"}}}
	invoker := &scriptedInvoker{script: []any{validTier2Response("eu-russia")}}
	classifier := NewTier2Classifier(invoker, store)

	event := testEvent()
	result, usage, err := classifier.ClassifyEvent(context.Background(), event, trends, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.TrendImpactsCount != 1 {
		t.Errorf("impacts = %d, want 1", result.TrendImpactsCount)
	}
	if usage.APICalls != 1 {
		t.Errorf("api calls = %d, want 1", usage.APICalls)
	}

	persisted := store.updated
	if persisted == nil {
		t.Fatal("event not persisted")
	}
	if persisted.ExtractedWhat == nil || *persisted.ExtractedWhat != "artillery exchange" {
		t.Errorf("extracted_what = %v", persisted.ExtractedWhat)
	}
	if len(persisted.ExtractedWho) != 2 {
		t.Errorf("extracted_who = %v, want deduped to 2", persisted.ExtractedWho)
	}
	if persisted.ExtractedWhen == nil || !persisted.ExtractedWhen.Equal(time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("extracted_when = %v", persisted.ExtractedWhen)
	}
	if persisted.ExtractedClaims == nil || len(persisted.ExtractedClaims.TrendImpacts) != 1 {
		t.Fatal("trend impacts not stored in extracted_claims")
	}
	impact := persisted.ExtractedClaims.TrendImpacts[0]
	if impact.TrendID != "eu-russia" || impact.Direction != models.DirectionEscalatory {
		t.Errorf("impact = %+v", impact)
	}
}

func TestTier2_UnknownTrendIDRejected(t *testing.T) {
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}
	store := &fakeEventStore{}
	invoker := &scriptedInvoker{script: []any{validTier2Response("made-up-trend")}}
	classifier := NewTier2Classifier(invoker, store)

	_, _, err := classifier.ClassifyEvent(context.Background(), testEvent(), trends, []string{"chunk"})
	if err == nil || !strings.Contains(err.Error(), "unknown trend id") {
		t.Errorf("unknown trend id must be rejected, got %v", err)
	}
	if store.updated != nil {
		t.Error("rejected extraction must not persist")
	}
}

func TestTier2_DuplicateTrendImpactRejected(t *testing.T) {
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}
	impact := map[string]any{
		"trend_id": "eu-russia", "signal_type": "military_movement",
		"direction": "escalatory", "severity": 0.5, "confidence": 0.5,
	}
	raw, _ := json.Marshal(map[string]any{
		"summary":        "s",
		"extracted_what": "w",
		"trend_impacts":  []map[string]any{impact, impact},
	})
	invoker := &scriptedInvoker{script: []any{string(raw)}}
	classifier := NewTier2Classifier(invoker, &fakeEventStore{})

	_, _, err := classifier.ClassifyEvent(context.Background(), testEvent(), trends, []string{"chunk"})
	if err == nil || !strings.Contains(err.Error(), "duplicated trend id") {
		t.Errorf("duplicate impact must be rejected, got %v", err)
	}
}

func TestTier2_MissingRequiredFieldsRejected(t *testing.T) {
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}
	raw, _ := json.Marshal(map[string]any{"summary": "only a summary"})
	invoker := &scriptedInvoker{script: []any{string(raw)}}
	classifier := NewTier2Classifier(invoker, &fakeEventStore{})

	_, _, err := classifier.ClassifyEvent(context.Background(), testEvent(), trends, []string{"chunk"})
	if err == nil {
		t.Error("missing extracted_what must fail validation")
	}
}

func TestTier2_SeverityOutOfRangeRejected(t *testing.T) {
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}
	raw, _ := json.Marshal(map[string]any{
		"summary":        "s",
		"extracted_what": "w",
		"trend_impacts": []map[string]any{{
			"trend_id": "eu-russia", "signal_type": "military_movement",
			"direction": "escalatory", "severity": 1.5, "confidence": 0.5,
		}},
	})
	invoker := &scriptedInvoker{script: []any{string(raw)}}
	classifier := NewTier2Classifier(invoker, &fakeEventStore{})

	_, _, err := classifier.ClassifyEvent(context.Background(), testEvent(), trends, []string{"chunk"})
	if err == nil {
		t.Error("severity 1.5 must fail validation")
	}
}

func TestTier2_StrictSchemaRequested(t *testing.T) {
	trends := []models.Trend{trendWithID("eu-russia", "EU-Russia")}
	invoker := &scriptedInvoker{script: []any{validTier2Response("eu-russia")}}
	classifier := NewTier2Classifier(invoker, &fakeEventStore{})

	if _, _, err := classifier.ClassifyEvent(context.Background(), testEvent(), trends, []string{"chunk"}); err != nil {
		t.Fatal(err)
	}
	req := invoker.requests[0]
	if req.StrictFormat == nil || req.StrictFormat.Type != "json_schema" {
		t.Error("tier2 must request the strict json_schema format first")
	}
	if req.FallbackFormat == nil || req.FallbackFormat.Type != "json_object" {
		t.Error("tier2 must supply the json_object fallback")
	}
}

func TestParseWhen(t *testing.T) {
	tests := []struct {
		name string
		in   *string
		want *time.Time
	}{
		{"nil stays nil", nil, nil},
		{"blank stays nil", strPtr("  "), nil},
		{"unparseable drops to nil", strPtr("sometime last week"), nil},
		{"rfc3339 z", strPtr("2026-07-30T14:00:00Z"), timePtr(time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC))},
		{"offset normalized to utc", strPtr("2026-07-30T16:00:00+02:00"), timePtr(time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC))},
		{"date only", strPtr("2026-07-30"), timePtr(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseWhen(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("want nil, got %v", got)
			case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }
