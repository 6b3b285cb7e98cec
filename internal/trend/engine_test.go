// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package trend

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/models"
)

// fakeStore mirrors the database's locking semantics with a per-trend mutex
// so the concurrency properties the real store guarantees are observable in
// tests.
type fakeStore struct {
	mu        sync.Mutex
	trends    map[uuid.UUID]*models.Trend
	evidence  []models.TrendEvidence
	snapshots []models.TrendSnapshot
}

func newFakeStore(trends ...*models.Trend) *fakeStore {
	s := &fakeStore{trends: make(map[uuid.UUID]*models.Trend)}
	for _, t := range trends {
		s.trends[t.ID] = t
	}
	return s
}

func (s *fakeStore) GetTrend(_ context.Context, id uuid.UUID) (*models.Trend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trends[id]
	if !ok {
		return nil, ErrTrendNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *fakeStore) ListActiveTrends(_ context.Context) ([]models.Trend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trend
	for _, t := range s.trends {
		if t.IsActive {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) ApplyEvidenceLocked(_ context.Context, ev *models.TrendEvidence) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trends[ev.TrendID]
	if !ok {
		return 0, 0, ErrTrendNotFound
	}
	previous := t.CurrentLogOdds
	t.CurrentLogOdds = previous + ev.DeltaLogOdds
	t.UpdatedAt = time.Now().UTC()
	ev.ID = uuid.New()
	ev.CreatedAt = t.UpdatedAt
	s.evidence = append(s.evidence, *ev)
	return previous, t.CurrentLogOdds, nil
}

func (s *fakeStore) ApplyDecayLocked(_ context.Context, trendID uuid.UUID, decide func(*models.Trend) (float64, bool)) (bool, float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trends[trendID]
	if !ok {
		return false, 0, 0, ErrTrendNotFound
	}
	previous := t.CurrentLogOdds
	newLogOdds, apply := decide(t)
	if !apply {
		return false, previous, previous, nil
	}
	t.CurrentLogOdds = newLogOdds
	t.UpdatedAt = time.Now().UTC()
	return true, previous, newLogOdds, nil
}

func (s *fakeStore) CountEventEvidence(_ context.Context, trendID, eventID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ev := range s.evidence {
		if ev.TrendID == trendID && ev.EventID == eventID {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) InvalidateEventEvidenceLocked(_ context.Context, eventID, feedbackID uuid.UUID) (map[uuid.UUID]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reversed := make(map[uuid.UUID]float64)
	now := time.Now().UTC()
	for i := range s.evidence {
		ev := &s.evidence[i]
		if ev.EventID != eventID || ev.IsInvalidated {
			continue
		}
		reversed[ev.TrendID] += ev.DeltaLogOdds
		ev.IsInvalidated = true
		ev.InvalidatedAt = &now
		ev.InvalidationFeedbackID = &feedbackID
	}
	for trendID, sum := range reversed {
		s.trends[trendID].CurrentLogOdds -= sum
	}
	return reversed, nil
}

func (s *fakeStore) AppendSnapshot(_ context.Context, snap *models.TrendSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.ID = uuid.New()
	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *fakeStore) LatestSnapshotAt(_ context.Context, trendID uuid.UUID, at time.Time) (*models.TrendSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.TrendSnapshot
	for i := range s.snapshots {
		snap := &s.snapshots[i]
		if snap.TrendID != trendID || snap.Timestamp.After(at) {
			continue
		}
		if best == nil || snap.Timestamp.After(best.Timestamp) {
			best = snap
		}
	}
	if best == nil {
		return nil, ErrTrendNotFound
	}
	copied := *best
	return &copied, nil
}

func testTrend() *models.Trend {
	return &models.Trend{
		ID:                uuid.New(),
		Name:              "eu-russia-escalation",
		BaselineLogOdds:   -2.0,
		CurrentLogOdds:    0.0,
		DecayHalfLifeDays: 30,
		IsActive:          true,
		UpdatedAt:         time.Now().UTC(),
	}
}

func TestApplyEvidence_WritesEvidenceAndAdvancesLogOdds(t *testing.T) {
	tr := testTrend()
	store := newFakeStore(tr)
	engine := NewEngine(store, 0.25)

	factors := models.EvidenceFactors{
		BaseWeight: 0.1, Severity: 1, Confidence: 1, Credibility: 1,
		Corroboration: 1, Novelty: 1, Direction: models.DirectionEscalatory,
	}
	update, err := engine.ApplyEvidence(context.Background(), tr, uuid.New(), "military_movement", factors, nil)
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(update.DeltaApplied-0.1) > 1e-12 {
		t.Errorf("delta applied = %v, want 0.1", update.DeltaApplied)
	}
	if update.PreviousProbability != 0.5 {
		t.Errorf("previous probability = %v, want 0.5", update.PreviousProbability)
	}
	if len(store.evidence) != 1 {
		t.Fatalf("evidence rows = %d, want 1", len(store.evidence))
	}
	if store.evidence[0].SignalType != "military_movement" {
		t.Errorf("signal type = %q", store.evidence[0].SignalType)
	}
}

func TestApplyEvidence_ConcurrentSameTrend(t *testing.T) {
	// Two concurrent applications on one trend must both land: final
	// log-odds is the algebraic sum and both evidence rows exist.
	tr := testTrend()
	store := newFakeStore(tr)
	engine := NewEngine(store, 0.25)

	factors := models.EvidenceFactors{
		BaseWeight: 0.2, Severity: 1, Confidence: 1, Credibility: 1,
		Corroboration: 1, Novelty: 1, Direction: models.DirectionEscalatory,
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.ApplyEvidence(context.Background(), tr, uuid.New(), "signal", factors, nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	final := store.trends[tr.ID].CurrentLogOdds
	if math.Abs(final-0.4) > 1e-12 {
		t.Errorf("final log-odds = %v, want 0.4", final)
	}
	if len(store.evidence) != 2 {
		t.Errorf("evidence rows = %d, want 2", len(store.evidence))
	}
}

func TestNoveltyFor_DecaysPerEvent(t *testing.T) {
	tr := testTrend()
	store := newFakeStore(tr)
	engine := NewEngine(store, 0.25)
	eventID := uuid.New()
	ctx := context.Background()

	factors := models.EvidenceFactors{
		BaseWeight: 0.05, Severity: 1, Confidence: 1, Credibility: 1,
		Corroboration: 1, Novelty: 1, Direction: models.DirectionEscalatory,
	}

	wantNovelty := []float64{1.0, 0.5, 0.25, 0.25}
	for i, want := range wantNovelty {
		novelty, err := engine.NoveltyFor(ctx, tr.ID, eventID)
		if err != nil {
			t.Fatal(err)
		}
		if novelty != want {
			t.Errorf("application %d novelty = %v, want %v", i+1, novelty, want)
		}
		factors.Novelty = novelty
		if _, err := engine.ApplyEvidence(ctx, tr, eventID, "signal", factors, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestApplyDecay_PullsTowardBaseline(t *testing.T) {
	tr := testTrend()
	tr.CurrentLogOdds = 1.0
	tr.UpdatedAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	store := newFakeStore(tr)
	engine := NewEngine(store, 0.25)

	decayed, err := engine.ApplyDecay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if decayed != 1 {
		t.Fatalf("decayed trends = %d, want 1", decayed)
	}

	// One half-life elapsed: distance to baseline (3.0) halves.
	got := store.trends[tr.ID].CurrentLogOdds
	want := -2.0 + 3.0*0.5
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("decayed log-odds = %v, want %v", got, want)
	}
}

func TestApplyDecay_ThenManualDeltaAddsOnTop(t *testing.T) {
	tr := testTrend()
	tr.CurrentLogOdds = 1.0
	tr.UpdatedAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	store := newFakeStore(tr)
	engine := NewEngine(store, 0.25)
	ctx := context.Background()

	if _, err := engine.ApplyDecay(ctx); err != nil {
		t.Fatal(err)
	}
	decayedValue := store.trends[tr.ID].CurrentLogOdds

	update, err := engine.ApplyManualDelta(ctx, tr.ID, tr.ID, 0.12, nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(update.DeltaApplied-0.12) > 1e-12 {
		t.Errorf("manual delta = %v, want 0.12", update.DeltaApplied)
	}

	got := store.trends[tr.ID].CurrentLogOdds
	if math.Abs(got-(decayedValue+0.12)) > 1e-9 {
		t.Errorf("manual delta must add on top of decayed value: got %v, want %v", got, decayedValue+0.12)
	}
}

func TestInvalidateEventEvidence(t *testing.T) {
	tr := testTrend()
	store := newFakeStore(tr)
	engine := NewEngine(store, 0.25)
	ctx := context.Background()
	eventID := uuid.New()

	factors := models.EvidenceFactors{
		BaseWeight: 0.1, Severity: 1, Confidence: 1, Credibility: 1,
		Corroboration: 1, Novelty: 1, Direction: models.DirectionEscalatory,
	}
	for i := 0; i < 2; i++ {
		if _, err := engine.ApplyEvidence(ctx, tr, eventID, "signal", factors, nil); err != nil {
			t.Fatal(err)
		}
	}
	before := store.trends[tr.ID].CurrentLogOdds

	feedbackID := uuid.New()
	reversed, err := engine.InvalidateEventEvidence(ctx, eventID, feedbackID)
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(reversed[tr.ID]-0.2) > 1e-12 {
		t.Errorf("reversed sum = %v, want 0.2", reversed[tr.ID])
	}
	after := store.trends[tr.ID].CurrentLogOdds
	if math.Abs(after-(before-0.2)) > 1e-12 {
		t.Errorf("log-odds after invalidation = %v, want %v", after, before-0.2)
	}
	for _, ev := range store.evidence {
		if !ev.IsInvalidated || ev.InvalidationFeedbackID == nil || *ev.InvalidationFeedbackID != feedbackID {
			t.Error("evidence row not marked invalidated with feedback id")
		}
	}

	// A second invalidation must be a no-op.
	reversed, err = engine.InvalidateEventEvidence(ctx, eventID, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(reversed) != 0 {
		t.Errorf("second invalidation reversed %v, want nothing", reversed)
	}
}

func TestProbabilityAt_UsesSnapshotThenFallback(t *testing.T) {
	tr := testTrend()
	tr.CurrentLogOdds = 2.0
	store := newFakeStore(tr)
	engine := NewEngine(store, 0.25)
	ctx := context.Background()

	// No snapshots: falls back to current state.
	p, err := engine.ProbabilityAt(ctx, tr.ID, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p-LogOddsToProb(2.0)) > 1e-12 {
		t.Errorf("fallback probability = %v", p)
	}

	snapTime := time.Now().UTC().Add(-time.Hour)
	store.snapshots = append(store.snapshots, models.TrendSnapshot{
		ID: uuid.New(), TrendID: tr.ID, Timestamp: snapTime, LogOdds: 0.0,
	})
	p, err = engine.ProbabilityAt(ctx, tr.ID, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if p != 0.5 {
		t.Errorf("snapshot probability = %v, want 0.5", p)
	}
}

func TestRiskLevelBands(t *testing.T) {
	tests := []struct {
		p    float64
		want models.RiskLevel
	}{
		{0.05, models.RiskLow},
		{0.10, models.RiskGuarded},
		{0.24, models.RiskGuarded},
		{0.25, models.RiskElevated},
		{0.49, models.RiskElevated},
		{0.50, models.RiskHigh},
		{0.74, models.RiskHigh},
		{0.75, models.RiskSevere},
		{0.99, models.RiskSevere},
	}
	for _, tt := range tests {
		if got := RiskLevelFor(tt.p); got != tt.want {
			t.Errorf("RiskLevelFor(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
