// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package calibration

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/database"
	"github.com/s5unanow/horadus/internal/models"
	"github.com/s5unanow/horadus/internal/trend"
)

type fakeStore struct {
	trends    map[uuid.UUID]*models.Trend
	snapshots []models.TrendSnapshot
	outcomes  []models.TrendOutcome
}

func newFakeStore() *fakeStore {
	return &fakeStore{trends: make(map[uuid.UUID]*models.Trend)}
}

func (f *fakeStore) GetTrend(_ context.Context, id uuid.UUID) (*models.Trend, error) {
	if t, ok := f.trends[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) LatestSnapshotAt(_ context.Context, trendID uuid.UUID, at time.Time) (*models.TrendSnapshot, error) {
	var best *models.TrendSnapshot
	for i := range f.snapshots {
		snap := &f.snapshots[i]
		if snap.TrendID != trendID || snap.Timestamp.After(at) {
			continue
		}
		if best == nil || snap.Timestamp.After(best.Timestamp) {
			best = snap
		}
	}
	if best == nil {
		return nil, database.ErrNotFound
	}
	copied := *best
	return &copied, nil
}

func (f *fakeStore) InsertOutcome(_ context.Context, o *models.TrendOutcome) error {
	o.ID = uuid.New()
	f.outcomes = append(f.outcomes, *o)
	return nil
}

func (f *fakeStore) ListOutcomes(_ context.Context, trendID uuid.UUID, _, _ *time.Time) ([]models.TrendOutcome, error) {
	var out []models.TrendOutcome
	for _, o := range f.outcomes {
		if o.TrendID == trendID {
			out = append(out, o)
		}
	}
	return out, nil
}

func TestBrierScore(t *testing.T) {
	tests := []struct {
		p       float64
		outcome models.OutcomeType
		want    *float64
	}{
		{1.0, models.OutcomeOccurred, f(0.0)},
		{0.0, models.OutcomeOccurred, f(1.0)},
		{0.8, models.OutcomePartial, f(0.09)},
		{0.3, models.OutcomeDidNotOccur, f(0.09)},
		{0.5, models.OutcomeOngoing, nil},
	}
	for _, tt := range tests {
		got := BrierScore(tt.p, tt.outcome)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("BrierScore(%v, %s) = %v, want nil", tt.p, tt.outcome, *got)
		case tt.want != nil && (got == nil || math.Abs(*got-*tt.want) > 1e-9):
			t.Errorf("BrierScore(%v, %s) = %v, want %v", tt.p, tt.outcome, got, *tt.want)
		}
	}
}

func f(v float64) *float64 { return &v }

func TestRecordOutcome_UsesSnapshotProbability(t *testing.T) {
	store := newFakeStore()
	tr := &models.Trend{ID: uuid.New(), CurrentLogOdds: 5.0}
	store.trends[tr.ID] = tr

	outcomeDate := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store.snapshots = append(store.snapshots, models.TrendSnapshot{
		TrendID: tr.ID, Timestamp: outcomeDate.Add(-time.Hour), LogOdds: 0.0,
	})

	svc := NewService(store)
	record, err := svc.RecordOutcome(context.Background(), tr.ID, outcomeDate, models.OutcomeOccurred, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if record.PredictedProbability != 0.5 {
		t.Errorf("predicted probability = %v, want snapshot-derived 0.5", record.PredictedProbability)
	}
	if record.PredictedRiskLevel != models.RiskHigh {
		t.Errorf("risk level = %s, want high", record.PredictedRiskLevel)
	}
	if record.BrierScore == nil || math.Abs(*record.BrierScore-0.25) > 1e-9 {
		t.Errorf("brier = %v, want 0.25", record.BrierScore)
	}
	if record.ProbabilityBandLow != 0.4 || record.ProbabilityBandHigh != 0.6 {
		t.Errorf("band = (%v, %v), want (0.4, 0.6)", record.ProbabilityBandLow, record.ProbabilityBandHigh)
	}
}

func TestRecordOutcome_FallsBackToBaseline(t *testing.T) {
	store := newFakeStore()
	tr := &models.Trend{ID: uuid.New(), BaselineLogOdds: 0.0, CurrentLogOdds: 2.0}
	store.trends[tr.ID] = tr

	svc := NewService(store)
	record, err := svc.RecordOutcome(context.Background(), tr.ID, time.Now().UTC(), models.OutcomeOngoing, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if record.PredictedProbability != 0.5 {
		t.Errorf("fallback probability = %v, want 0.5", record.PredictedProbability)
	}
	if record.BrierScore != nil {
		t.Error("ONGOING outcome must not be scored")
	}
}

func TestRecordOutcome_UnknownTrend(t *testing.T) {
	svc := NewService(newFakeStore())
	_, err := svc.RecordOutcome(context.Background(), uuid.New(), time.Now().UTC(), models.OutcomeOccurred, nil, nil, nil)
	if err != ErrTrendNotFound {
		t.Errorf("want ErrTrendNotFound, got %v", err)
	}
}

func outcomeAt(trendID uuid.UUID, p float64, outcome models.OutcomeType) models.TrendOutcome {
	return models.TrendOutcome{
		ID: uuid.New(), TrendID: trendID,
		PredictionDate:       time.Now().UTC(),
		PredictedProbability: p,
		Outcome:              outcome,
		BrierScore:           BrierScore(p, outcome),
	}
}

func TestGetReport(t *testing.T) {
	store := newFakeStore()
	trendID := uuid.New()
	store.trends[trendID] = &models.Trend{ID: trendID}

	store.outcomes = []models.TrendOutcome{
		outcomeAt(trendID, 0.90, models.OutcomeOccurred),
		outcomeAt(trendID, 0.90, models.OutcomeOccurred),
		outcomeAt(trendID, 0.10, models.OutcomeDidNotOccur),
		outcomeAt(trendID, 0.50, models.OutcomeOngoing), // unresolved
	}

	svc := NewService(store)
	report, err := svc.GetReport(context.Background(), trendID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalPredictions != 4 || report.ResolvedPredictions != 3 {
		t.Errorf("counts = (%d, %d), want (4, 3)", report.TotalPredictions, report.ResolvedPredictions)
	}
	if report.MeanBrierScore == nil {
		t.Fatal("mean brier missing")
	}
	// Mean signed error (0.1 + 0.1 - 0.1)/3 sits inside the +-0.05 band.
	if report.Overconfident || report.Underconfident {
		t.Errorf("flags = (%v, %v), want neither", report.Overconfident, report.Underconfident)
	}

	// Buckets: the 0.90s land in [0.9,1.0), the 0.10 in [0.1,0.2).
	if len(report.Buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(report.Buckets))
	}
}

func TestGetReport_OverconfidenceFlag(t *testing.T) {
	store := newFakeStore()
	trendID := uuid.New()
	// High predictions that did not occur: actual - predicted is strongly
	// negative, flagging overconfidence.
	for i := 0; i < 5; i++ {
		store.outcomes = append(store.outcomes, outcomeAt(trendID, 0.9, models.OutcomeDidNotOccur))
	}

	svc := NewService(store)
	report, err := svc.GetReport(context.Background(), trendID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Overconfident {
		t.Error("consistently failed high predictions must flag overconfident")
	}
	if report.Underconfident {
		t.Error("must not flag underconfident simultaneously")
	}
}

func TestBuildBuckets(t *testing.T) {
	trendID := uuid.New()
	outcomes := []models.TrendOutcome{
		outcomeAt(trendID, 0.05, models.OutcomeDidNotOccur),
		outcomeAt(trendID, 0.07, models.OutcomeOccurred),
		outcomeAt(trendID, 0.95, models.OutcomeOccurred),
		outcomeAt(trendID, 1.0, models.OutcomeOccurred), // clamps into last bucket
	}
	buckets := BuildBuckets(outcomes, 10)
	if len(buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(buckets))
	}

	first := buckets[0]
	if first.PredictionCount != 2 || math.Abs(first.ActualRate-0.5) > 1e-9 {
		t.Errorf("first bucket = %+v", first)
	}
	if math.Abs(first.ExpectedRate-0.05) > 1e-9 {
		t.Errorf("expected rate = %v, want midpoint 0.05", first.ExpectedRate)
	}

	last := buckets[1]
	if last.PredictionCount != 2 || last.OccurredCount != 2 {
		t.Errorf("last bucket = %+v", last)
	}
}

type fakeTrendLister struct {
	refs []TrendRef
}

func (f *fakeTrendLister) ListActiveTrendRefs(_ context.Context) ([]TrendRef, error) {
	return f.refs, nil
}

func driftConfig() config.CalibrationConfig {
	return config.CalibrationConfig{
		DriftMinResolvedOutcomes:     3,
		BrierWarnThreshold:           0.25,
		BrierCriticalThreshold:       0.35,
		BucketErrorWarnThreshold:     0.15,
		BucketErrorCriticalThreshold: 0.25,
	}
}

func TestDriftScan_EmitsAlerts(t *testing.T) {
	store := newFakeStore()
	trendID := uuid.New()
	store.trends[trendID] = &models.Trend{ID: trendID, Name: "badly calibrated"}
	for i := 0; i < 5; i++ {
		store.outcomes = append(store.outcomes, outcomeAt(trendID, 0.9, models.OutcomeDidNotOccur))
	}

	svc := NewService(store)
	detector := NewDriftDetector(svc, &fakeTrendLister{refs: []TrendRef{{ID: trendID, Name: "badly calibrated"}}}, driftConfig())

	alerts, err := detector.Scan(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want mean_brier + bucket_error", len(alerts))
	}
	for _, alert := range alerts {
		if alert.Severity != "critical" {
			t.Errorf("Brier 0.81 and bucket error far past critical: severity = %s", alert.Severity)
		}
	}
}

func TestDriftScan_RespectsMinimumResolved(t *testing.T) {
	store := newFakeStore()
	trendID := uuid.New()
	store.trends[trendID] = &models.Trend{ID: trendID}
	store.outcomes = append(store.outcomes, outcomeAt(trendID, 0.9, models.OutcomeDidNotOccur))

	svc := NewService(store)
	detector := NewDriftDetector(svc, &fakeTrendLister{refs: []TrendRef{{ID: trendID}}}, driftConfig())

	alerts, err := detector.Scan(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("one resolved outcome under minimum 3 must not alert, got %d", len(alerts))
	}
}

func TestProbabilityRoundTripThroughEngine(t *testing.T) {
	// Snapshot log-odds convert through the same math the engine uses.
	for _, p := range []float64{0.1, 0.25, 0.5, 0.9} {
		logOdds := trend.ProbToLogOdds(p)
		if got := trend.LogOddsToProb(logOdds); math.Abs(got-p) > 1e-9 {
			t.Errorf("round trip %v -> %v", p, got)
		}
	}
}
