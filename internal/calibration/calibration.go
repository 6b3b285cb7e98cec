// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package calibration tracks predicted-vs-actual trend outcomes: Brier
// scoring, reliability curves, and drift alerting.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/database"
	"github.com/s5unanow/horadus/internal/models"
	"github.com/s5unanow/horadus/internal/trend"
)

// DefaultBucketCount is the reliability-curve bin count.
const DefaultBucketCount = 10

// bandHalfWidth is the symmetric probability band recorded with outcomes.
const bandHalfWidth = 0.10

// confidenceBiasThreshold is the mean signed error past which a trend is
// flagged over- or under-confident.
const confidenceBiasThreshold = 0.05

// ErrTrendNotFound is returned for outcomes against unknown trends.
var ErrTrendNotFound = errors.New("calibration: trend not found")

// Store is the persistence surface the service needs.
type Store interface {
	GetTrend(ctx context.Context, id uuid.UUID) (*models.Trend, error)
	LatestSnapshotAt(ctx context.Context, trendID uuid.UUID, at time.Time) (*models.TrendSnapshot, error)
	InsertOutcome(ctx context.Context, o *models.TrendOutcome) error
	ListOutcomes(ctx context.Context, trendID uuid.UUID, since, until *time.Time) ([]models.TrendOutcome, error)
}

// Bucket is one reliability-curve bin.
type Bucket struct {
	BucketStart      float64 `json:"bucket_start"`
	BucketEnd        float64 `json:"bucket_end"`
	PredictionCount  int     `json:"prediction_count"`
	OccurredCount    int     `json:"occurred_count"`
	ActualRate       float64 `json:"actual_rate"`
	ExpectedRate     float64 `json:"expected_rate"`
	CalibrationError float64 `json:"calibration_error"`
}

// Report is the calibration summary for one trend.
type Report struct {
	TotalPredictions    int      `json:"total_predictions"`
	ResolvedPredictions int      `json:"resolved_predictions"`
	MeanBrierScore      *float64 `json:"mean_brier_score"`
	Buckets             []Bucket `json:"buckets"`
	Overconfident       bool     `json:"overconfident"`
	Underconfident      bool     `json:"underconfident"`
}

// Service records outcomes and builds calibration reports.
type Service struct {
	store Store
}

// NewService creates the calibration service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// BrierScore computes (p - a)^2 for scorable outcomes; ONGOING returns nil.
func BrierScore(predictedProbability float64, outcome models.OutcomeType) *float64 {
	actual, ok := outcome.ActualValue()
	if !ok {
		return nil
	}
	score := (predictedProbability - actual) * (predictedProbability - actual)
	return &score
}

// RecordOutcome stores one outcome, deriving the predicted probability from
// the most recent snapshot at or before the outcome date (else the trend's
// baseline state), with the risk band and Brier score computed at record
// time.
func (s *Service) RecordOutcome(ctx context.Context, trendID uuid.UUID, outcomeDate time.Time, outcome models.OutcomeType, notes *string, evidence map[string]any, recordedBy *string) (*models.TrendOutcome, error) {
	t, err := s.store.GetTrend(ctx, trendID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTrendNotFound
		}
		return nil, fmt.Errorf("loading trend: %w", err)
	}

	predictionDate := outcomeDate.UTC()
	predicted := s.predictedProbabilityAt(ctx, t, predictionDate)
	bandLow, bandHigh := trend.ProbabilityBand(predicted, bandHalfWidth)

	record := &models.TrendOutcome{
		TrendID:              trendID,
		PredictionDate:       predictionDate,
		PredictedProbability: predicted,
		PredictedRiskLevel:   trend.RiskLevelFor(predicted),
		ProbabilityBandLow:   bandLow,
		ProbabilityBandHigh:  bandHigh,
		OutcomeDate:          predictionDate,
		Outcome:              outcome,
		OutcomeNotes:         notes,
		OutcomeEvidence:      evidence,
		BrierScore:           BrierScore(predicted, outcome),
		RecordedBy:           recordedBy,
	}
	if err := s.store.InsertOutcome(ctx, record); err != nil {
		return nil, fmt.Errorf("storing outcome: %w", err)
	}
	return record, nil
}

func (s *Service) predictedProbabilityAt(ctx context.Context, t *models.Trend, at time.Time) float64 {
	snap, err := s.store.LatestSnapshotAt(ctx, t.ID, at)
	if err != nil {
		return trend.LogOddsToProb(t.BaselineLogOdds)
	}
	return trend.LogOddsToProb(snap.LogOdds)
}

// GetReport builds the calibration report for one trend over an optional
// date range.
func (s *Service) GetReport(ctx context.Context, trendID uuid.UUID, since, until *time.Time) (*Report, error) {
	outcomes, err := s.store.ListOutcomes(ctx, trendID, since, until)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}

	var scored []models.TrendOutcome
	for _, o := range outcomes {
		if _, ok := o.Outcome.ActualValue(); ok {
			scored = append(scored, o)
		}
	}

	buckets := BuildBuckets(scored, DefaultBucketCount)

	var brierSum float64
	brierCount := 0
	signedError := 0.0
	for _, o := range scored {
		if o.BrierScore != nil {
			brierSum += *o.BrierScore
			brierCount++
		} else if computed := BrierScore(o.PredictedProbability, o.Outcome); computed != nil {
			brierSum += *computed
			brierCount++
		}
		actual, _ := o.Outcome.ActualValue()
		signedError += actual - o.PredictedProbability
	}

	var meanBrier *float64
	if brierCount > 0 {
		mean := brierSum / float64(brierCount)
		meanBrier = &mean
	}
	meanSignedError := 0.0
	if len(scored) > 0 {
		meanSignedError = signedError / float64(len(scored))
	}

	return &Report{
		TotalPredictions:    len(outcomes),
		ResolvedPredictions: len(scored),
		MeanBrierScore:      meanBrier,
		Buckets:             buckets,
		Overconfident:       meanSignedError < -confidenceBiasThreshold,
		Underconfident:      meanSignedError > confidenceBiasThreshold,
	}, nil
}

// BuildBuckets groups scored outcomes by predicted probability range.
// Empty buckets are omitted; expected rate is the bucket midpoint.
func BuildBuckets(outcomes []models.TrendOutcome, bucketCount int) []Bucket {
	if bucketCount < 1 {
		bucketCount = DefaultBucketCount
	}
	width := 1.0 / float64(bucketCount)

	type stats struct {
		count         int
		occurredCount int
		actualSum     float64
	}
	byIndex := make([]stats, bucketCount)

	for _, o := range outcomes {
		actual, ok := o.Outcome.ActualValue()
		if !ok {
			continue
		}
		probability := o.PredictedProbability
		if probability < 0 {
			probability = 0
		}
		if probability > 1 {
			probability = 1
		}
		index := int(probability / width)
		if index >= bucketCount {
			index = bucketCount - 1
		}
		byIndex[index].count++
		if o.Outcome == models.OutcomeOccurred {
			byIndex[index].occurredCount++
		}
		byIndex[index].actualSum += actual
	}

	var buckets []Bucket
	for index, st := range byIndex {
		if st.count == 0 {
			continue
		}
		start := float64(index) * width
		end := start + width
		actualRate := st.actualSum / float64(st.count)
		expectedRate := (start + end) / 2
		err := actualRate - expectedRate
		if err < 0 {
			err = -err
		}
		buckets = append(buckets, Bucket{
			BucketStart:      start,
			BucketEnd:        end,
			PredictionCount:  st.count,
			OccurredCount:    st.occurredCount,
			ActualRate:       actualRate,
			ExpectedRate:     expectedRate,
			CalibrationError: err,
		})
	}
	return buckets
}
