// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
)

// DriftAlert is one threshold breach detected in a calibration report.
type DriftAlert struct {
	TrendID   string  `json:"trend_id"`
	TrendName string  `json:"trend_name"`
	AlertType string  `json:"alert_type"` // mean_brier or bucket_error
	Severity  string  `json:"severity"`   // warning or critical
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// TrendLister provides the active trends to scan for drift.
type TrendLister interface {
	ListActiveTrendRefs(ctx context.Context) ([]TrendRef, error)
}

// TrendRef is the identity slice the drift scan needs.
type TrendRef struct {
	ID   uuid.UUID
	Name string
}

// DriftDetector scans calibration reports for threshold breaches.
type DriftDetector struct {
	service *Service
	trends  TrendLister
	cfg     config.CalibrationConfig
}

// NewDriftDetector creates the detector.
func NewDriftDetector(service *Service, trends TrendLister, cfg config.CalibrationConfig) *DriftDetector {
	return &DriftDetector{service: service, trends: trends, cfg: cfg}
}

// Scan evaluates every active trend and returns the alerts it emitted.
// Trends with fewer resolved outcomes than the configured minimum are
// skipped entirely.
func (d *DriftDetector) Scan(ctx context.Context, since, until *time.Time) ([]DriftAlert, error) {
	refs, err := d.trends.ListActiveTrendRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing trends for drift scan: %w", err)
	}

	var alerts []DriftAlert
	for _, ref := range refs {
		report, err := d.service.GetReport(ctx, ref.ID, since, until)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("trend_id", ref.ID.String()).Msg("Drift scan skipped trend")
			continue
		}
		alerts = append(alerts, d.evaluate(ref, report)...)
	}

	for _, alert := range alerts {
		metrics.RecordDriftAlert(alert.AlertType, alert.Severity)
		logging.Ctx(ctx).Warn().
			Str("trend_id", alert.TrendID).
			Str("alert_type", alert.AlertType).
			Str("severity", alert.Severity).
			Float64("value", alert.Value).
			Float64("threshold", alert.Threshold).
			Msg("Calibration drift alert")
	}
	return alerts, nil
}

func (d *DriftDetector) evaluate(ref TrendRef, report *Report) []DriftAlert {
	if report.ResolvedPredictions < d.cfg.DriftMinResolvedOutcomes {
		return nil
	}

	var alerts []DriftAlert
	if report.MeanBrierScore != nil {
		if severity, threshold, ok := severityFor(*report.MeanBrierScore,
			d.cfg.BrierWarnThreshold, d.cfg.BrierCriticalThreshold); ok {
			alerts = append(alerts, DriftAlert{
				TrendID:   ref.ID.String(),
				TrendName: ref.Name,
				AlertType: "mean_brier",
				Severity:  severity,
				Value:     *report.MeanBrierScore,
				Threshold: threshold,
				Message: fmt.Sprintf("Mean Brier score exceeded calibration drift threshold (%.3f >= %.3f).",
					*report.MeanBrierScore, threshold),
			})
		}
	}

	var worst *Bucket
	for i := range report.Buckets {
		if worst == nil || report.Buckets[i].CalibrationError > worst.CalibrationError {
			worst = &report.Buckets[i]
		}
	}
	if worst != nil {
		if severity, threshold, ok := severityFor(worst.CalibrationError,
			d.cfg.BucketErrorWarnThreshold, d.cfg.BucketErrorCriticalThreshold); ok {
			alerts = append(alerts, DriftAlert{
				TrendID:   ref.ID.String(),
				TrendName: ref.Name,
				AlertType: "bucket_error",
				Severity:  severity,
				Value:     worst.CalibrationError,
				Threshold: threshold,
				Message: fmt.Sprintf("Calibration bucket error exceeded threshold for [%.1f, %.1f) (%.3f >= %.3f).",
					worst.BucketStart, worst.BucketEnd, worst.CalibrationError, threshold),
			})
		}
	}
	return alerts
}

func severityFor(value, warn, critical float64) (string, float64, bool) {
	if critical > 0 && value >= critical {
		return "critical", critical, true
	}
	if warn > 0 && value >= warn {
		return "warning", warn, true
	}
	return "", 0, false
}
