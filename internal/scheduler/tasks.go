// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package scheduler

import (
	"context"
	"time"

	"github.com/s5unanow/horadus/internal/calibration"
	"github.com/s5unanow/horadus/internal/cluster"
	"github.com/s5unanow/horadus/internal/collector"
	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/embedding"
	"github.com/s5unanow/horadus/internal/kv"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
	"github.com/s5unanow/horadus/internal/models"
	"github.com/s5unanow/horadus/internal/pipeline"
	"github.com/s5unanow/horadus/internal/trend"
	"github.com/s5unanow/horadus/internal/webhook"
)

// ItemReaper resets stale PROCESSING items.
type ItemReaper interface {
	ReapStaleProcessingItems(ctx context.Context, olderThan time.Time) (int, error)
	CountPendingItems(ctx context.Context) (int, error)
}

// TaskDeps carries the services the standard task handlers drive.
type TaskDeps struct {
	Orchestrator *pipeline.Orchestrator
	Engine       *trend.Engine
	Clusterer    *cluster.Clusterer
	Embedder     *embedding.Service
	Collectors   *collector.Runner
	Drift        *calibration.DriftDetector
	Notifier     *webhook.DriftNotifier
	Reaper       ItemReaper
	Client       *kv.Client
	Workers      config.WorkersConfig
	Collection   config.CollectionConfig
}

// RegisterStandardTasks binds the core periodic tasks to the registry.
func RegisterStandardTasks(registry *Registry, deps TaskDeps) {
	registry.Register(TaskProcessPendingItems, func(ctx context.Context, _ *kv.TaskPayload) error {
		pending, err := deps.Reaper.CountPendingItems(ctx)
		if err == nil {
			metrics.ProcessingBacklogDepth.Set(float64(pending))
		}
		if pending == 0 {
			metrics.ProcessingDispatchDecisionsTotal.WithLabelValues("throttled", "empty_backlog").Inc()
			return nil
		}
		metrics.ProcessingDispatchDecisionsTotal.WithLabelValues("dispatched", "pending_backlog").Inc()

		run, err := deps.Orchestrator.ProcessPendingItems(ctx, deps.Workers.ProcessingBatchSize)
		if err != nil {
			return err
		}
		logging.Ctx(ctx).Info().
			Int("scanned", run.Scanned).
			Int("classified", run.Classified).
			Int("noise", run.Noise).
			Int("duplicates", run.Duplicates).
			Int("errors", run.Errors).
			Int("deferred", run.Deferred).
			Int("events_created", run.EventsCreated).
			Int("events_merged", run.EventsMerged).
			Int("trend_updates", run.TrendUpdates).
			Float64("estimated_cost_usd", run.Usage.EstimatedCostUSD).
			Msg("Processing run completed")
		return nil
	})

	registry.Register(TaskSnapshotTrends, func(ctx context.Context, _ *kv.TaskPayload) error {
		written, err := deps.Engine.SnapshotAll(ctx)
		if err != nil {
			return err
		}
		logging.Ctx(ctx).Debug().Int("snapshots", written).Msg("Trend snapshots written")
		return nil
	})

	registry.Register(TaskApplyTrendDecay, func(ctx context.Context, _ *kv.TaskPayload) error {
		decayed, err := deps.Engine.ApplyDecay(ctx)
		if err != nil {
			return err
		}
		logging.Ctx(ctx).Debug().Int("decayed", decayed).Msg("Trend decay applied")
		return nil
	})

	registry.Register(TaskCheckEventLifecycles, func(ctx context.Context, _ *kv.TaskPayload) error {
		_, _, err := deps.Clusterer.RunLifecycleCheck(ctx)
		return err
	})

	registry.Register(TaskClusterUnlinkedItems, func(ctx context.Context, _ *kv.TaskPayload) error {
		_, err := deps.Clusterer.ClusterUnlinkedItems(ctx, deps.Workers.ProcessingBatchSize)
		return err
	})

	if deps.Embedder != nil {
		registry.Register(TaskBackfillEmbeddings, func(ctx context.Context, _ *kv.TaskPayload) error {
			items, err := deps.Embedder.EmbedItemsWithoutEmbedding(ctx, deps.Workers.ProcessingBatchSize)
			if err != nil {
				return err
			}
			events, err := deps.Embedder.EmbedEventsWithoutEmbedding(ctx, deps.Workers.ProcessingBatchSize)
			if err != nil {
				return err
			}
			if items.Embedded > 0 || events.Embedded > 0 {
				logging.Ctx(ctx).Info().
					Int("items_embedded", items.Embedded).
					Int("events_embedded", events.Embedded).
					Msg("Embedding backfill completed")
			}
			return nil
		})
	}

	registry.Register(TaskReapStaleItems, func(ctx context.Context, _ *kv.TaskPayload) error {
		threshold := time.Now().UTC().Add(-deps.Workers.StaleProcessingThreshold)
		reset, err := deps.Reaper.ReapStaleProcessingItems(ctx, threshold)
		if err != nil {
			return err
		}
		if reset > 0 {
			metrics.ProcessingReaperResetsTotal.Add(float64(reset))
			logging.Ctx(ctx).Info().Int("reset", reset).Msg("Stale processing items reset to pending")
		}
		return nil
	})

	if deps.Collectors != nil {
		if deps.Collection.EnableRSS {
			registry.Register(TaskCollectRSS, collectorHandler(deps.Collectors, models.SourceRSS))
		}
		if deps.Collection.EnableGDELT {
			registry.Register(TaskCollectGDELT, collectorHandler(deps.Collectors, models.SourceGDELT))
		}

		registry.Register(TaskCheckSourceFreshness, func(ctx context.Context, _ *kv.TaskPayload) error {
			stale, err := deps.Collectors.CheckFreshness(ctx, deps.Collection.FreshnessThreshold)
			if err != nil {
				return err
			}
			for i := range stale {
				src := &stale[i]
				metrics.SourceCatchupDispatchTotal.WithLabelValues(string(src.Type)).Inc()
				task := &kv.TaskPayload{
					Name:          catchupTaskFor(src.Type),
					CorrelationID: logging.CorrelationIDFromContext(ctx),
				}
				if task.Name == "" {
					continue
				}
				if err := deps.Client.Enqueue(ctx, DefaultQueue, task); err != nil {
					logging.Ctx(ctx).Warn().Err(err).Str("source_id", src.ID.String()).Msg("Catch-up dispatch failed")
				}
			}
			return nil
		})
	}

	if deps.Drift != nil {
		registry.Register(TaskScanCalibrationDrift, func(ctx context.Context, _ *kv.TaskPayload) error {
			alerts, err := deps.Drift.Scan(ctx, nil, nil)
			if err != nil {
				return err
			}
			if deps.Notifier != nil && len(alerts) > 0 {
				deps.Notifier.Notify(ctx, "all_active_trends", time.Now().UTC(), alerts)
			}
			return nil
		})
	}
}

func collectorHandler(runner *collector.Runner, sourceType models.SourceType) Handler {
	return func(ctx context.Context, _ *kv.TaskPayload) error {
		results, err := runner.CollectAll(ctx, sourceType)
		if err != nil {
			return err
		}
		stored, errs := 0, 0
		for _, r := range results {
			stored += r.ItemsStored
			errs += len(r.Errors)
		}
		logging.Ctx(ctx).Info().
			Str("collector", string(sourceType)).
			Int("sources", len(results)).
			Int("stored", stored).
			Int("errors", errs).
			Msg("Collection task finished")
		return nil
	}
}

func catchupTaskFor(sourceType models.SourceType) string {
	switch sourceType {
	case models.SourceRSS:
		return TaskCollectRSS
	case models.SourceGDELT:
		return TaskCollectGDELT
	}
	return ""
}

// StandardSchedules derives the periodic schedule set from configuration.
func StandardSchedules(workers config.WorkersConfig, collection config.CollectionConfig, trendCfg config.TrendConfig) []Schedule {
	schedules := []Schedule{
		{TaskName: TaskProcessPendingItems, Interval: workers.ProcessingInterval},
		{TaskName: TaskSnapshotTrends, Interval: trendCfg.SnapshotInterval},
		{TaskName: TaskApplyTrendDecay, Interval: workers.DecayInterval},
		{TaskName: TaskCheckEventLifecycles, Interval: workers.LifecycleInterval},
		{TaskName: TaskReapStaleItems, Interval: workers.ReaperInterval},
		{TaskName: TaskCheckSourceFreshness, Interval: collection.FreshnessThreshold},
		{TaskName: TaskScanCalibrationDrift, Interval: 6 * time.Hour},
		{TaskName: TaskBackfillEmbeddings, Interval: 30 * time.Minute},
		{TaskName: TaskClusterUnlinkedItems, Interval: 30 * time.Minute},
	}
	if collection.EnableRSS {
		schedules = append(schedules, Schedule{TaskName: TaskCollectRSS, Interval: collection.RSSInterval})
	}
	if collection.EnableGDELT {
		schedules = append(schedules, Schedule{TaskName: TaskCollectGDELT, Interval: collection.GDELTInterval})
	}
	return schedules
}
