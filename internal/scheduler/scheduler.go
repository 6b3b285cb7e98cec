// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package scheduler runs the periodic task dispatcher and the queue-backed
// worker runtime. The dispatcher enqueues named tasks on their intervals;
// queue consumers pop tasks, execute registered handlers, retry with
// backoff, and dead-letter payloads once the retry budget is exhausted.
// Every long-running loop is a suture.Service supervised by the tree.
package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/kv"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/metrics"
)

// Task names routed through the queue.
const (
	TaskCollectRSS           = "collect_rss"
	TaskCollectGDELT         = "collect_gdelt"
	TaskProcessPendingItems  = "process_pending_items"
	TaskSnapshotTrends       = "snapshot_trends"
	TaskApplyTrendDecay      = "apply_trend_decay"
	TaskCheckEventLifecycles = "check_event_lifecycles"
	TaskReapStaleItems       = "reap_stale_processing_items"
	TaskCheckSourceFreshness = "check_source_freshness"
	TaskScanCalibrationDrift = "scan_calibration_drift"
	TaskBackfillEmbeddings   = "backfill_embeddings"
	TaskClusterUnlinkedItems = "cluster_unlinked_items"
)

// DefaultQueue is the queue periodic tasks route to.
const DefaultQueue = "default"

// Handler executes one task occurrence.
type Handler func(ctx context.Context, task *kv.TaskPayload) error

// Registry maps task names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task name.
func (r *Registry) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// DispatcherService enqueues tasks on their configured intervals. Each task
// gets a deterministic jitter derived from its name so a fleet of
// dispatchers does not align their enqueues.
type DispatcherService struct {
	client    *kv.Client
	schedules []Schedule
}

// Schedule is one periodic task definition.
type Schedule struct {
	TaskName string
	Interval time.Duration
	Queue    string
}

// NewDispatcherService builds the dispatcher.
func NewDispatcherService(client *kv.Client, schedules []Schedule) *DispatcherService {
	return &DispatcherService{client: client, schedules: schedules}
}

// Serve implements suture.Service.
func (d *DispatcherService) Serve(ctx context.Context) error {
	type tick struct {
		schedule Schedule
		ticker   *time.Ticker
	}

	ticks := make([]tick, 0, len(d.schedules))
	cases := make(chan Schedule, len(d.schedules))
	for _, schedule := range d.schedules {
		if schedule.Interval <= 0 {
			continue
		}
		ticker := time.NewTicker(schedule.Interval + jitterFor(schedule.TaskName, schedule.Interval))
		ticks = append(ticks, tick{schedule: schedule, ticker: ticker})

		go func(s Schedule, t *time.Ticker) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					select {
					case cases <- s:
					case <-ctx.Done():
						return
					}
				}
			}
		}(schedule, ticker)
	}
	defer func() {
		for _, t := range ticks {
			t.ticker.Stop()
		}
	}()

	logging.Info().Int("schedules", len(ticks)).Msg("Task dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case schedule := <-cases:
			queue := schedule.Queue
			if queue == "" {
				queue = DefaultQueue
			}
			task := &kv.TaskPayload{
				Name:          schedule.TaskName,
				CorrelationID: logging.GenerateCorrelationID(),
			}
			if err := d.client.Enqueue(ctx, queue, task); err != nil {
				logging.Warn().Err(err).Str("task", schedule.TaskName).Msg("Task enqueue failed")
			}
		}
	}
}

// jitterFor derives a stable per-task jitter up to 10% of the interval.
func jitterFor(name string, interval time.Duration) time.Duration {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	span := interval / 10
	if span <= 0 {
		return 0
	}
	return time.Duration(uint64(h.Sum32()) % uint64(span))
}

// WorkerService consumes one queue, executing handlers with retries and
// dead-letter capture. Trace context propagates via the task's correlation
// id.
type WorkerService struct {
	client     *kv.Client
	queue      string
	registry   *Registry
	maxRetries int
	backoff    time.Duration
	workerID   string
}

// NewWorkerService builds one queue consumer.
func NewWorkerService(client *kv.Client, queue string, registry *Registry, maxRetries int, backoff time.Duration) *WorkerService {
	return &WorkerService{
		client:     client,
		queue:      queue,
		registry:   registry,
		maxRetries: maxRetries,
		backoff:    backoff,
		workerID:   uuid.New().String()[:8],
	}
}

// Serve implements suture.Service.
func (w *WorkerService) Serve(ctx context.Context) error {
	logging.Info().Str("queue", w.queue).Str("worker_id", w.workerID).Msg("Queue worker started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := w.client.Dequeue(ctx, w.queue, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Str("queue", w.queue).Msg("Queue pop failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue
		}
		w.execute(ctx, task)
	}
}

func (w *WorkerService) execute(ctx context.Context, task *kv.TaskPayload) {
	handler, ok := w.registry.handlers[task.Name]
	if !ok {
		logging.Warn().Str("task", task.Name).Msg("No handler registered; dropping task")
		return
	}

	taskCtx := logging.ContextWithTaskID(ctx, uuid.New().String()[:8])
	if task.CorrelationID != "" {
		taskCtx = logging.ContextWithCorrelationID(taskCtx, task.CorrelationID)
	}

	err := handler(taskCtx, task)
	if err == nil {
		return
	}

	metrics.WorkerErrorsTotal.WithLabelValues(task.Name).Inc()
	logging.Ctx(taskCtx).Warn().Err(err).
		Str("task", task.Name).
		Int("retries", task.Retries).
		Msg("Task handler failed")

	if task.Retries >= w.maxRetries {
		w.deadLetter(taskCtx, task, err)
		return
	}

	// Exponential backoff before the retry re-enters the queue.
	wait := w.backoff * (1 << task.Retries)
	if wait > 5*time.Minute {
		wait = 5 * time.Minute
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(wait):
	}

	retry := *task
	retry.Retries++
	if enqueueErr := w.client.Enqueue(ctx, w.queue, &retry); enqueueErr != nil {
		logging.Ctx(taskCtx).Error().Err(enqueueErr).Str("task", task.Name).Msg("Retry enqueue failed")
		w.deadLetter(taskCtx, task, err)
	}
}

func (w *WorkerService) deadLetter(ctx context.Context, task *kv.TaskPayload, cause error) {
	metrics.WorkerDeadLettersTotal.WithLabelValues(task.Name).Inc()
	payload := &kv.DeadLetterPayload{
		TaskName:         task.Name,
		TaskID:           logging.TaskIDFromContext(ctx),
		ExceptionType:    fmt.Sprintf("%T", cause),
		ExceptionMessage: cause.Error(),
		Args:             task.Args,
		Retries:          task.Retries,
	}
	if err := w.client.PushDeadLetter(ctx, payload); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("task", task.Name).Msg("Dead letter push failed")
	}
}

// HeartbeatService keeps the worker's liveness key fresh for the health
// endpoint's worker-freshness check.
type HeartbeatService struct {
	client   *kv.Client
	workerID string
	interval time.Duration
}

// NewHeartbeatService builds the heartbeat loop.
func NewHeartbeatService(client *kv.Client, interval time.Duration) *HeartbeatService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HeartbeatService{client: client, workerID: uuid.New().String()[:8], interval: interval}
}

// Serve implements suture.Service.
func (h *HeartbeatService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.client.Heartbeat(ctx, h.workerID, h.interval); err != nil {
			logging.Warn().Err(err).Msg("Worker heartbeat failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
