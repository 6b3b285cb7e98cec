// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package kv

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/s5unanow/horadus/internal/logging"
)

const (
	// DeadLetterKey matches the broker's dead-letter list name.
	DeadLetterKey = "celery:dead_letter"

	// DeadLetterMaxItems bounds the list; oldest entries fall off.
	DeadLetterMaxItems = 1000

	queuePrefix = "horadus:queue:"
)

// TaskPayload is one enqueued task.
type TaskPayload struct {
	Name          string         `json:"name"`
	Args          map[string]any `json:"args,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Retries       int            `json:"retries"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
}

// DeadLetterPayload records one task that exhausted its retry budget.
type DeadLetterPayload struct {
	TaskName         string         `json:"task_name"`
	TaskID           string         `json:"task_id"`
	ExceptionType    string         `json:"exception_type"`
	ExceptionMessage string         `json:"exception_message"`
	Args             map[string]any `json:"args,omitempty"`
	Retries          int            `json:"retries"`
	FailedAt         time.Time      `json:"failed_at"`
}

// Enqueue pushes a task onto the named queue.
func (c *Client) Enqueue(ctx context.Context, queue string, task *TaskPayload) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return c.rdb.LPush(ctx, queuePrefix+queue, raw).Err()
}

// Dequeue blocks up to timeout for the next task on the named queue.
// Returns (nil, nil) on timeout.
func (c *Client) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*TaskPayload, error) {
	result, err := c.rdb.BRPop(ctx, timeout, queuePrefix+queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) != 2 {
		return nil, nil
	}

	var task TaskPayload
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		logging.Warn().Err(err).Str("queue", queue).Msg("Dropping undecodable task payload")
		return nil, nil
	}
	return &task, nil
}

// QueueDepth reports the number of waiting tasks.
func (c *Client) QueueDepth(ctx context.Context, queue string) (int64, error) {
	return c.rdb.LLen(ctx, queuePrefix+queue).Result()
}

// PushDeadLetter records a task that exhausted its retries, trimming the
// list to the newest DeadLetterMaxItems entries.
func (c *Client) PushDeadLetter(ctx context.Context, payload *DeadLetterPayload) error {
	if payload.FailedAt.IsZero() {
		payload.FailedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, DeadLetterKey, raw)
	pipe.LTrim(ctx, DeadLetterKey, 0, DeadLetterMaxItems-1)
	_, err = pipe.Exec(ctx)
	return err
}

// ListDeadLetters returns the newest dead-letter payloads, up to limit.
func (c *Client) ListDeadLetters(ctx context.Context, limit int64) ([]DeadLetterPayload, error) {
	if limit <= 0 || limit > DeadLetterMaxItems {
		limit = DeadLetterMaxItems
	}
	raws, err := c.rdb.LRange(ctx, DeadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	payloads := make([]DeadLetterPayload, 0, len(raws))
	for _, raw := range raws {
		var payload DeadLetterPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}
