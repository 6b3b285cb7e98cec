// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package kv wraps the shared Redis store: the cross-worker semantic cache,
// the task queues, the dead-letter list, and worker heartbeats. All
// cross-worker coordination that does not belong in PostgreSQL lives here.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/logging"
)

// Client wraps the Redis connection.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logging.Info().Msg("Connected to Redis")
	return &Client{rdb: rdb}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies connectivity for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Heartbeat records a worker's liveness with a TTL twice the beat interval.
func (c *Client) Heartbeat(ctx context.Context, workerID string, interval time.Duration) error {
	key := "horadus:worker:" + workerID
	return c.rdb.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), 2*interval).Err()
}

// FreshWorkerCount counts workers with a live heartbeat.
func (c *Client) FreshWorkerCount(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, "horadus:worker:*", 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
