// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package dedup detects duplicate raw items by exact fields and embedding
// similarity inside a rolling window.
//
// Checks run in a fixed order and short-circuit on first hit:
// external_id, normalized url, content_hash, then embedding similarity.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/models"
)

// ErrInvalidThreshold is returned for similarity thresholds outside [0,1].
var ErrInvalidThreshold = errors.New("dedup: similarity_threshold must be between 0 and 1")

// Store is the persistence surface the service needs.
type Store interface {
	FindItemByField(ctx context.Context, column, value string, windowStart time.Time, excludeItemID *uuid.UUID) (*uuid.UUID, error)
	FindNearestItem(ctx context.Context, vec pgvector.Vector, embeddingModel string, windowStart time.Time, maxDistance float64, excludeItemID *uuid.UUID) (*models.NeighborResult, error)
}

// MatchReason identifies which check produced a duplicate hit.
type MatchReason string

const (
	MatchExternalID  MatchReason = "external_id"
	MatchURL         MatchReason = "url"
	MatchContentHash MatchReason = "content_hash"
	MatchEmbedding   MatchReason = "embedding"
)

// Result describes one duplicate lookup.
type Result struct {
	IsDuplicate   bool
	MatchedItemID *uuid.UUID
	MatchReason   MatchReason
	Similarity    *float64
}

// Query carries the candidate item's dedup-relevant fields.
type Query struct {
	ExternalID     *string
	URL            *string
	ContentHash    *string
	Embedding      *pgvector.Vector
	EmbeddingModel *string
	ExcludeItemID  *uuid.UUID
	WindowDays     int
}

// Service performs duplicate detection against the item store.
type Service struct {
	store               Store
	similarityThreshold float64
	urlNormalizer       *URLNormalizer
	defaultWindowDays   int
	now                 func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock; tests use this to pin the window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a deduplication service. similarityThreshold must be in [0,1].
func New(store Store, similarityThreshold float64, windowDays int, normalizer *URLNormalizer, opts ...Option) (*Service, error) {
	if similarityThreshold < 0 || similarityThreshold > 1 {
		return nil, ErrInvalidThreshold
	}
	if windowDays <= 0 {
		windowDays = 7
	}
	if normalizer == nil {
		normalizer = NewURLNormalizer(QueryModeStripAll)
	}
	s := &Service{
		store:               store,
		similarityThreshold: similarityThreshold,
		urlNormalizer:       normalizer,
		defaultWindowDays:   windowDays,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FindDuplicate returns duplicate match details for a candidate item.
func (s *Service) FindDuplicate(ctx context.Context, q Query) (*Result, error) {
	windowDays := q.WindowDays
	if windowDays <= 0 {
		windowDays = s.defaultWindowDays
	}
	windowStart := s.now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)

	exact := []struct {
		column string
		value  *string
		reason MatchReason
	}{
		{"external_id", q.ExternalID, MatchExternalID},
		{"url", s.normalizedURL(q.URL), MatchURL},
		{"content_hash", q.ContentHash, MatchContentHash},
	}
	for _, check := range exact {
		if check.value == nil || *check.value == "" {
			continue
		}
		matched, err := s.store.FindItemByField(ctx, check.column, *check.value, windowStart, q.ExcludeItemID)
		if err != nil {
			return nil, fmt.Errorf("dedup %s lookup: %w", check.column, err)
		}
		if matched != nil {
			return &Result{IsDuplicate: true, MatchedItemID: matched, MatchReason: check.reason}, nil
		}
	}

	if q.Embedding != nil && q.EmbeddingModel != nil && *q.EmbeddingModel != "" {
		maxDistance := 1.0 - s.similarityThreshold
		neighbor, err := s.store.FindNearestItem(ctx, *q.Embedding, *q.EmbeddingModel, windowStart, maxDistance, q.ExcludeItemID)
		if err != nil {
			return nil, fmt.Errorf("dedup embedding lookup: %w", err)
		}
		if neighbor != nil {
			similarity := neighbor.Similarity
			return &Result{
				IsDuplicate:   true,
				MatchedItemID: &neighbor.EntityID,
				MatchReason:   MatchEmbedding,
				Similarity:    &similarity,
			}, nil
		}
	}

	return &Result{IsDuplicate: false}, nil
}

// IsDuplicate is a convenience wrapper returning only duplicate status.
func (s *Service) IsDuplicate(ctx context.Context, q Query) (bool, error) {
	result, err := s.FindDuplicate(ctx, q)
	if err != nil {
		return false, err
	}
	return result.IsDuplicate, nil
}

func (s *Service) normalizedURL(raw *string) *string {
	if raw == nil {
		return nil
	}
	normalized := s.urlNormalizer.Normalize(*raw)
	if normalized == "" {
		return nil
	}
	return &normalized
}

// ComputeContentHash returns the hex sha256 used for exact deduplication.
func ComputeContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
