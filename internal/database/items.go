// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/models"
)

const rawItemColumns = `id, source_id, external_id, url, title, raw_content, content_hash,
	fetched_at, published_at, language, embedding, embedding_model, embedding_generated_at,
	processing_status, error_message`

func scanRawItem(row pgx.Row) (*models.RawItem, error) {
	var item models.RawItem
	err := row.Scan(
		&item.ID, &item.SourceID, &item.ExternalID, &item.URL, &item.Title,
		&item.RawContent, &item.ContentHash, &item.FetchedAt, &item.PublishedAt,
		&item.Language, &item.Embedding, &item.EmbeddingModel, &item.EmbeddingGeneratedAt,
		&item.ProcessingStatus, &item.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertRawItem stores a newly collected item. A content-hash uniqueness
// race inside the dedup window surfaces as ErrUniqueViolation for the
// collector to swallow.
func (s *Store) InsertRawItem(ctx context.Context, item *models.RawItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.ProcessingStatus == "" {
		item.ProcessingStatus = models.StatusPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raw_items (id, source_id, external_id, url, title, raw_content, content_hash,
			fetched_at, published_at, language, embedding, embedding_model, embedding_generated_at,
			processing_status, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		item.ID, item.SourceID, item.ExternalID, item.URL, item.Title, item.RawContent,
		item.ContentHash, item.FetchedAt, item.PublishedAt, item.Language, item.Embedding,
		item.EmbeddingModel, item.EmbeddingGeneratedAt, item.ProcessingStatus, item.ErrorMessage,
	)
	return mapUniqueViolation(err)
}

// GetRawItem loads one item by id.
func (s *Store) GetRawItem(ctx context.Context, id uuid.UUID) (*models.RawItem, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM raw_items WHERE id = $1`, rawItemColumns), id)
	return scanRawItem(row)
}

// ClaimPendingItems atomically moves up to limit PENDING items to PROCESSING
// and returns them. Row-level locking with SKIP LOCKED gives each concurrent
// worker a disjoint set; the status write releases the claim to the reaper
// if the worker dies mid-run.
func (s *Store) ClaimPendingItems(ctx context.Context, limit int) ([]models.RawItem, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		UPDATE raw_items
		SET processing_status = 'PROCESSING', processing_started_at = now(), error_message = NULL
		WHERE id IN (
			SELECT id FROM raw_items
			WHERE processing_status = 'PENDING'
			ORDER BY fetched_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, rawItemColumns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.RawItem
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItemStatus writes an item's terminal (or reverted) status.
func (s *Store) UpdateItemStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus, errorMessage *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raw_items SET processing_status = $2, error_message = $3 WHERE id = $1`,
		id, status, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PersistItemEmbedding stores a generated vector with its model lineage.
func (s *Store) PersistItemEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector, model string, generatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raw_items SET embedding = $2, embedding_model = $3, embedding_generated_at = $4
		WHERE id = $1`, id, vec, model, generatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindItemByField returns the id of the first item inside the window whose
// column matches value. column must be one of the dedup columns.
func (s *Store) FindItemByField(ctx context.Context, column, value string, windowStart time.Time, excludeItemID *uuid.UUID) (*uuid.UUID, error) {
	switch column {
	case "external_id", "url", "content_hash":
	default:
		return nil, fmt.Errorf("database: unsupported dedup column %q", column)
	}

	query := fmt.Sprintf(`
		SELECT id FROM raw_items
		WHERE fetched_at >= $1 AND %s = $2 AND ($3::uuid IS NULL OR id <> $3)
		LIMIT 1`, column)

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, windowStart, value, excludeItemID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// FindNearestItem returns the closest stored item by cosine distance, bounded
// by maxDistance, restricted to the window and to the same embedding model.
func (s *Store) FindNearestItem(ctx context.Context, vec pgvector.Vector, embeddingModel string, windowStart time.Time, maxDistance float64, excludeItemID *uuid.UUID) (*models.NeighborResult, error) {
	var id uuid.UUID
	var distance float64
	err := s.pool.QueryRow(ctx, `
		SELECT id, embedding <=> $1 AS distance
		FROM raw_items
		WHERE fetched_at >= $2
		  AND embedding IS NOT NULL
		  AND embedding_model = $3
		  AND embedding <=> $1 <= $4
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY distance ASC, id ASC
		LIMIT 1`, vec, windowStart, embeddingModel, maxDistance, excludeItemID).
		Scan(&id, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.NeighborResult{EntityID: id, Similarity: 1.0 - distance}, nil
}

// ListItemsWithoutEmbedding returns items missing vectors, oldest first.
func (s *Store) ListItemsWithoutEmbedding(ctx context.Context, limit int) ([]models.RawItem, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM raw_items
		WHERE embedding IS NULL AND raw_content <> ''
		ORDER BY fetched_at ASC LIMIT $1`, rawItemColumns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.RawItem
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListUnlinkedItems returns items not yet linked into any event, oldest
// first. The clusterer's backfill walks these after crashes or partial runs.
func (s *Store) ListUnlinkedItems(ctx context.Context, limit int) ([]models.RawItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.source_id, r.external_id, r.url, r.title, r.raw_content, r.content_hash,
			r.fetched_at, r.published_at, r.language, r.embedding, r.embedding_model,
			r.embedding_generated_at, r.processing_status, r.error_message
		FROM raw_items r
		LEFT JOIN event_items ei ON ei.item_id = r.id
		WHERE ei.item_id IS NULL
		ORDER BY r.fetched_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.RawItem
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ReapStaleProcessingItems resets PROCESSING items older than the threshold
// back to PENDING and returns the reset count.
func (s *Store) ReapStaleProcessingItems(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raw_items SET processing_status = 'PENDING', processing_started_at = NULL
		WHERE processing_status = 'PROCESSING'
		  AND processing_started_at IS NOT NULL AND processing_started_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CountPendingItems reports the current backlog depth.
func (s *Store) CountPendingItems(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM raw_items WHERE processing_status = 'PENDING'`).Scan(&count)
	return count, err
}
