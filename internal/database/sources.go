// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/s5unanow/horadus/internal/models"
)

const sourceColumns = `id, name, type, url, credibility_score, source_tier, reporting_type,
	active, last_fetched_at, ingestion_window_end_at, error_count, last_error, config,
	created_at, updated_at`

func scanSource(row pgx.Row) (*models.Source, error) {
	var src models.Source
	var configJSON []byte
	err := row.Scan(
		&src.ID, &src.Name, &src.Type, &src.URL, &src.CredibilityScore, &src.SourceTier,
		&src.ReportingType, &src.Active, &src.LastFetchedAt, &src.IngestionWindowEndAt,
		&src.ErrorCount, &src.LastError, &configJSON, &src.CreatedAt, &src.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &src.Config); err != nil {
			return nil, fmt.Errorf("decoding source config: %w", err)
		}
	}
	return &src, nil
}

// InsertSource creates a source row.
func (s *Store) InsertSource(ctx context.Context, src *models.Source) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	var configJSON []byte
	if src.Config != nil {
		var err error
		if configJSON, err = json.Marshal(src.Config); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (id, name, type, url, credibility_score, source_tier,
			reporting_type, active, config)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		src.ID, src.Name, src.Type, src.URL, src.CredibilityScore, src.SourceTier,
		src.ReportingType, src.Active, configJSON)
	return err
}

// GetSource loads one source.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM sources WHERE id = $1`, sourceColumns), id)
	return scanSource(row)
}

// ListActiveSources returns active sources, optionally filtered by type.
func (s *Store) ListActiveSources(ctx context.Context, sourceType *models.SourceType) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM sources
		WHERE active AND ($1::text IS NULL OR type = $1)
		ORDER BY name ASC`, sourceColumns), sourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// AdvanceSourceWindow records a successful collection: the watermark moves
// to windowEnd, last_fetched_at updates, and the error counter resets.
func (s *Store) AdvanceSourceWindow(ctx context.Context, id uuid.UUID, windowEnd, fetchedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources SET ingestion_window_end_at = $2, last_fetched_at = $3,
			error_count = 0, last_error = NULL, updated_at = now()
		WHERE id = $1`, id, windowEnd, fetchedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSourceError increments the error counter and stores the last error.
func (s *Store) RecordSourceError(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources SET error_count = error_count + 1, last_error = $2, updated_at = now()
		WHERE id = $1`, id, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleSources returns active sources whose last fetch predates the
// threshold (or that were never fetched).
func (s *Store) ListStaleSources(ctx context.Context, before time.Time) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM sources
		WHERE active AND (last_fetched_at IS NULL OR last_fetched_at < $1)
		ORDER BY last_fetched_at ASC NULLS FIRST`, sourceColumns), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}
