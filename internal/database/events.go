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

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/s5unanow/horadus/internal/models"
)

const eventColumns = `id, canonical_summary, embedding, embedding_model, embedding_generated_at,
	source_count, unique_source_count, first_seen_at, last_mention_at, confirmed_at,
	lifecycle_status, primary_item_id, extracted_who, extracted_what, extracted_where,
	extracted_when, categories, extracted_claims, has_contradictions`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var ev models.Event
	var whoJSON, categoriesJSON, claimsJSON []byte
	err := row.Scan(
		&ev.ID, &ev.CanonicalSummary, &ev.Embedding, &ev.EmbeddingModel, &ev.EmbeddingGeneratedAt,
		&ev.SourceCount, &ev.UniqueSourceCount, &ev.FirstSeenAt, &ev.LastMentionAt, &ev.ConfirmedAt,
		&ev.LifecycleStatus, &ev.PrimaryItemID, &whoJSON, &ev.ExtractedWhat, &ev.ExtractedWhere,
		&ev.ExtractedWhen, &categoriesJSON, &claimsJSON, &ev.HasContradictions,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(whoJSON) > 0 {
		if err := json.Unmarshal(whoJSON, &ev.ExtractedWho); err != nil {
			return nil, fmt.Errorf("decoding extracted_who: %w", err)
		}
	}
	if len(categoriesJSON) > 0 {
		if err := json.Unmarshal(categoriesJSON, &ev.Categories); err != nil {
			return nil, fmt.Errorf("decoding categories: %w", err)
		}
	}
	if len(claimsJSON) > 0 {
		claims := &models.ExtractedClaims{}
		if err := json.Unmarshal(claimsJSON, claims); err != nil {
			return nil, fmt.Errorf("decoding extracted_claims: %w", err)
		}
		ev.ExtractedClaims = claims
	}
	return &ev, nil
}

// InsertEvent creates a new event row.
func (s *Store) InsertEvent(ctx context.Context, ev *models.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.LifecycleStatus == "" {
		ev.LifecycleStatus = models.LifecycleEmerging
	}
	whoJSON, categoriesJSON, claimsJSON, err := marshalEventJSON(ev)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, canonical_summary, embedding, embedding_model, embedding_generated_at,
			source_count, unique_source_count, first_seen_at, last_mention_at, confirmed_at,
			lifecycle_status, primary_item_id, extracted_who, extracted_what, extracted_where,
			extracted_when, categories, extracted_claims, has_contradictions)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		ev.ID, ev.CanonicalSummary, ev.Embedding, ev.EmbeddingModel, ev.EmbeddingGeneratedAt,
		ev.SourceCount, ev.UniqueSourceCount, ev.FirstSeenAt, ev.LastMentionAt, ev.ConfirmedAt,
		ev.LifecycleStatus, ev.PrimaryItemID, whoJSON, ev.ExtractedWhat, ev.ExtractedWhere,
		ev.ExtractedWhen, categoriesJSON, claimsJSON, ev.HasContradictions,
	)
	return err
}

// UpdateEvent persists merge metadata and extraction fields.
func (s *Store) UpdateEvent(ctx context.Context, ev *models.Event) error {
	whoJSON, categoriesJSON, claimsJSON, err := marshalEventJSON(ev)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE events SET canonical_summary=$2, embedding=$3, embedding_model=$4,
			embedding_generated_at=$5, source_count=$6, unique_source_count=$7,
			last_mention_at=$8, confirmed_at=$9, lifecycle_status=$10, primary_item_id=$11,
			extracted_who=$12, extracted_what=$13, extracted_where=$14, extracted_when=$15,
			categories=$16, extracted_claims=$17, has_contradictions=$18
		WHERE id=$1`,
		ev.ID, ev.CanonicalSummary, ev.Embedding, ev.EmbeddingModel, ev.EmbeddingGeneratedAt,
		ev.SourceCount, ev.UniqueSourceCount, ev.LastMentionAt, ev.ConfirmedAt,
		ev.LifecycleStatus, ev.PrimaryItemID, whoJSON, ev.ExtractedWhat, ev.ExtractedWhere,
		ev.ExtractedWhen, categoriesJSON, claimsJSON, ev.HasContradictions,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalEventJSON(ev *models.Event) (who, categories, claims []byte, err error) {
	if ev.ExtractedWho != nil {
		if who, err = json.Marshal(ev.ExtractedWho); err != nil {
			return nil, nil, nil, err
		}
	}
	if ev.Categories != nil {
		if categories, err = json.Marshal(ev.Categories); err != nil {
			return nil, nil, nil, err
		}
	}
	if ev.ExtractedClaims != nil {
		if claims, err = json.Marshal(ev.ExtractedClaims); err != nil {
			return nil, nil, nil, err
		}
	}
	return who, categories, claims, nil
}

// GetEvent loads one event by id.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns), id)
	return scanEvent(row)
}

// FindNearestEvent returns the closest event by cosine distance within the
// mention window, restricted to the item's embedding model and bounded by
// maxDistance. Ties break on lowest distance first, then lexicographic id.
func (s *Store) FindNearestEvent(ctx context.Context, vec pgvector.Vector, embeddingModel string, windowStart time.Time, maxDistance float64) (*models.Event, float64, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s, embedding <=> $1 AS distance
		FROM events
		WHERE last_mention_at >= $2
		  AND embedding IS NOT NULL
		  AND embedding_model = $3
		  AND embedding <=> $1 <= $4
		ORDER BY distance ASC, id ASC
		LIMIT 1`, eventColumns), vec, windowStart, embeddingModel, maxDistance)

	var ev models.Event
	var whoJSON, categoriesJSON, claimsJSON []byte
	var distance float64
	err := row.Scan(
		&ev.ID, &ev.CanonicalSummary, &ev.Embedding, &ev.EmbeddingModel, &ev.EmbeddingGeneratedAt,
		&ev.SourceCount, &ev.UniqueSourceCount, &ev.FirstSeenAt, &ev.LastMentionAt, &ev.ConfirmedAt,
		&ev.LifecycleStatus, &ev.PrimaryItemID, &whoJSON, &ev.ExtractedWhat, &ev.ExtractedWhere,
		&ev.ExtractedWhen, &categoriesJSON, &claimsJSON, &ev.HasContradictions, &distance,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if len(whoJSON) > 0 {
		_ = json.Unmarshal(whoJSON, &ev.ExtractedWho)
	}
	if len(categoriesJSON) > 0 {
		_ = json.Unmarshal(categoriesJSON, &ev.Categories)
	}
	if len(claimsJSON) > 0 {
		claims := &models.ExtractedClaims{}
		if json.Unmarshal(claimsJSON, claims) == nil {
			ev.ExtractedClaims = claims
		}
	}
	return &ev, distance, nil
}

// LinkEventItem inserts the event-item junction row. The unique constraint
// on item_id enforces at-most-one event per item; a lost race returns
// ErrUniqueViolation for the clusterer to resolve by re-reading.
func (s *Store) LinkEventItem(ctx context.Context, eventID, itemID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_items (event_id, item_id, added_at) VALUES ($1, $2, now())`,
		eventID, itemID)
	return mapUniqueViolation(err)
}

// EventIDForItem returns the event an item is linked to, or nil.
func (s *Store) EventIDForItem(ctx context.Context, itemID uuid.UUID) (*uuid.UUID, error) {
	var eventID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT event_id FROM event_items WHERE item_id = $1 LIMIT 1`, itemID).Scan(&eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &eventID, nil
}

// CountUniqueEventSources counts distinct source ids among linked items.
func (s *Store) CountUniqueEventSources(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT r.source_id)
		FROM event_items ei JOIN raw_items r ON r.id = ei.item_id
		WHERE ei.event_id = $1`, eventID).Scan(&count)
	return count, err
}

// EffectiveItemCredibility computes the effective source credibility for an
// item's source in SQL, mirroring models.EffectiveCredibility.
func (s *Store) EffectiveItemCredibility(ctx context.Context, itemID uuid.UUID) (float64, error) {
	var credibility float64
	err := s.pool.QueryRow(ctx, `
		SELECT LEAST(1.0, GREATEST(0.0,
			COALESCE(src.credibility_score, 0.5)
			* CASE src.source_tier
				WHEN 'primary' THEN 1.0 WHEN 'wire' THEN 0.95 WHEN 'major' THEN 0.85
				WHEN 'regional' THEN 0.70 WHEN 'aggregator' THEN 0.50 ELSE 1.0 END
			* CASE src.reporting_type
				WHEN 'firsthand' THEN 1.0 WHEN 'secondary' THEN 0.70
				WHEN 'aggregator' THEN 0.40 ELSE 1.0 END))
		FROM raw_items r JOIN sources src ON src.id = r.source_id
		WHERE r.id = $1`, itemID).Scan(&credibility)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return credibility, err
}

// ListEventSources returns the cluster-scoring shape for each distinct
// source linked into the event.
func (s *Store) ListEventSources(ctx context.Context, eventID uuid.UUID) ([]models.SourceClusterMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT src.id, src.credibility_score, src.source_tier, src.reporting_type
		FROM event_items ei
		JOIN raw_items r ON r.id = ei.item_id
		JOIN sources src ON src.id = r.source_id
		WHERE ei.event_id = $1`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.SourceClusterMember
	for rows.Next() {
		var m models.SourceClusterMember
		if err := rows.Scan(&m.SourceID, &m.CredibilityScore, &m.SourceTier, &m.ReportingType); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListEventContext returns title/content pairs of the most recently linked
// items, newest link first, for tier-2 payload construction.
func (s *Store) ListEventContext(ctx context.Context, eventID uuid.UUID, limit int) ([][2]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(r.title, ''), r.raw_content
		FROM event_items ei JOIN raw_items r ON r.id = ei.item_id
		WHERE ei.event_id = $1
		ORDER BY ei.added_at DESC
		LIMIT $2`, eventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, err
		}
		chunks = append(chunks, pair)
	}
	return chunks, rows.Err()
}

// TransitionEventLifecycles runs the periodic decay check in bulk: CONFIRMED
// events silent past the fading threshold fade, FADING events silent past the
// archive threshold archive. Returns (fading, archived) transition counts.
func (s *Store) TransitionEventLifecycles(ctx context.Context, fadingBefore, archiveBefore time.Time) (int, int, error) {
	var faded, archived int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE events SET lifecycle_status = 'FADING'
			WHERE lifecycle_status = 'CONFIRMED' AND last_mention_at < $1`, fadingBefore)
		if err != nil {
			return err
		}
		faded = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `
			UPDATE events SET lifecycle_status = 'ARCHIVED'
			WHERE lifecycle_status = 'FADING' AND last_mention_at < $1`, archiveBefore)
		if err != nil {
			return err
		}
		archived = int(tag.RowsAffected())
		return nil
	})
	return faded, archived, err
}

// ListEventsWithoutEmbedding returns events missing vectors, oldest first.
func (s *Store) ListEventsWithoutEmbedding(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM events
		WHERE embedding IS NULL AND canonical_summary <> ''
		ORDER BY first_seen_at ASC LIMIT $1`, eventColumns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// PersistEventEmbedding stores a generated vector with its model lineage.
func (s *Store) PersistEventEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector, model string, generatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events SET embedding = $2, embedding_model = $3, embedding_generated_at = $4
		WHERE id = $1`, id, vec, model, generatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
