// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package cluster

import (
	"time"

	"github.com/s5unanow/horadus/internal/models"
)

const (
	// ConfirmationThreshold is the distinct-source count that confirms an
	// emerging event.
	ConfirmationThreshold = 3

	// FadingAfter is how long a confirmed event stays current without a new
	// mention.
	FadingAfter = 48 * time.Hour

	// ArchiveAfter is how long a fading event lingers before archival.
	ArchiveAfter = 7 * 24 * time.Hour
)

// OnEventMention applies the lifecycle transition for a fresh mention:
// EMERGING events confirm at the corroboration threshold (setting
// confirmed_at once), and FADING/ARCHIVED events revive to CONFIRMED.
// Returns true when the status changed.
func OnEventMention(event *models.Event, mentionedAt time.Time) bool {
	previous := event.LifecycleStatus
	event.LastMentionAt = mentionedAt

	switch event.LifecycleStatus {
	case models.LifecycleEmerging:
		if event.UniqueSourceCount >= ConfirmationThreshold {
			event.LifecycleStatus = models.LifecycleConfirmed
			if event.ConfirmedAt == nil {
				confirmed := mentionedAt
				event.ConfirmedAt = &confirmed
			}
		}
	case models.LifecycleFading, models.LifecycleArchived:
		event.LifecycleStatus = models.LifecycleConfirmed
		if event.ConfirmedAt == nil {
			confirmed := mentionedAt
			event.ConfirmedAt = &confirmed
		}
	}

	return previous != event.LifecycleStatus
}
