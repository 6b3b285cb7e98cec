// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package models defines the typed records shared across the ingest-to-trend
// pipeline: sources, raw items, events, trends, evidence, snapshots,
// outcomes, usage ledger rows, human feedback, and taxonomy gaps.
//
// The database is the system of record for every type in this package;
// in-memory mutation is always scoped to one processing step and persisted
// before the step commits.
package models
