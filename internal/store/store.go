// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package store keeps the per-source observation history, the current
// estimate and the blacklist.
//
// Every backend serializes operations on one key through a striped lock
// table hashed with xxhash, so an upsert (append, trim, recompute) and a
// delete or purge of the same key never interleave, while different keys
// proceed in parallel. Reads take the shared side of the same stripe and
// return a deep copy, so callers never observe a half-written record.
//
// Backends:
//
//   - MemoryStore: maps in process memory
//   - BadgerStore: badger v4, JSON records under src/ and bl/ prefixes
//   - SQLiteStore: modernc sqlite with embedded golang-migrate migrations;
//     positions persisted as integers scaled by 1e7
//
// ResilientStore wraps any backend with a gobreaker circuit breaker. Backend
// failures surface as errors wrapping models.ErrStoreUnavailable.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/signalmap/internal/models"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// DefaultLockStripes is the default size of the per-key lock table.
const DefaultLockStripes = 1024

// RecomputeFunc runs inside the key's exclusive section after the new
// observation was appended, before the record is persisted. The engine uses
// it to trim and re-estimate.
type RecomputeFunc func(rec *models.SourceRecord)

// Store is the keyed storage of signal source records.
type Store interface {
	// Get returns a snapshot of the record or models.ErrUnknownSource.
	Get(ctx context.Context, key models.SourceKey) (*models.SourceRecord, error)

	// Upsert appends obs to the key's record, creating it when absent, and
	// runs recompute before persisting. For a blacklisted key it bumps the
	// blacklist audit counter and returns models.ErrBlacklisted without
	// touching any record.
	Upsert(ctx context.Context, key models.SourceKey, obs models.Observation, recompute RecomputeFunc) (*models.SourceRecord, error)

	// Delete removes the record. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key models.SourceKey) error

	// PurgeIfStale deletes the record when its LastUpdated is before cutoff
	// and reports whether it did.
	PurgeIfStale(ctx context.Context, key models.SourceKey, cutoff time.Time) (bool, error)

	// ForEachKey calls fn for every stored record key. fn may call back into
	// the store.
	ForEachKey(ctx context.Context, fn func(models.SourceKey) error) error

	// Blacklist marks key as a mobile emitter and deletes its record.
	Blacklist(ctx context.Context, key models.SourceKey, reason string) error

	// IsBlacklisted reports blacklist membership.
	IsBlacklisted(ctx context.Context, key models.SourceKey) (bool, error)

	// BlacklistEntry returns the audit entry or models.ErrUnknownSource.
	BlacklistEntry(ctx context.Context, key models.SourceKey) (*models.BlacklistEntry, error)

	// Ping checks that the backend can serve requests.
	Ping(ctx context.Context) error

	// Backend names the implementation for logs and metrics.
	Backend() string

	Close() error
}

// ErrClosed is returned by operations on a closed store. It wraps
// models.ErrStoreUnavailable.
var ErrClosed = fmt.Errorf("store closed: %w", models.ErrStoreUnavailable)

// unavailable wraps a backend failure so that errors.Is matches both
// models.ErrStoreUnavailable and the cause.
func unavailable(op string, key models.SourceKey, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %w", op, key, models.ErrStoreUnavailable, err)
}

// applyUpsert appends obs to rec, creating it when nil, and runs recompute.
func applyUpsert(rec *models.SourceRecord, key models.SourceKey, obs models.Observation, now time.Time, recompute RecomputeFunc) *models.SourceRecord {
	if rec == nil {
		rec = &models.SourceRecord{Key: key, Created: now}
	}
	rec.Append(obs.Clone())
	rec.Samples++
	rec.LastUpdated = now
	if recompute != nil {
		recompute(rec)
	}
	return rec
}

// recordBlacklistHit updates the audit counters of a blacklist entry.
func recordBlacklistHit(entry *models.BlacklistEntry, now time.Time) {
	entry.Observations++
	entry.LastSeen = now
}

// newBlacklistEntry creates or updates the entry for key.
func newBlacklistEntry(existing *models.BlacklistEntry, key models.SourceKey, reason string, now time.Time) *models.BlacklistEntry {
	if existing != nil {
		e := *existing
		if reason != "" {
			e.Reason = reason
		}
		return &e
	}
	return &models.BlacklistEntry{Key: key, Reason: reason, Created: now}
}
