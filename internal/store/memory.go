// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/signalmap/internal/models"
)

// MemoryStore keeps records in process memory. mu guards the map structure
// only; record contents are guarded by the key's stripe.
type MemoryStore struct {
	opts   Options
	locks  *keyLocks
	closed atomic.Bool

	mu        sync.RWMutex
	records   map[models.SourceKey]*models.SourceRecord
	blacklist map[models.SourceKey]*models.BlacklistEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts = opts.withDefaults()
	return &MemoryStore{
		opts:      opts,
		locks:     newKeyLocks(opts.LockStripes),
		records:   make(map[models.SourceKey]*models.SourceRecord),
		blacklist: make(map[models.SourceKey]*models.BlacklistEntry),
	}
}

// Backend implements Store.
func (s *MemoryStore) Backend() string { return BackendMemory }

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) load(key models.SourceKey) (*models.SourceRecord, *models.BlacklistEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key], s.blacklist[key]
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key models.SourceKey) (*models.SourceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.rlock(key.String())
	defer unlock()

	rec, _ := s.load(key)
	if rec == nil {
		return nil, models.ErrUnknownSource
	}
	return rec.Clone(), nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, key models.SourceKey, obs models.Observation, recompute RecomputeFunc) (*models.SourceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	now := s.opts.now()
	rec, bl := s.load(key)
	if bl != nil {
		s.mu.Lock()
		recordBlacklistHit(bl, now)
		s.mu.Unlock()
		return nil, models.ErrBlacklisted
	}

	next := applyUpsert(rec.Clone(), key, obs, now, recompute)

	s.mu.Lock()
	s.records[key] = next
	s.mu.Unlock()
	return next.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key models.SourceKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// PurgeIfStale implements Store.
func (s *MemoryStore) PurgeIfStale(ctx context.Context, key models.SourceKey, cutoff time.Time) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	rec, _ := s.load(key)
	if rec == nil || !rec.LastUpdated.Before(cutoff) {
		return false, nil
	}
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return true, nil
}

// ForEachKey implements Store. It iterates a snapshot of the keys.
func (s *MemoryStore) ForEachKey(ctx context.Context, fn func(models.SourceKey) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	keys := make([]models.SourceKey, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Blacklist implements Store.
func (s *MemoryStore) Blacklist(ctx context.Context, key models.SourceKey, reason string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	_, existing := s.load(key)
	entry := newBlacklistEntry(existing, key, reason, s.opts.now())

	s.mu.Lock()
	s.blacklist[key] = entry
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// IsBlacklisted implements Store.
func (s *MemoryStore) IsBlacklisted(ctx context.Context, key models.SourceKey) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, bl := s.load(key)
	return bl != nil, nil
}

// BlacklistEntry implements Store.
func (s *MemoryStore) BlacklistEntry(ctx context.Context, key models.SourceKey) (*models.BlacklistEntry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.rlock(key.String())
	defer unlock()

	_, bl := s.load(key)
	if bl == nil {
		return nil, models.ErrUnknownSource
	}
	c := *bl
	return &c, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
