// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/models"
)

// Key prefixes for the badger keyspace.
const (
	prefixSource    = "src/"
	prefixBlacklist = "bl/"
)

// DefaultGCRatio is the value log discard ratio used by RunGC.
const DefaultGCRatio = 0.5

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// SyncWrites forces fsync after every commit.
	SyncWrites bool

	// InMemory keeps everything in RAM.
	InMemory bool
}

// BadgerStore persists records as JSON values in badger. Each key operation
// runs in a single badger transaction while holding the key's stripe.
type BadgerStore struct {
	db     *badger.DB
	opts   Options
	locks  *keyLocks
	closed atomic.Bool
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens or creates a badger store.
func OpenBadger(cfg BadgerConfig, opts Options) (*BadgerStore, error) {
	opts = opts.withDefaults()

	bopts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = cfg.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Badger source store opened")

	return &BadgerStore{db: db, opts: opts, locks: newKeyLocks(opts.LockStripes)}, nil
}

// Backend implements Store.
func (s *BadgerStore) Backend() string { return BackendBadger }

func (s *BadgerStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func sourceKey(key models.SourceKey) []byte {
	return []byte(prefixSource + key.String())
}

func blacklistKey(key models.SourceKey) []byte {
	return []byte(prefixBlacklist + key.String())
}

// readJSON decodes the value at k into v and reports whether it existed.
func readJSON(txn *badger.Txn, k []byte, v interface{}) (bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", k, err)
	}
	return true, nil
}

func writeJSON(txn *badger.Txn, k []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	return txn.Set(k, data)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, key models.SourceKey) (*models.SourceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.rlock(key.String())
	defer unlock()

	var rec models.SourceRecord
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = readJSON(txn, sourceKey(key), &rec)
		return err
	})
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	if !found {
		return nil, models.ErrUnknownSource
	}
	return &rec, nil
}

// Upsert implements Store.
func (s *BadgerStore) Upsert(ctx context.Context, key models.SourceKey, obs models.Observation, recompute RecomputeFunc) (*models.SourceRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	now := s.opts.now()
	var result *models.SourceRecord
	blacklisted := false

	err := s.db.Update(func(txn *badger.Txn) error {
		var entry models.BlacklistEntry
		isBL, err := readJSON(txn, blacklistKey(key), &entry)
		if err != nil {
			return err
		}
		if isBL {
			blacklisted = true
			recordBlacklistHit(&entry, now)
			return writeJSON(txn, blacklistKey(key), &entry)
		}

		var current models.SourceRecord
		found, err := readJSON(txn, sourceKey(key), &current)
		if err != nil {
			return err
		}
		var rec *models.SourceRecord
		if found {
			rec = &current
		}
		result = applyUpsert(rec, key, obs, now, recompute)
		return writeJSON(txn, sourceKey(key), result)
	})
	if err != nil {
		return nil, unavailable("upsert", key, err)
	}
	if blacklisted {
		return nil, models.ErrBlacklisted
	}
	return result, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, key models.SourceKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sourceKey(key))
	})
	return unavailable("delete", key, err)
}

// PurgeIfStale implements Store.
func (s *BadgerStore) PurgeIfStale(ctx context.Context, key models.SourceKey, cutoff time.Time) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec models.SourceRecord
		found, err := readJSON(txn, sourceKey(key), &rec)
		if err != nil || !found || !rec.LastUpdated.Before(cutoff) {
			return err
		}
		removed = true
		return txn.Delete(sourceKey(key))
	})
	if err != nil {
		return false, unavailable("purge", key, err)
	}
	return removed, nil
}

// ForEachKey implements Store. Keys are collected in a read transaction and
// fn runs after it closes, so fn may write to the store.
func (s *BadgerStore) ForEachKey(ctx context.Context, fn func(models.SourceKey) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	var keys []models.SourceKey
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSource)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), prefixSource)
			k, err := models.ParseSourceKey(raw)
			if err != nil {
				logging.Warn().Str("key", raw).Msg("Skipping unparseable source key")
				continue
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan source keys: %w: %w", models.ErrStoreUnavailable, err)
	}

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
func (s *BadgerStore) Blacklist(ctx context.Context, key models.SourceKey, reason string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	unlock := s.locks.lock(key.String())
	defer unlock()

	now := s.opts.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		var existing models.BlacklistEntry
		found, err := readJSON(txn, blacklistKey(key), &existing)
		if err != nil {
			return err
		}
		var prev *models.BlacklistEntry
		if found {
			prev = &existing
		}
		if err := writeJSON(txn, blacklistKey(key), newBlacklistEntry(prev, key, reason, now)); err != nil {
			return err
		}
		return txn.Delete(sourceKey(key))
	})
	return unavailable("blacklist", key, err)
}

// IsBlacklisted implements Store.
func (s *BadgerStore) IsBlacklisted(ctx context.Context, key models.SourceKey) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blacklistKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, unavailable("is blacklisted", key, err)
	}
	return found, nil
}

// BlacklistEntry implements Store.
func (s *BadgerStore) BlacklistEntry(ctx context.Context, key models.SourceKey) (*models.BlacklistEntry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.rlock(key.String())
	defer unlock()

	var entry models.BlacklistEntry
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = readJSON(txn, blacklistKey(key), &entry)
		return err
	})
	if err != nil {
		return nil, unavailable("blacklist entry", key, err)
	}
	if !found {
		return nil, models.ErrUnknownSource
	}
	return &entry, nil
}

// RunGC reclaims value log space until badger reports nothing to rewrite.
// The retention sweeper calls it after each pass.
func (s *BadgerStore) RunGC() error {
	if s.closed.Load() {
		return ErrClosed
	}
	for {
		err := s.db.RunValueLogGC(DefaultGCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run value log GC: %w", err)
		}
	}
}

// Ping implements Store.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	logging.Info().Msg("Badger source store closed")
	return nil
}
