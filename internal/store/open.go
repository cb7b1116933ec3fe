// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import (
	"context"
	"fmt"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/models"
)

// SeedReason is the reason recorded for blacklist entries loaded from config.
const SeedReason = "configured"

// Config selects and configures a backend.
type Config struct {
	Backend     string
	Path        string
	SyncWrites  bool
	LockStripes int

	// Blacklist holds canonical source keys blacklisted at startup.
	Blacklist []string
}

// Open creates the configured backend, seeds its blacklist and wraps it
// with a circuit breaker.
func Open(ctx context.Context, cfg Config, breaker BreakerConfig, opts Options) (*ResilientStore, error) {
	if cfg.LockStripes > 0 {
		opts.LockStripes = cfg.LockStripes
	}

	var (
		backend Store
		err     error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		backend = NewMemoryStore(opts)
	case BackendBadger:
		backend, err = OpenBadger(BadgerConfig{Path: cfg.Path, SyncWrites: cfg.SyncWrites}, opts)
	case BackendSQLite:
		backend, err = OpenSQLite(SQLiteConfig{Path: cfg.Path}, opts)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := seedBlacklist(ctx, backend, cfg.Blacklist); err != nil {
		_ = backend.Close()
		return nil, err
	}

	logging.Info().
		Str("backend", backend.Backend()).
		Int("blacklist_seeds", len(cfg.Blacklist)).
		Msg("Source store ready")

	return NewResilientStore(backend, breaker), nil
}

func seedBlacklist(ctx context.Context, s Store, keys []string) error {
	for _, raw := range keys {
		key, err := models.ParseSourceKey(raw)
		if err != nil {
			return fmt.Errorf("blacklist seed: %w", err)
		}
		listed, err := s.IsBlacklisted(ctx, key)
		if err != nil {
			return fmt.Errorf("blacklist seed %s: %w", key, err)
		}
		if listed {
			continue
		}
		if err := s.Blacklist(ctx, key, SeedReason); err != nil {
			return fmt.Errorf("blacklist seed %s: %w", key, err)
		}
	}
	return nil
}
