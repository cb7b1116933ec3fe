// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tomtom215/signalmap/internal/models"
)

func TestOpen_Backends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(dir string) Config
		backend string
	}{
		{"default", func(string) Config { return Config{} }, BackendMemory},
		{"memory", func(string) Config { return Config{Backend: BackendMemory} }, BackendMemory},
		{"badger", func(dir string) Config { return Config{Backend: BackendBadger, Path: dir} }, BackendBadger},
		{"sqlite", func(dir string) Config {
			return Config{Backend: BackendSQLite, Path: filepath.Join(dir, "s.db")}
		}, BackendSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg(t.TempDir())
			cfg.Blacklist = []string{"wifi/0123456789ab", "cell/gsm/1/2/3/4"}

			s, err := Open(context.Background(), cfg, DefaultBreakerConfig(), Options{})
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			defer s.Close()

			if s.Backend() != tt.backend {
				t.Errorf("Backend() = %q, want %q", s.Backend(), tt.backend)
			}
			entry, err := s.BlacklistEntry(context.Background(), models.CellKey(models.RadioGSM, 1, 2, 3, 4))
			if err != nil {
				t.Fatalf("seeded entry missing: %v", err)
			}
			if entry.Reason != SeedReason {
				t.Errorf("Reason = %q", entry.Reason)
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: "postgres"}, BreakerConfig{}, Options{}); err == nil {
		t.Error("expected error for unknown backend")
	}

	_, err := Open(context.Background(), Config{Blacklist: []string{"bogus"}}, BreakerConfig{}, Options{})
	if !errors.Is(err, models.ErrInvalidObservation) {
		t.Errorf("Open() with bad seed error = %v, want ErrInvalidObservation", err)
	}
}

func TestOpen_SeedIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Backend: BackendSQLite, Path: filepath.Join(dir, "s.db"), Blacklist: []string{"wifi/0123456789ab"}}
	key := models.WifiKey("0123456789ab")
	ctx := context.Background()

	s, err := Open(ctx, cfg, BreakerConfig{}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, key, observation(1, 1, 0), nil); !errors.Is(err, models.ErrBlacklisted) {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, cfg, BreakerConfig{}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entry, err := s.BlacklistEntry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Observations != 1 {
		t.Errorf("audit counter reset on reopen: %d", entry.Observations)
	}
}
