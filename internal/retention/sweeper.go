// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/metrics"
	"github.com/tomtom215/signalmap/internal/models"
)

// Defaults for the periodic sweep.
const (
	DefaultStalenessWindow = 720 * time.Hour
	DefaultSweepInterval   = 24 * time.Hour
)

// SweepStore is the part of the source store the sweeper needs.
type SweepStore interface {
	ForEachKey(ctx context.Context, fn func(models.SourceKey) error) error
	PurgeIfStale(ctx context.Context, key models.SourceKey, cutoff time.Time) (bool, error)
}

// compactor is implemented by stores that can reclaim space after deletes.
type compactor interface {
	RunGC() error
}

// SweeperConfig configures the periodic sweep.
type SweeperConfig struct {
	Interval        time.Duration
	StalenessWindow time.Duration
}

// SweepResult summarizes one pass.
type SweepResult struct {
	Scanned  int
	Removed  int
	Failed   int
	Cutoff   time.Time
	Duration time.Duration
}

// SweeperStats is a snapshot of sweeper activity.
type SweeperStats struct {
	Runs        int64
	LastRun     time.Time
	LastScanned int
	LastRemoved int
	Running     bool
}

// Sweeper periodically forgets sources whose last update is older than the
// staleness window.
type Sweeper struct {
	store  SweepStore
	config SweeperConfig
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stats   SweeperStats
}

// NewSweeper creates a sweeper. Zero config values take the defaults.
func NewSweeper(store SweepStore, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
	return &Sweeper{store: store, config: cfg, now: time.Now}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	logging.Info().
		Dur("interval", s.config.Interval).
		Dur("staleness_window", s.config.StalenessWindow).
		Msg("Retention sweeper started")
	return nil
}

// Stop halts the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info().Msg("Retention sweeper stopped")
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of sweeper activity.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.running
	return st
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Retention sweep failed")
			}
		}
	}
}

// SweepOnce runs a single pass. Keys are listed first and each one is then
// purged through the store under its own lock. A failure on one key is
// logged and counted, and the pass continues.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	start := s.now()
	res := SweepResult{Cutoff: start.Add(-s.config.StalenessWindow)}

	var keys []models.SourceKey
	err := s.store.ForEachKey(ctx, func(k models.SourceKey) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		metrics.RecordSweepError()
		return res, fmt.Errorf("list source keys: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		removed, err := s.store.PurgeIfStale(ctx, key, res.Cutoff)
		if err != nil {
			res.Failed++
			logging.Warn().Err(err).Str("key", key.String()).Msg("Failed to purge stale source")
			continue
		}
		if removed {
			res.Removed++
		}
	}

	res.Duration = s.now().Sub(start)
	if res.Failed > 0 {
		metrics.RecordSweepError()
	}
	metrics.RecordSweep(res.Removed, res.Duration)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRun = start
	s.stats.LastScanned = res.Scanned
	s.stats.LastRemoved = res.Removed
	s.mu.Unlock()

	if gc, ok := s.store.(compactor); ok && res.Removed > 0 {
		if err := gc.RunGC(); err != nil {
			logging.Warn().Err(err).Msg("Store compaction after sweep failed")
		}
	}

	if res.Removed > 0 {
		logging.Info().
			Int("scanned", res.Scanned).
			Int("removed", res.Removed).
			Time("cutoff", res.Cutoff).
			Dur("duration", res.Duration).
			Msg("Retention sweep removed stale sources")
	}
	return res, nil
}
