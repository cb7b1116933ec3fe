// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/metrics"
	"github.com/tomtom215/signalmap/internal/models"
)

// BreakerConfig configures the circuit breaker in front of a backend.
type BreakerConfig struct {
	Name string

	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32

	// Interval resets the closed-state counts. Zero never resets.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens it.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "source-store",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// ResilientStore wraps a Store with a circuit breaker. Only backend failures
// count against the breaker; unknown, blacklisted and invalid keys and
// cancelled contexts are normal results. While the breaker is open every
// call fails fast with an error wrapping models.ErrStoreUnavailable.
type ResilientStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[interface{}]
	name  string
}

var _ Store = (*ResilientStore)(nil)

// NewResilientStore wraps inner.
func NewResilientStore(inner Store, cfg BreakerConfig) *ResilientStore {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	metrics.BreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return !isBackendFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Store circuit breaker state transition")
			metrics.RecordBreakerTransition(name, from.String(), to.String(), float64(to))
		},
	})

	return &ResilientStore{inner: inner, cb: cb, name: cfg.Name}
}

// isBackendFailure reports whether err should count against the breaker.
func isBackendFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, models.ErrUnknownSource),
		errors.Is(err, models.ErrBlacklisted),
		errors.Is(err, models.ErrInvalidObservation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// execute runs fn through the breaker and records the outcome.
func execute[T any](r *ResilientStore, op string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := r.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})

	if isBackendFailure(err) {
		metrics.RecordStoreOperation(r.inner.Backend(), op, err)
	} else {
		metrics.RecordStoreOperation(r.inner.Backend(), op, nil)
	}

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s %s: %w: %w", r.name, op, models.ErrStoreUnavailable, err)
		}
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func executeErr(r *ResilientStore, op string, fn func() error) error {
	_, err := execute(r, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// State returns the breaker state name.
func (r *ResilientStore) State() string {
	return r.cb.State().String()
}

// Unwrap returns the wrapped backend.
func (r *ResilientStore) Unwrap() Store { return r.inner }

// Backend implements Store.
func (r *ResilientStore) Backend() string { return r.inner.Backend() }

// Get implements Store.
func (r *ResilientStore) Get(ctx context.Context, key models.SourceKey) (*models.SourceRecord, error) {
	return execute(r, "get", func() (*models.SourceRecord, error) {
		return r.inner.Get(ctx, key)
	})
}

// Upsert implements Store.
func (r *ResilientStore) Upsert(ctx context.Context, key models.SourceKey, obs models.Observation, recompute RecomputeFunc) (*models.SourceRecord, error) {
	return execute(r, "upsert", func() (*models.SourceRecord, error) {
		return r.inner.Upsert(ctx, key, obs, recompute)
	})
}

// Delete implements Store.
func (r *ResilientStore) Delete(ctx context.Context, key models.SourceKey) error {
	return executeErr(r, "delete", func() error {
		return r.inner.Delete(ctx, key)
	})
}

// PurgeIfStale implements Store.
func (r *ResilientStore) PurgeIfStale(ctx context.Context, key models.SourceKey, cutoff time.Time) (bool, error) {
	return execute(r, "purge", func() (bool, error) {
		return r.inner.PurgeIfStale(ctx, key, cutoff)
	})
}

// ForEachKey implements Store.
func (r *ResilientStore) ForEachKey(ctx context.Context, fn func(models.SourceKey) error) error {
	return executeErr(r, "scan", func() error {
		return r.inner.ForEachKey(ctx, fn)
	})
}

// Blacklist implements Store.
func (r *ResilientStore) Blacklist(ctx context.Context, key models.SourceKey, reason string) error {
	return executeErr(r, "blacklist", func() error {
		return r.inner.Blacklist(ctx, key, reason)
	})
}

// IsBlacklisted implements Store.
func (r *ResilientStore) IsBlacklisted(ctx context.Context, key models.SourceKey) (bool, error) {
	return execute(r, "is_blacklisted", func() (bool, error) {
		return r.inner.IsBlacklisted(ctx, key)
	})
}

// BlacklistEntry implements Store.
func (r *ResilientStore) BlacklistEntry(ctx context.Context, key models.SourceKey) (*models.BlacklistEntry, error) {
	return execute(r, "blacklist_entry", func() (*models.BlacklistEntry, error) {
		return r.inner.BlacklistEntry(ctx, key)
	})
}

// Ping implements Store. It bypasses the breaker so that readiness reflects
// the backend itself, and reports an open breaker as unavailable.
func (r *ResilientStore) Ping(ctx context.Context) error {
	if r.cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("%s: %w: %w", r.name, models.ErrStoreUnavailable, gobreaker.ErrOpenState)
	}
	return r.inner.Ping(ctx)
}

// RunGC forwards to the backend when it supports value log compaction.
func (r *ResilientStore) RunGC() error {
	if gc, ok := r.inner.(interface{ RunGC() error }); ok {
		return gc.RunGC()
	}
	return nil
}

// Close implements Store.
func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
