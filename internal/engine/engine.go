// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package engine orchestrates observation ingest and position queries.
//
// Ingest validates each item and upserts it into the store with a recompute
// step that trims the retained history and re-estimates the location, all
// inside the key's exclusive section. Locate averages the current estimates
// of the sources a device sees.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/signalmap/internal/estimator"
	"github.com/tomtom215/signalmap/internal/geo"
	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/metrics"
	"github.com/tomtom215/signalmap/internal/models"
	"github.com/tomtom215/signalmap/internal/retention"
	"github.com/tomtom215/signalmap/internal/store"
	"github.com/tomtom215/signalmap/internal/validation"
)

// Config holds the estimation parameters.
type Config struct {
	// ProximityRadius is the clustering distance in meters.
	ProximityRadius float64

	// MaxRetained caps the per-source history. Must be at least
	// retention.MinRetained.
	MaxRetained int
}

// ItemError reports a rejected item by its position in the batch.
type ItemError struct {
	Index int
	Key   models.SourceKey
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Key, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// IngestReport summarizes one Ingest call.
type IngestReport struct {
	Accepted    int
	Blacklisted int
	Trimmed     int
	Errors      []ItemError

	// Retry holds the items that could not be stored and should be
	// ingested again later.
	Retry []models.Item
}

// Invalid returns the number of rejected items.
func (r *IngestReport) Invalid() int {
	return len(r.Errors)
}

// Engine is safe for concurrent use.
type Engine struct {
	store     store.Store
	estimator *estimator.Estimator
	purger    *retention.Purger
}

// New builds an engine over s.
func New(s store.Store, cfg Config) (*Engine, error) {
	if cfg.MaxRetained == 0 {
		cfg.MaxRetained = retention.DefaultMaxRetained
	}
	purger, err := retention.NewPurger(cfg.MaxRetained)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:     s,
		estimator: estimator.New(cfg.ProximityRadius),
		purger:    purger,
	}, nil
}

// Ingest stores every valid item. Invalid items are reported per index and
// do not stop the batch. Items the store could not accept are returned in
// report.Retry together with an error wrapping models.ErrStoreUnavailable.
// A cancelled context moves the unprocessed items to Retry as well.
func (e *Engine) Ingest(ctx context.Context, items []models.Item) (*IngestReport, error) {
	start := time.Now()
	report := &IngestReport{}
	var lastStoreErr error

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			report.Retry = append(report.Retry, items[i:]...)
			e.record(ctx, items, report, start)
			return report, fmt.Errorf("ingest interrupted after %d of %d items: %w", i, len(items), err)
		}

		if err := validation.ValidateItem(item); err != nil {
			report.Errors = append(report.Errors, ItemError{Index: i, Key: item.Key, Err: err})
			continue
		}

		_, err := e.store.Upsert(ctx, item.Key, item.Observation, func(rec *models.SourceRecord) {
			report.Trimmed += e.purger.Trim(rec)
			rec.Estimate = e.estimator.Estimate(rec.Observations)
		})
		switch {
		case err == nil:
			report.Accepted++
		case errors.Is(err, models.ErrBlacklisted):
			report.Blacklisted++
		case errors.Is(err, models.ErrStoreUnavailable),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			report.Retry = append(report.Retry, item)
			lastStoreErr = err
		default:
			report.Errors = append(report.Errors, ItemError{Index: i, Key: item.Key, Err: err})
		}
	}

	e.record(ctx, items, report, start)

	if len(report.Retry) > 0 {
		if errors.Is(lastStoreErr, models.ErrStoreUnavailable) {
			return report, fmt.Errorf("%d of %d items not stored: %w", len(report.Retry), len(items), lastStoreErr)
		}
		return report, fmt.Errorf("%d of %d items not stored: %w: %w", len(report.Retry), len(items), models.ErrStoreUnavailable, lastStoreErr)
	}
	return report, nil
}

func (e *Engine) record(ctx context.Context, items []models.Item, report *IngestReport, start time.Time) {
	elapsed := time.Since(start)
	metrics.RecordIngest(report.Accepted, report.Invalid(), report.Blacklisted, len(report.Retry), elapsed)
	metrics.RecordTrim(report.Trimmed)

	evt := logging.Ctx(ctx).Debug()
	if !evt.Enabled() {
		return
	}
	evt.Int("accepted", report.Accepted).
		Int("invalid", report.Invalid()).
		Int("blacklisted", report.Blacklisted).
		Int("retry", len(report.Retry)).
		Int("trimmed", report.Trimmed).
		Int("linked_sources", len(Neighbours(items))).
		Dur("duration", elapsed).
		Msg("Ingested observations")

	for _, ie := range report.Errors {
		logging.Ctx(ctx).Debug().Err(ie.Err).Int("index", ie.Index).Str("key", ie.Key.String()).Msg("Rejected observation")
	}
}

// Locate returns the centroid of the estimates of the known keys, or nil
// when none of them has an estimate. Unknown keys are skipped. A store
// failure is returned as an error and never reported as "not found".
func (e *Engine) Locate(ctx context.Context, keys []models.SourceKey) (*models.Fix, error) {
	positions := make([]models.Position, 0, len(keys))
	var accuracy float64

	for _, key := range keys {
		rec, err := e.store.Get(ctx, key)
		if errors.Is(err, models.ErrUnknownSource) {
			continue
		}
		if err != nil {
			metrics.RecordLocate(metrics.OutcomeError, 0)
			return nil, fmt.Errorf("locate %s: %w", key, err)
		}
		if rec.Estimate == nil {
			continue
		}
		positions = append(positions, rec.Estimate.Position())
		accuracy = max(accuracy, rec.Estimate.Radius)
	}

	if len(positions) == 0 {
		metrics.RecordLocate(metrics.OutcomeNotFound, 0)
		return nil, nil
	}

	metrics.RecordLocate(metrics.OutcomeFound, len(positions))
	return &models.Fix{
		Position: geo.Centroid(positions),
		Accuracy: accuracy,
		Sources:  len(positions),
	}, nil
}

// Source returns the stored record of key.
func (e *Engine) Source(ctx context.Context, key models.SourceKey) (*models.SourceRecord, error) {
	return e.store.Get(ctx, key)
}

// Blacklist marks key as a mobile emitter and forgets its history.
func (e *Engine) Blacklist(ctx context.Context, key models.SourceKey, reason string) error {
	if err := e.store.Blacklist(ctx, key, reason); err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("key", key.String()).Str("reason", reason).Msg("Source blacklisted")
	return nil
}

// BlacklistEntry returns the blacklist entry of key.
func (e *Engine) BlacklistEntry(ctx context.Context, key models.SourceKey) (*models.BlacklistEntry, error) {
	return e.store.BlacklistEntry(ctx, key)
}

// Ready reports whether the store can serve requests.
func (e *Engine) Ready(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// MaxRetained returns the per-source history cap.
func (e *Engine) MaxRetained() int {
	return e.purger.MaxRetained()
}

// ProximityRadius returns the clustering radius in meters.
func (e *Engine) ProximityRadius() float64 {
	return e.estimator.Radius()
}
