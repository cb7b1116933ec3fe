// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package retention bounds the observation history of each signal source and
// removes sources that stopped receiving observations.
//
// Two mechanisms cooperate:
//
//   - Purger.Trim runs inside every upsert and keeps the most recent
//     MaxRetained observations. It never removes an observation for being
//     old, so a source with at most MaxRetained observations loses nothing,
//     and since MaxRetained >= MinRetained the floor of MinRetained always
//     holds.
//   - Sweeper runs on a fixed interval and deletes every record whose last
//     update is older than the staleness window. It takes one key at a time
//     through the store, so ingest is never blocked for more than one key.
package retention

import (
	"fmt"

	"github.com/tomtom215/signalmap/internal/models"
)

// MinRetained is the observation floor a source keeps regardless of age.
const MinRetained = 10

// DefaultMaxRetained is the default per-source observation cap.
const DefaultMaxRetained = 100

// Purger trims per-source observation history.
type Purger struct {
	maxRetained int
}

// NewPurger returns a purger keeping at most maxRetained observations.
func NewPurger(maxRetained int) (*Purger, error) {
	if maxRetained < MinRetained {
		return nil, fmt.Errorf("max retained %d is below the retention floor %d", maxRetained, MinRetained)
	}
	return &Purger{maxRetained: maxRetained}, nil
}

// MaxRetained returns the configured cap.
func (p *Purger) MaxRetained() int {
	return p.maxRetained
}

// Trim drops the oldest observations beyond the cap and returns how many were
// dropped. rec.Observations must be ordered by time ascending.
func (p *Purger) Trim(rec *models.SourceRecord) int {
	excess := len(rec.Observations) - p.maxRetained
	if excess <= 0 {
		return 0
	}
	kept := make([]models.Observation, p.maxRetained)
	copy(kept, rec.Observations[excess:])
	rec.Observations = kept
	return excess
}
