// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import (
	"slices"
	"time"
)

// SourceRecord is the per-source aggregate owned by a store.
//
// Observations are kept ordered by time ascending. Samples counts every
// observation ever accepted for the key and is never decremented, so it can
// exceed len(Observations) once retention starts trimming.
type SourceRecord struct {
	Key          SourceKey          `json:"key"`
	Observations []Observation      `json:"observations"`
	Estimate     *EstimatedLocation `json:"estimate,omitempty"`
	Samples      int64              `json:"samples"`
	LastUpdated  time.Time          `json:"last_updated"`
	Created      time.Time          `json:"created"`
}

// Append inserts obs keeping the time ordering. Observations with equal
// timestamps keep arrival order.
func (r *SourceRecord) Append(obs Observation) {
	i, _ := slices.BinarySearchFunc(r.Observations, obs.Time, func(o Observation, t time.Time) int {
		if o.Time.After(t) {
			return 1
		}
		return -1
	})
	r.Observations = slices.Insert(r.Observations, i, obs)
}

// Clone returns a deep copy of the record.
func (r *SourceRecord) Clone() *SourceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Observations = make([]Observation, len(r.Observations))
	for i, o := range r.Observations {
		c.Observations[i] = o.Clone()
	}
	if r.Estimate != nil {
		c.Estimate = r.Estimate.Clone()
	}
	return &c
}

// EstimatedLocation is derived from the retained observations of a source
// and is never written directly.
type EstimatedLocation struct {
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Radius        float64 `json:"radius"`
	MinSignal     *int    `json:"min_signal,omitempty"`
	MaxSignal     *int    `json:"max_signal,omitempty"`
	MaxFlightTime *int    `json:"max_flight_time,omitempty"`
	ClusterSize   int     `json:"cluster_size"`
}

// Position returns the centroid of the estimate.
func (e *EstimatedLocation) Position() Position {
	return Position{Lat: e.Lat, Lon: e.Lon}
}

// Clone returns a deep copy of the estimate.
func (e *EstimatedLocation) Clone() *EstimatedLocation {
	if e == nil {
		return nil
	}
	c := *e
	c.MinSignal = cloneInt(e.MinSignal)
	c.MaxSignal = cloneInt(e.MaxSignal)
	c.MaxFlightTime = cloneInt(e.MaxFlightTime)
	return &c
}

// Position is a latitude/longitude pair in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fix is the answer to a search query.
type Fix struct {
	Position
	// Accuracy is the largest radius among the contributing estimates, in meters.
	Accuracy float64 `json:"accuracy"`
	Sources  int     `json:"sources"`
}

// BlacklistEntry records a source known to be a mobile emitter.
type BlacklistEntry struct {
	Key          SourceKey `json:"key"`
	Reason       string    `json:"reason,omitempty"`
	Created      time.Time `json:"created"`
	Observations int64     `json:"observations"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
}

// Item is one (key, observation) pair handed to the engine.
type Item struct {
	Key         SourceKey   `json:"key"`
	Observation Observation `json:"observation"`
	// PSC is the primary scrambling code, kept as metadata only.
	PSC *int `json:"psc,omitempty" validate:"omitempty,gte=0,lte=511"`
}
