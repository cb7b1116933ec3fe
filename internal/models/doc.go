// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

/*
Package models defines the data structures shared by the estimation engine,
the store backends and the HTTP layer.

Key Components:

  - SourceKey: identity of a cell tower or WiFi access point, with a
    canonical string form used as the storage key
  - Observation: one crowd-sourced sighting (device position, accuracy,
    optional altitude, signal strength and flight time)
  - SourceRecord: retained observations, current estimate and counters for
    one source
  - EstimatedLocation: largest-cluster centroid with radius and signal bounds
  - Fix: aggregate position answered to a search query
  - BlacklistEntry: audit record for a known mobile emitter
  - Report, SearchRequest: HTTP request bodies

Canonical key strings:

	cell/lte/262/2/1234/56789
	wifi/0123456789ab

Errors:

The sentinel errors in errors.go (ErrInvalidObservation, ErrUnknownSource,
ErrStoreUnavailable, ErrBlacklisted) are matched with errors.Is across
package boundaries.

Thread Safety:

Model types are plain values. SourceRecord.Clone produces a deep copy that
shares no slices or pointers with the original; stores hand out clones so
callers may mutate them freely.
*/
package models
