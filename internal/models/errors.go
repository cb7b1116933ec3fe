// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import "errors"

// Sentinel errors shared by the engine, the store backends and the host layers.
// Match them with errors.Is; callers wrap them with fmt.Errorf("...: %w", err).
var (
	// ErrInvalidObservation marks a malformed position, an out-of-range
	// network code or a missing key field. It is reported per item and never
	// aborts a batch.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrUnknownSource is returned by a store when the key has never been seen.
	ErrUnknownSource = errors.New("unknown signal source")

	// ErrStoreUnavailable wraps any persistence failure, including an open
	// circuit breaker.
	ErrStoreUnavailable = errors.New("signal source store unavailable")

	// ErrBlacklisted is returned by Upsert for keys known to be mobile emitters.
	ErrBlacklisted = errors.New("signal source is blacklisted")
)
