// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import "time"

// Options are shared by all backends.
type Options struct {
	// LockStripes sizes the per-key lock table. Default: DefaultLockStripes.
	LockStripes int

	// Now stamps Created, LastUpdated and blacklist times. Default: time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.LockStripes <= 0 {
		o.LockStripes = DefaultLockStripes
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) now() time.Time {
	return o.Now().UTC()
}
