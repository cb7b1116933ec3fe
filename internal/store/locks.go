// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package store

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// keyLocks is a fixed table of RW mutexes. A key always maps to the same
// stripe, so two operations on one key are serialized; unrelated keys
// collide only when they hash to the same stripe.
type keyLocks struct {
	stripes []sync.RWMutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = DefaultLockStripes
	}
	return &keyLocks{stripes: make([]sync.RWMutex, n)}
}

func (l *keyLocks) stripe(key string) *sync.RWMutex {
	return &l.stripes[xxhash.Sum64String(key)%uint64(len(l.stripes))]
}

// lock takes the exclusive side of key's stripe and returns the unlock func.
func (l *keyLocks) lock(key string) func() {
	m := l.stripe(key)
	m.Lock()
	return m.Unlock
}

// rlock takes the shared side of key's stripe and returns the unlock func.
func (l *keyLocks) rlock(key string) func() {
	m := l.stripe(key)
	m.RLock()
	return m.RUnlock
}
