// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package services

import (
	"context"
	"fmt"
)

// StartStopper is a component with a background loop, such as
// *retention.Sweeper.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// StartCloser is a component that is closed rather than stopped, such as
// *batcher.Batcher. Close is expected to flush pending work.
type StartCloser interface {
	Start(ctx context.Context) error
	Close() error
}

// LifecycleService adapts a Start/Stop component to suture:
//  1. Start(ctx) begins the component's loop
//  2. Serve blocks until the context is cancelled
//  3. stop runs and waits for the loop to exit
type LifecycleService struct {
	name  string
	start func(ctx context.Context) error
	stop  func() error
}

// NewSweeperService supervises the retention sweeper.
func NewSweeperService(s StartStopper) *LifecycleService {
	return &LifecycleService{
		name:  "retention-sweeper",
		start: s.Start,
		stop: func() error {
			s.Stop()
			return nil
		},
	}
}

// NewBatcherService supervises the observation batcher. Stopping it flushes
// whatever is still pending.
func NewBatcherService(b StartCloser) *LifecycleService {
	return &LifecycleService{
		name:  "observation-batcher",
		start: b.Start,
		stop:  b.Close,
	}
}

// Serve implements suture.Service. A failed Start is returned so that the
// supervisor retries with backoff.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (s *LifecycleService) String() string {
	return s.name
}
