// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/signalmap/internal/batcher"
	"github.com/tomtom215/signalmap/internal/models"
)

type fakeLoop struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (f *fakeLoop) Start(context.Context) error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeLoop) Stop() {
	f.stops.Add(1)
}

func serveUntilCancel(t *testing.T, svc *LifecycleService) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestSweeperService(t *testing.T) {
	loop := &fakeLoop{}
	svc := NewSweeperService(loop)
	if svc.String() != "retention-sweeper" {
		t.Errorf("String() = %q", svc.String())
	}

	if err := serveUntilCancel(t, svc); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
	if loop.starts.Load() != 1 || loop.stops.Load() != 1 {
		t.Errorf("starts %d stops %d, want 1 and 1", loop.starts.Load(), loop.stops.Load())
	}
}

func TestSweeperService_StartFailure(t *testing.T) {
	loop := &fakeLoop{startErr: errors.New("store closed")}

	err := NewSweeperService(loop).Serve(context.Background())
	if !errors.Is(err, loop.startErr) {
		t.Errorf("Serve = %v, want wrapped start error", err)
	}
	if loop.stops.Load() != 0 {
		t.Error("Stop called after failed Start")
	}
}

type recordingSink struct {
	mu      sync.Mutex
	batches []batcher.Batch
}

func (s *recordingSink) HandleBatch(_ context.Context, b batcher.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

func TestBatcherService_FlushesOnStop(t *testing.T) {
	sink := &recordingSink{}
	b, err := batcher.New(sink, batcher.Config{BatchSize: 100, BatchAge: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	svc := NewBatcherService(b)
	if svc.String() != "observation-batcher" {
		t.Errorf("String() = %q", svc.String())
	}

	now := time.Now()
	items := []models.Item{
		{Key: models.CellKey(models.RadioLTE, 226, 1, 7, 100), Observation: models.Observation{Lat: 1, Lon: 2, Time: now}},
		{Key: models.CellKey(models.RadioLTE, 226, 1, 7, 101), Observation: models.Observation{Lat: 3, Lon: 4, Time: now}},
	}
	if err := b.Submit(context.Background(), items); err != nil {
		t.Fatal(err)
	}

	if err := serveUntilCancel(t, svc); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 {
		t.Fatalf("flushed %d batches, want 1", len(sink.batches))
	}
	if got := sink.batches[0]; len(got.Items) != 2 || got.Trigger != batcher.TriggerClose {
		t.Errorf("batch = %d items trigger %q, want 2 items trigger %q", len(got.Items), got.Trigger, batcher.TriggerClose)
	}
	if err := b.Submit(context.Background(), items); !errors.Is(err, batcher.ErrClosed) {
		t.Errorf("Submit after stop = %v, want ErrClosed", err)
	}
}
