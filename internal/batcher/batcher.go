// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package batcher accumulates submitted observation items and hands them to
// a sink in batches, either when the pending queue reaches the batch size or
// when its oldest item reaches the batch age, whichever comes first.
//
// Every flush hands the whole pending queue to the sink in exactly one
// HandleBatch call. If the sink fails, the batch is restored to the front of
// the queue and retried at the next trigger, so no item is dropped or
// flushed twice.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/metrics"
	"github.com/tomtom215/signalmap/internal/models"
)

// Flush triggers.
const (
	TriggerSize   = "size"
	TriggerAge    = "age"
	TriggerManual = "manual"
	TriggerClose  = "close"

	// TriggerRetry marks a batch republished by an ingest worker.
	TriggerRetry = "retry"
)

// Defaults.
const (
	DefaultBatchSize    = 100
	DefaultBatchAge     = 5 * time.Second
	DefaultFlushTimeout = 30 * time.Second
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("batcher is closed")

// Batch is one flush worth of items.
type Batch struct {
	ID      string        `json:"id"`
	Trigger string        `json:"trigger"`
	Created time.Time     `json:"created"`
	Items   []models.Item `json:"items"`
}

// Sink receives flushed batches.
type Sink interface {
	HandleBatch(ctx context.Context, batch Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch Batch) error

// HandleBatch implements Sink.
func (f SinkFunc) HandleBatch(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Config configures the flush triggers.
type Config struct {
	BatchSize int
	BatchAge  time.Duration

	// FlushTimeout bounds a single sink call. Flushes run on a detached
	// context so that a cancelled caller never aborts a handoff.
	FlushTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    DefaultBatchSize,
		BatchAge:     DefaultBatchAge,
		FlushTimeout: DefaultFlushTimeout,
	}
}

// Stats is a snapshot of batcher activity.
type Stats struct {
	Received      int64
	Flushed       int64
	FlushCount    int64
	ErrorCount    int64
	Pending       int
	LastFlushTime time.Time
	LastError     string
}

// Batcher is safe for concurrent use.
type Batcher struct {
	sink   Sink
	config Config

	mu      sync.Mutex
	pending []models.Item
	oldest  time.Time

	// flushMu serializes sink calls.
	flushMu sync.Mutex

	closed   atomic.Bool
	started  atomic.Bool
	kick     chan struct{}
	stopChan chan struct{}
	doneChan chan struct{}

	// inflight counts size-triggered dispatches; guarded by mu.
	inflight int
	idle     *sync.Cond

	received      atomic.Int64
	flushed       atomic.Int64
	flushCount    atomic.Int64
	errorCount    atomic.Int64
	lastFlushTime atomic.Value // time.Time
	lastError     atomic.Value // string

	now func() time.Time
}

// New creates a batcher. Start must be called to enable age-based flushes.
func New(sink Sink, cfg Config) (*Batcher, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if cfg.BatchAge <= 0 {
		return nil, fmt.Errorf("batch age must be positive")
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}

	b := &Batcher{
		sink:     sink,
		config:   cfg,
		pending:  make([]models.Item, 0, cfg.BatchSize),
		kick:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		now:      time.Now,
	}
	b.idle = sync.NewCond(&b.mu)
	b.lastFlushTime.Store(time.Time{})
	b.lastError.Store("")
	return b, nil
}

// Start runs the age trigger until ctx is done or Close is called.
// Calling it more than once has no effect.
func (b *Batcher) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}
	if b.started.Swap(true) {
		return nil
	}
	go b.ageLoop(ctx)
	return nil
}

// Submit appends items to the pending queue and returns without waiting for
// ingest. Reaching the batch size hands the whole queue to the sink
// asynchronously.
func (b *Batcher) Submit(ctx context.Context, items []models.Item) error {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return ErrClosed
	}
	if len(items) == 0 {
		b.mu.Unlock()
		return nil
	}

	wasEmpty := len(b.pending) == 0
	if wasEmpty {
		b.oldest = b.now()
	}
	b.pending = append(b.pending, items...)
	received := b.received.Add(int64(len(items)))
	var batch *Batch
	if len(b.pending) >= b.config.BatchSize {
		batch = b.cutLocked(TriggerSize)
		b.inflight++
	}
	pending := len(b.pending)
	b.mu.Unlock()

	metrics.SetBatchPending(pending)
	logging.Ctx(ctx).Trace().
		Int("items", len(items)).
		Int64("received", received).
		Int("pending", pending).
		Msg("Observations buffered")

	if batch != nil {
		go func() {
			b.dispatch(*batch)
			b.mu.Lock()
			b.inflight--
			if b.inflight == 0 {
				b.idle.Broadcast()
			}
			b.mu.Unlock()
		}()
	} else if wasEmpty {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush hands everything pending to the sink and waits for it, including
// flushes already in flight.
func (b *Batcher) Flush(ctx context.Context) error {
	b.waitDispatches()
	return b.flushNow(ctx, TriggerManual)
}

// Close stops the age trigger and flushes what is pending. Calling it more
// than once has no effect.
func (b *Batcher) Close() error {
	// Submit checks closed under b.mu, so no item is appended after this.
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if b.started.Load() {
		close(b.stopChan)
		<-b.doneChan
	}
	b.waitDispatches()

	ctx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
	defer cancel()
	return b.flushNow(ctx, TriggerClose)
}

// waitDispatches blocks until no size-triggered dispatch is running.
func (b *Batcher) waitDispatches() {
	b.mu.Lock()
	for b.inflight > 0 {
		b.idle.Wait()
	}
	b.mu.Unlock()
}

// Stats returns a snapshot of batcher activity.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()

	var lastFlush time.Time
	if t, ok := b.lastFlushTime.Load().(time.Time); ok {
		lastFlush = t
	}
	var lastErr string
	if e, ok := b.lastError.Load().(string); ok {
		lastErr = e
	}

	return Stats{
		Received:      b.received.Load(),
		Flushed:       b.flushed.Load(),
		FlushCount:    b.flushCount.Load(),
		ErrorCount:    b.errorCount.Load(),
		Pending:       pending,
		LastFlushTime: lastFlush,
		LastError:     lastErr,
	}
}

// cutLocked takes ownership of the pending queue. b.mu must be held.
func (b *Batcher) cutLocked(trigger string) *Batch {
	if len(b.pending) == 0 {
		return nil
	}
	batch := &Batch{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Created: b.now().UTC(),
		Items:   b.pending,
	}
	b.pending = make([]models.Item, 0, b.config.BatchSize)
	b.oldest = time.Time{}
	return batch
}

func (b *Batcher) flushNow(ctx context.Context, trigger string) error {
	b.mu.Lock()
	batch := b.cutLocked(trigger)
	b.mu.Unlock()
	if batch == nil {
		return nil
	}
	return b.handoff(ctx, *batch)
}

// dispatch hands a batch to the sink on a detached context.
func (b *Batcher) dispatch(batch Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
	defer cancel()
	if err := b.handoff(ctx, batch); err != nil {
		logging.Warn().Err(err).Str("batch_id", batch.ID).Msg("Batch handoff failed, items restored")
	}
}

// handoff calls the sink once. On failure the items go back to the front
// of the queue and the age timer restarts.
func (b *Batcher) handoff(ctx context.Context, batch Batch) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	ctx = logging.ContextWithBatchID(ctx, batch.ID)
	start := b.now()
	err := b.sink.HandleBatch(ctx, batch)
	if err != nil {
		b.mu.Lock()
		b.pending = append(batch.Items, b.pending...)
		b.oldest = b.now()
		pending := len(b.pending)
		b.mu.Unlock()

		b.errorCount.Add(1)
		b.lastError.Store(err.Error())
		metrics.RecordBatchFlushError()
		metrics.SetBatchPending(pending)
		select {
		case b.kick <- struct{}{}:
		default:
		}
		return fmt.Errorf("flush batch %s (%d items): %w", batch.ID, len(batch.Items), err)
	}

	b.flushed.Add(int64(len(batch.Items)))
	b.flushCount.Add(1)
	b.lastFlushTime.Store(b.now())
	b.lastError.Store("")
	metrics.RecordBatchFlush(batch.Trigger, len(batch.Items))

	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	metrics.SetBatchPending(pending)

	logging.Ctx(ctx).Debug().
		Str("trigger", batch.Trigger).
		Int("items", len(batch.Items)).
		Dur("elapsed", b.now().Sub(start)).
		Msg("Batch flushed")
	return nil
}

// ageLoop flushes the queue when its oldest item reaches the batch age.
// The loop sleeps while the queue is empty and is woken by kick.
func (b *Batcher) ageLoop(ctx context.Context) {
	defer close(b.doneChan)

	for {
		b.mu.Lock()
		n := len(b.pending)
		deadline := b.oldest.Add(b.config.BatchAge)
		b.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if n > 0 {
			wait := deadline.Sub(b.now())
			if wait <= 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
				if err := b.flushNow(flushCtx, TriggerAge); err != nil {
					logging.Warn().Err(err).Msg("Age-triggered flush failed, items restored")
				}
				cancel()
				continue
			}
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-b.stopChan:
			stopTimer(timer)
			return
		case <-b.kick:
			stopTimer(timer)
		case <-fire:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
