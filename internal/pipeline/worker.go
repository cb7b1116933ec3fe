// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/signalmap/internal/batcher"
	"github.com/tomtom215/signalmap/internal/engine"
	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/metrics"
	"github.com/tomtom215/signalmap/internal/models"
)

// Ingester stores a batch of items.
type Ingester interface {
	Ingest(ctx context.Context, items []models.Item) (*engine.IngestReport, error)
}

// Resubmitter takes back items whose ingest retries were exhausted.
type Resubmitter interface {
	Submit(ctx context.Context, items []models.Item) error
}

// RetryConfig bounds the exponential backoff used when the store is
// unavailable.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryConfig returns production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsed:      5 * time.Minute,
	}
}

// PoolStats is a snapshot of worker activity.
type PoolStats struct {
	Batches     int64
	Items       int64
	Retries     int64
	Resubmitted int64
	Republished int64
	Lost        int64
	Dropped     int64
}

// Pool owns one worker per bus partition. Subscriptions are opened by Start
// and outlive individual worker restarts.
type Pool struct {
	bus      *Bus
	engine   Ingester
	resubmit Resubmitter
	retry    RetryConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers []*Worker

	batches     atomic.Int64
	items       atomic.Int64
	retries     atomic.Int64
	resubmitted atomic.Int64
	republished atomic.Int64
	lost        atomic.Int64
	dropped     atomic.Int64
}

// NewPool creates a pool over bus. resubmit may be nil, in which case
// items whose retries are exhausted are republished on the bus.
func NewPool(bus *Bus, eng Ingester, resubmit Resubmitter, retry RetryConfig) *Pool {
	def := DefaultRetryConfig()
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = def.InitialInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = def.MaxInterval
	}
	if retry.MaxElapsed <= 0 {
		retry.MaxElapsed = def.MaxElapsed
	}
	return &Pool{bus: bus, engine: eng, resubmit: resubmit, retry: retry}
}

// SetResubmitter sets the target for exhausted batches. The batcher and the
// pool reference each other, so one side is wired after construction.
func (p *Pool) SetResubmitter(r Resubmitter) {
	p.mu.Lock()
	p.resubmit = r
	p.mu.Unlock()
}

func (p *Pool) resubmitter() Resubmitter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resubmit
}

// Start subscribes every partition and builds the workers. It must run
// before the first batch is published.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	workers := make([]*Worker, 0, p.bus.Partitions())
	for n := 0; n < p.bus.Partitions(); n++ {
		msgs, err := p.bus.Subscribe(subCtx, n)
		if err != nil {
			cancel()
			return err
		}
		workers = append(workers, &Worker{pool: p, partition: n, msgs: msgs})
	}
	p.cancel = cancel
	p.workers = workers

	logging.Info().Int("workers", len(workers)).Msg("Ingest worker pool subscribed")
	return nil
}

// Workers returns the partition workers created by Start.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Worker(nil), p.workers...)
}

// Close ends the subscriptions.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Drain handles messages still queued on the subscriptions after the
// workers have stopped, such as the final flush of a closing batcher. Each
// partition is drained until it stays quiet for the quiet period or ctx
// ends. It returns the number of messages handled.
func (p *Pool) Drain(ctx context.Context, quiet time.Duration) int {
	var (
		wg      sync.WaitGroup
		handled atomic.Int64
	)
	for _, w := range p.Workers() {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			timer := time.NewTimer(quiet)
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
					return
				case msg, ok := <-w.msgs:
					if !ok {
						return
					}
					w.handle(ctx, msg)
					handled.Add(1)
					timer.Reset(quiet)
				}
			}
		}(w)
	}
	wg.Wait()

	if n := handled.Load(); n > 0 {
		logging.Info().Int64("messages", n).Msg("Drained queued batches")
	}
	return int(handled.Load())
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Batches:     p.batches.Load(),
		Items:       p.items.Load(),
		Retries:     p.retries.Load(),
		Resubmitted: p.resubmitted.Load(),
		Republished: p.republished.Load(),
		Lost:        p.lost.Load(),
		Dropped:     p.dropped.Load(),
	}
}

// Worker consumes one partition. It implements suture.Service.
type Worker struct {
	pool      *Pool
	partition int
	msgs      <-chan *message.Message
}

// String names the worker in supervisor logs.
func (w *Worker) String() string {
	return fmt.Sprintf("ingest-worker-%d", w.partition)
}

// Serve handles messages until ctx is done.
func (w *Worker) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.msgs:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *message.Message) {
	var batch batcher.Batch
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		w.pool.dropped.Add(1)
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable batch")
		msg.Ack()
		return
	}

	ctx = logging.ContextWithBatchID(ctx, batch.ID)
	if err := w.process(ctx, batch); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int("items", len(batch.Items)).Msg("Batch not ingested, requesting redelivery")
		msg.Nack()
		return
	}
	msg.Ack()
}

// process ingests the batch, retrying items the store could not take with
// exponential backoff. Items still pending when retries run out or ctx ends
// are requeued. An error means the whole message must be redelivered, which
// only happens while no item of the batch has been stored.
func (w *Worker) process(ctx context.Context, batch batcher.Batch) error {
	pending := batch.Items

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.pool.retry.InitialInterval
	eb.MaxInterval = w.pool.retry.MaxInterval

	_, err := backoff.Retry(ctx, func() (*engine.IngestReport, error) {
		report, err := w.pool.engine.Ingest(ctx, pending)
		if err == nil {
			return report, nil
		}
		if report != nil && len(report.Retry) > 0 {
			pending = report.Retry
		}
		if errors.Is(err, models.ErrStoreUnavailable) && ctx.Err() == nil {
			return report, err
		}
		return report, backoff.Permanent(err)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxElapsedTime(w.pool.retry.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.pool.retries.Add(1)
			metrics.RecordIngestRetry()
			logging.Ctx(ctx).Warn().Err(err).Int("pending", len(pending)).Dur("next", next).Msg("Store unavailable, retrying ingest")
		}),
	)

	w.pool.batches.Add(1)
	if err == nil {
		w.pool.items.Add(int64(len(batch.Items)))
		return nil
	}

	w.pool.items.Add(int64(len(batch.Items) - len(pending)))
	return w.pool.requeue(context.WithoutCancel(ctx), batch, pending, err)
}

// requeue hands items the store never took back to the pipeline, first to
// the batcher and then to the bus as a new batch. Either way the original
// message is acked, so items already stored are never ingested again.
// When neither target accepts the items, a batch with nothing stored is
// returned as an error for redelivery; the pending items of a partly stored
// batch are counted as lost.
func (p *Pool) requeue(ctx context.Context, batch batcher.Batch, pending []models.Item, cause error) error {
	log := logging.Ctx(ctx)

	if r := p.resubmitter(); r != nil {
		err := r.Submit(ctx, pending)
		if err == nil {
			p.resubmitted.Add(int64(len(pending)))
			metrics.RecordIngestResubmitted("batcher", len(pending))
			log.Error().Err(cause).Int("items", len(pending)).Msg("Ingest retries exhausted, items resubmitted to batcher")
			return nil
		}
		log.Warn().Err(err).Int("items", len(pending)).Msg("Batcher refused resubmission, republishing on the bus")
	}

	retry := batcher.Batch{
		ID:      uuid.NewString(),
		Trigger: batcher.TriggerRetry,
		Created: time.Now().UTC(),
		Items:   pending,
	}
	err := p.bus.HandleBatch(ctx, retry)
	if err == nil {
		p.republished.Add(int64(len(pending)))
		metrics.RecordIngestResubmitted("bus", len(pending))
		log.Error().Err(cause).
			Int("items", len(pending)).
			Str("retry_batch_id", retry.ID).
			Msg("Ingest retries exhausted, items republished")
		return nil
	}

	if len(pending) == len(batch.Items) {
		return fmt.Errorf("requeue %d items: %w (ingest: %w)", len(pending), err, cause)
	}

	p.lost.Add(int64(len(pending)))
	metrics.RecordIngestLost(len(pending))
	log.Error().Err(err).
		AnErr("ingest_error", cause).
		Int("items", len(pending)).
		Int("stored", len(batch.Items)-len(pending)).
		Msg("Items of a partly stored batch could not be requeued")
	return nil
}
