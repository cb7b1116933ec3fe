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
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/signalmap/internal/batcher"
	"github.com/tomtom215/signalmap/internal/engine"
	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/models"
	"github.com/tomtom215/signalmap/internal/store"
)

func testItems(n int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{
			Key: models.CellKey(models.RadioUMTS, 234, 15, 1, i),
			Observation: models.Observation{
				Lat:  51.5,
				Lon:  -0.12,
				Time: time.Date(2026, 1, 12, 10, 0, i, 0, time.UTC),
			},
		}
	}
	return items
}

func newMemoryBus(t *testing.T, partitions int) *Bus {
	t.Helper()
	bus, err := NewBus(BusConfig{Transport: TransportMemory, Partitions: partitions}, logging.NewWatermillLogger())
	if err != nil {
		t.Fatalf("NewBus() error: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// runWorkers starts every worker of the pool until the test ends.
func runWorkers(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	var wg sync.WaitGroup
	for _, w := range p.Workers() {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			_ = w.Serve(ctx)
		}(w)
	}
	t.Cleanup(func() {
		cancel()
		p.Close()
		wg.Wait()
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewBus_UnknownTransport(t *testing.T) {
	if _, err := NewBus(BusConfig{Transport: "kafka"}, nil); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestBus_RoundRobinPartitions(t *testing.T) {
	bus := newMemoryBus(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streams := make([]<-chan *message.Message, 3)
	for i := range streams {
		s, err := bus.Subscribe(ctx, i)
		if err != nil {
			t.Fatal(err)
		}
		streams[i] = s
	}

	for i := 0; i < 6; i++ {
		b := batcher.Batch{ID: fmt.Sprintf("b%d", i), Trigger: batcher.TriggerSize, Items: testItems(1)}
		if err := bus.HandleBatch(ctx, b); err != nil {
			t.Fatalf("HandleBatch() error: %v", err)
		}
	}

	for i, s := range streams {
		got := map[string]bool{}
		for round := 0; round < 2; round++ {
			select {
			case msg := <-s:
				got[msg.UUID] = true
				if msg.Metadata.Get(metaItems) != "1" {
					t.Errorf("items metadata = %q", msg.Metadata.Get(metaItems))
				}
				msg.Ack()
			case <-time.After(2 * time.Second):
				t.Fatalf("partition %d received nothing", i)
			}
		}
		for _, want := range []string{fmt.Sprintf("b%d", i), fmt.Sprintf("b%d", i+3)} {
			if !got[want] {
				t.Errorf("partition %d got %v, missing %s", i, got, want)
			}
		}
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := newMemoryBus(t, 1)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.HandleBatch(context.Background(), batcher.Batch{ID: "x"}); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	bus := newMemoryBus(t, 2)
	s := store.NewMemoryStore(store.Options{})
	eng, err := engine.New(s, engine.Config{ProximityRadius: 2000, MaxRetained: 100})
	if err != nil {
		t.Fatal(err)
	}

	pool := NewPool(bus, eng, nil, RetryConfig{})
	runWorkers(t, pool)

	b, err := batcher.New(bus, batcher.Config{BatchSize: 10, BatchAge: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	pool.SetResubmitter(b)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	items := testItems(25)
	for i := range items {
		if err := b.Submit(context.Background(), items[i:i+1]); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "all items ingested", func() bool { return s.Len() == 25 })
	waitFor(t, "stats", func() bool { return pool.Stats().Items == 25 })

	rec, err := eng.Source(context.Background(), items[7].Key)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Estimate == nil || rec.Estimate.Lat != 51.5 {
		t.Errorf("estimate = %+v", rec.Estimate)
	}
}

func TestPipeline_EmbeddedNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a NATS server")
	}
	bus, err := NewBus(BusConfig{
		Transport:    TransportNATSEmbedded,
		Partitions:   2,
		EmbeddedPort: -1,
		QueueGroup:   "signalmap-test",
	}, logging.NewWatermillLogger())
	if err != nil {
		t.Fatalf("NewBus() error: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	if bus.config.NATSURL == "" || bus.config.NATSURL == DefaultBusConfig().NATSURL {
		t.Errorf("NATSURL = %q, want the embedded server URL", bus.config.NATSURL)
	}

	s := store.NewMemoryStore(store.Options{})
	eng, err := engine.New(s, engine.Config{ProximityRadius: 2000, MaxRetained: 100})
	if err != nil {
		t.Fatal(err)
	}
	pool := NewPool(bus, eng, nil, RetryConfig{})
	runWorkers(t, pool)

	// SUB reaches the server asynchronously.
	time.Sleep(200 * time.Millisecond)

	items := testItems(12)
	for i := 0; i < 3; i++ {
		b := batcher.Batch{ID: fmt.Sprintf("nats-%d", i), Trigger: batcher.TriggerSize, Items: items[i*4 : (i+1)*4]}
		if err := bus.HandleBatch(context.Background(), b); err != nil {
			t.Fatalf("HandleBatch() error: %v", err)
		}
	}

	waitFor(t, "items ingested over nats", func() bool { return s.Len() == 12 })
	waitFor(t, "batch count", func() bool { return pool.Stats().Batches == 3 })
}

// flakyIngester fails with a store error a fixed number of times, keeping
// the second half of each batch for retry.
type flakyIngester struct {
	mu       sync.Mutex
	failures int
	stored   []models.Item
	calls    int
}

func (f *flakyIngester) Ingest(_ context.Context, items []models.Item) (*engine.IngestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		half := len(items) / 2
		f.stored = append(f.stored, items[:half]...)
		return &engine.IngestReport{Accepted: half, Retry: items[half:]},
			fmt.Errorf("upsert: %w", models.ErrStoreUnavailable)
	}
	f.stored = append(f.stored, items...)
	return &engine.IngestReport{Accepted: len(items)}, nil
}

func (f *flakyIngester) snapshot() (int, []models.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]models.Item(nil), f.stored...)
}

func TestWorker_RetriesOnlyUnstoredItems(t *testing.T) {
	bus := newMemoryBus(t, 1)
	ing := &flakyIngester{failures: 2}
	pool := NewPool(bus, ing, nil, RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsed:      time.Second,
	})
	runWorkers(t, pool)

	items := testItems(8)
	if err := bus.HandleBatch(context.Background(), batcher.Batch{ID: "retry", Items: items}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "batch processed", func() bool { return pool.Stats().Batches == 1 })

	calls, stored := ing.snapshot()
	if calls != 3 {
		t.Errorf("Ingest calls = %d, want 3", calls)
	}
	if len(stored) != len(items) {
		t.Fatalf("stored %d items, want %d", len(stored), len(items))
	}
	seen := map[models.SourceKey]int{}
	for _, it := range stored {
		seen[it.Key]++
	}
	for _, it := range items {
		if seen[it.Key] != 1 {
			t.Errorf("item %s stored %d times", it.Key, seen[it.Key])
		}
	}
	if st := pool.Stats(); st.Retries != 2 || st.Resubmitted != 0 {
		t.Errorf("stats = %+v", st)
	}
}

// recordingResubmitter captures resubmitted items.
type recordingResubmitter struct {
	mu    sync.Mutex
	items []models.Item
}

func (r *recordingResubmitter) Submit(_ context.Context, items []models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
	return nil
}

func (r *recordingResubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func TestWorker_ResubmitsWhenRetriesExhausted(t *testing.T) {
	bus := newMemoryBus(t, 1)
	ing := &flakyIngester{failures: 1 << 30}
	resub := &recordingResubmitter{}
	pool := NewPool(bus, ing, resub, RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      30 * time.Millisecond,
	})
	runWorkers(t, pool)

	if err := bus.HandleBatch(context.Background(), batcher.Batch{ID: "exhaust", Items: testItems(64)}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "resubmission", func() bool { return resub.count() > 0 })

	_, stored := ing.snapshot()
	if got := len(stored) + resub.count(); got != 64 {
		t.Errorf("stored %d + resubmitted %d = %d, want 64", len(stored), resub.count(), got)
	}
	if st := pool.Stats(); st.Resubmitted != int64(resub.count()) {
		t.Errorf("Resubmitted = %d, want %d", st.Resubmitted, resub.count())
	}
}

func TestWorker_UndecodableMessageDropped(t *testing.T) {
	bus := newMemoryBus(t, 1)
	ing := &flakyIngester{}
	pool := NewPool(bus, ing, nil, RetryConfig{})
	runWorkers(t, pool)

	msg := message.NewMessage("garbage", []byte("{not json"))
	if err := bus.publisher.Publish(bus.PartitionTopic(0), msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "drop", func() bool { return pool.Stats().Dropped == 1 })

	if calls, _ := ing.snapshot(); calls != 0 {
		t.Errorf("Ingest called %d times for an undecodable message", calls)
	}
}

func TestWorker_String(t *testing.T) {
	w := &Worker{partition: 3}
	if w.String() != "ingest-worker-3" {
		t.Errorf("String() = %q", w.String())
	}
}

func TestPool_DrainHandlesQueuedBatches(t *testing.T) {
	bus := newMemoryBus(t, 2)
	ing := &flakyIngester{}
	pool := NewPool(bus, ing, nil, RetryConfig{})

	// Subscribed but no worker serving: batches queue on the partitions.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	items := testItems(6)
	for i := 0; i < 3; i++ {
		batch := batcher.Batch{ID: fmt.Sprintf("final-%d", i), Items: items[i*2 : i*2+2]}
		if err := bus.HandleBatch(context.Background(), batch); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if n := pool.Drain(ctx, 200*time.Millisecond); n != 3 {
		t.Errorf("Drain() handled %d messages, want 3", n)
	}
	if _, stored := ing.snapshot(); len(stored) != len(items) {
		t.Errorf("stored %d items, want %d", len(stored), len(items))
	}

	if n := pool.Drain(ctx, 20*time.Millisecond); n != 0 {
		t.Errorf("second Drain() handled %d messages, want 0", n)
	}
}

func TestWorker_ClosedBatcherRepublishesOnlyUnstoredItems(t *testing.T) {
	bus := newMemoryBus(t, 1)
	ing := &flakyIngester{failures: 1}

	closed, err := batcher.New(bus, batcher.Config{BatchSize: 10, BatchAge: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := closed.Close(); err != nil {
		t.Fatal(err)
	}

	// One attempt per message: the first delivery stores half and gives up.
	pool := NewPool(bus, ing, closed, RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxElapsed:      time.Nanosecond,
	})
	runWorkers(t, pool)

	items := testItems(8)
	if err := bus.HandleBatch(context.Background(), batcher.Batch{ID: "partial", Items: items}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "republished batch processed", func() bool { return pool.Stats().Batches == 2 })
	// Give a redelivery of the original message time to show up.
	time.Sleep(100 * time.Millisecond)

	calls, stored := ing.snapshot()
	if calls != 2 {
		t.Errorf("Ingest calls = %d, want 2", calls)
	}
	seen := map[models.SourceKey]int{}
	for _, it := range stored {
		seen[it.Key]++
	}
	for _, it := range items {
		if seen[it.Key] != 1 {
			t.Errorf("item %s stored %d times, want 1", it.Key, seen[it.Key])
		}
	}

	st := pool.Stats()
	if st.Republished != 4 || st.Resubmitted != 0 || st.Lost != 0 || st.Items != 8 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPool_Requeue(t *testing.T) {
	items := testItems(4)
	unavailable := fmt.Errorf("upsert: %w", models.ErrStoreUnavailable)

	tests := []struct {
		name     string
		pending  []models.Item
		closeBus bool
		wantErr  bool
		want     PoolStats
	}{
		{
			name:    "republished on the bus",
			pending: items[2:],
			want:    PoolStats{Republished: 2},
		},
		{
			name:     "partly stored batch is acked",
			pending:  items[2:],
			closeBus: true,
			want:     PoolStats{Lost: 2},
		},
		{
			name:     "nothing stored is redelivered",
			pending:  items,
			closeBus: true,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newMemoryBus(t, 1)
			pool := NewPool(bus, &flakyIngester{}, nil, RetryConfig{})
			if tt.closeBus {
				if err := bus.Close(); err != nil {
					t.Fatal(err)
				}
			}

			err := pool.requeue(context.Background(), batcher.Batch{ID: "b", Items: items}, tt.pending, unavailable)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requeue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, models.ErrStoreUnavailable) {
				t.Errorf("requeue() error = %v, want it to wrap the ingest error", err)
			}
			if got := pool.Stats(); got != tt.want {
				t.Errorf("stats = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// interruptedIngester stores the first item of a batch and then blocks
// until the worker is cancelled, returning the rest for retry.
type interruptedIngester struct {
	started chan struct{}
	once    sync.Once

	mu     sync.Mutex
	stored []models.Item
}

func (i *interruptedIngester) Ingest(ctx context.Context, items []models.Item) (*engine.IngestReport, error) {
	i.mu.Lock()
	i.stored = append(i.stored, items[0])
	i.mu.Unlock()
	i.once.Do(func() { close(i.started) })

	<-ctx.Done()
	return &engine.IngestReport{Accepted: 1, Retry: items[1:]},
		fmt.Errorf("ingest interrupted after 1 of %d items: %w", len(items), ctx.Err())
}

func TestWorker_CancelledMidBatchRequeuesRemainder(t *testing.T) {
	bus := newMemoryBus(t, 1)
	ing := &interruptedIngester{started: make(chan struct{})}
	resub := &recordingResubmitter{}
	pool := NewPool(bus, ing, resub, RetryConfig{})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Workers()[0].Serve(ctx) }()

	items := testItems(5)
	if err := bus.HandleBatch(context.Background(), batcher.Batch{ID: "cancelled", Items: items}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ing.started:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest never started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if resub.count() != 4 {
		t.Fatalf("resubmitted %d items, want 4", resub.count())
	}
	resub.mu.Lock()
	defer resub.mu.Unlock()
	for _, it := range resub.items {
		if it.Key == items[0].Key {
			t.Errorf("stored item %s was resubmitted", it.Key)
		}
	}
	if st := pool.Stats(); st.Items != 1 || st.Resubmitted != 4 {
		t.Errorf("stats = %+v", st)
	}
}
