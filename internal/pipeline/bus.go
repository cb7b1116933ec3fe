// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package pipeline moves flushed observation batches from the batcher to
// the ingest workers over a watermill bus.
//
// Batches are published round-robin to one topic per worker partition
// ("<topic>.<n>"), so each partition handles one batch at a time and up to
// worker_count batches are in flight. The in-process transport is
// watermill's gochannel; the nats transport uses core NATS through
// watermill-nats with a queue group so several instances share the load.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/signalmap/internal/batcher"
)

// Transports.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"

	// TransportNATSEmbedded runs a NATS server inside the process and
	// connects the nats transport to it.
	TransportNATSEmbedded = "nats-embedded"
)

// Message metadata keys.
const (
	metaTrigger = "trigger"
	metaItems   = "items"
)

// BusConfig configures the batch bus.
type BusConfig struct {
	Transport string
	Topic     string

	// Partitions is the number of partition topics, one per worker.
	Partitions int

	// OutputBuffer sizes the gochannel subscriber buffers.
	OutputBuffer int64

	NATSURL    string
	QueueGroup string

	// EmbeddedHost and EmbeddedPort place the nats-embedded server.
	// EmbeddedPort -1 picks a free port.
	EmbeddedHost string
	EmbeddedPort int

	MaxReconnects int
	ReconnectWait time.Duration
	CloseTimeout  time.Duration
}

// DefaultBusConfig returns production defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Transport:     TransportMemory,
		Topic:         "signalmap.batches",
		Partitions:    4,
		OutputBuffer:  64,
		NATSURL:       natsgo.DefaultURL,
		QueueGroup:    "signalmap-ingest",
		EmbeddedHost:  "127.0.0.1",
		EmbeddedPort:  -1,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		CloseTimeout:  30 * time.Second,
	}
}

// Bus publishes batches and hands partition subscriptions to workers. It
// implements batcher.Sink.
type Bus struct {
	config    BusConfig
	publisher message.Publisher
	sub       message.Subscriber
	logger    watermill.LoggerAdapter

	// shared is set when publisher and subscriber are the same object.
	shared bool

	embedded *embeddedServer

	next      atomic.Uint64
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ batcher.Sink = (*Bus)(nil)

// NewBus connects the configured transport.
func NewBus(cfg BusConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	def := DefaultBusConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = def.Partitions
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	b := &Bus{config: cfg, logger: logger}

	switch cfg.Transport {
	case "", TransportMemory:
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.OutputBuffer,
		}, logger)
		b.publisher, b.sub, b.shared = ch, ch, true
	case TransportNATS:
		pub, sub, err := newNATS(cfg, logger)
		if err != nil {
			return nil, err
		}
		b.publisher, b.sub = pub, sub
	case TransportNATSEmbedded:
		srv, err := startEmbedded(cfg.EmbeddedHost, cfg.EmbeddedPort)
		if err != nil {
			return nil, err
		}
		cfg.NATSURL = srv.ClientURL()
		b.config.NATSURL = cfg.NATSURL
		pub, sub, err := newNATS(cfg, logger)
		if err != nil {
			srv.shutdown()
			return nil, err
		}
		b.publisher, b.sub, b.embedded = pub, sub, srv
		logger.Info("Embedded NATS server started", watermill.LogFields{"url": cfg.NATSURL})
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}
	return b, nil
}

func natsOptions(cfg BusConfig, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("signalmap"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// newNATS builds a core NATS publisher and queue-group subscriber.
func newNATS(cfg BusConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOptions(cfg, logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("create nats subscriber: %w", err)
	}
	return pub, sub, nil
}

// Partitions returns the number of partition topics.
func (b *Bus) Partitions() int { return b.config.Partitions }

// PartitionTopic returns the topic of partition n.
func (b *Bus) PartitionTopic(n int) string {
	return b.config.Topic + "." + strconv.Itoa(n)
}

// HandleBatch publishes batch to the next partition.
func (b *Bus) HandleBatch(ctx context.Context, batch batcher.Batch) error {
	if b.closed.Load() {
		return fmt.Errorf("publish batch %s: bus closed", batch.ID)
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}

	msg := message.NewMessage(batch.ID, payload)
	msg.Metadata.Set(metaTrigger, batch.Trigger)
	msg.Metadata.Set(metaItems, strconv.Itoa(len(batch.Items)))
	msg.SetContext(ctx)

	partition := int((b.next.Add(1) - 1) % uint64(b.config.Partitions))
	topic := b.PartitionTopic(partition)
	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish batch %s to %s: %w", batch.ID, topic, err)
	}
	return nil
}

// Subscribe returns the message stream of partition n. The stream ends when
// ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, n int) (<-chan *message.Message, error) {
	topic := b.PartitionTopic(n)
	msgs, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return msgs, nil
}

// Close shuts down both sides of the bus.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		pubErr := b.publisher.Close()
		var subErr error
		if !b.shared {
			subErr = b.sub.Close()
		}
		if b.embedded != nil {
			b.embedded.shutdown()
		}
		switch {
		case pubErr != nil:
			err = fmt.Errorf("close publisher: %w", pubErr)
		case subErr != nil:
			err = fmt.Errorf("close subscriber: %w", subErr)
		}
	})
	return err
}
