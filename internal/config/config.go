// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/signalmap/internal/api"
	"github.com/tomtom215/signalmap/internal/batcher"
	"github.com/tomtom215/signalmap/internal/engine"
	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/pipeline"
	"github.com/tomtom215/signalmap/internal/retention"
	"github.com/tomtom215/signalmap/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Engine  EngineConfig  `koanf:"engine"`
	Store   StoreConfig   `koanf:"store"`
	Bus     BusConfig     `koanf:"bus"`
	Breaker BreakerConfig `koanf:"breaker"`
	Retry   RetryConfig   `koanf:"retry"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// EngineConfig holds the estimation and batching parameters.
//
// Environment Variables:
//   - BATCH_SIZE: observations per batch (default: 100)
//   - BATCH_AGE: maximum age of a pending batch (default: 5s)
//   - PROXIMITY_RADIUS: clustering radius in meters (default: 2000)
//   - MAX_RETAINED: observations kept per source (default: 100, minimum 10)
//   - STALENESS_WINDOW: records untouched this long are swept (default: 720h)
//   - SWEEP_INTERVAL: time between sweeps (default: 24h)
//   - WORKER_COUNT: ingest workers, one per bus partition (default: 4)
type EngineConfig struct {
	BatchSize       int           `koanf:"batch_size" validate:"gt=0"`
	BatchAge        time.Duration `koanf:"batch_age" validate:"gt=0"`
	FlushTimeout    time.Duration `koanf:"flush_timeout" validate:"gt=0"`
	ProximityRadius float64       `koanf:"proximity_radius" validate:"gt=0"`
	MaxRetained     int           `koanf:"max_retained"`
	StalenessWindow time.Duration `koanf:"staleness_window" validate:"gt=0"`
	SweepInterval   time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	WorkerCount     int           `koanf:"worker_count" validate:"gt=0,lte=256"`
}

// StoreConfig selects and configures the source store backend.
//
// Environment Variables:
//   - STORE_BACKEND: memory, badger, sqlite (default: memory)
//   - STORE_PATH: data directory (badger) or database file (sqlite)
//   - STORE_SYNC_WRITES: fsync every badger write (default: false)
//   - STORE_LOCK_STRIPES: per-key lock stripes (default: 256)
//   - STORE_BLACKLIST: comma-separated source keys to blacklist at startup
type StoreConfig struct {
	Backend     string   `koanf:"backend" validate:"oneof=memory badger sqlite"`
	Path        string   `koanf:"path" validate:"required_unless=Backend memory"`
	SyncWrites  bool     `koanf:"sync_writes"`
	LockStripes int      `koanf:"lock_stripes" validate:"gt=0"`
	Blacklist   []string `koanf:"blacklist"`
}

// BusConfig configures the batch bus between batcher and workers.
//
// Environment Variables:
//   - BUS_TRANSPORT: memory, nats or nats-embedded (default: memory)
//   - NATS_URL: server URL when transport is nats
//   - NATS_EMBEDDED_HOST, NATS_EMBEDDED_PORT: listen address of the
//     nats-embedded server (default: 127.0.0.1, -1 for a free port)
//   - BUS_TOPIC: base topic name (default: signalmap.batches)
//   - BUS_QUEUE_GROUP: NATS queue group prefix (default: signalmap)
//   - BUS_OUTPUT_BUFFER: in-process channel buffer (default: 64)
type BusConfig struct {
	Transport     string        `koanf:"transport" validate:"oneof=memory nats nats-embedded"`
	NATSURL       string        `koanf:"nats_url" validate:"required_if=Transport nats,omitempty,url"`
	Topic         string        `koanf:"topic" validate:"required"`
	QueueGroup    string        `koanf:"queue_group"`
	OutputBuffer  int64         `koanf:"output_buffer" validate:"gte=0"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait" validate:"gte=0"`
	EmbeddedHost  string        `koanf:"embedded_host"`
	EmbeddedPort  int           `koanf:"embedded_port" validate:"gte=-1,lte=65535"`
}

// BreakerConfig configures the circuit breaker around the store.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests" validate:"gt=0"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gt=0"`
}

// RetryConfig configures the worker retry backoff for failed ingests.
type RetryConfig struct {
	InitialInterval time.Duration `koanf:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `koanf:"max_interval" validate:"gtefield=InitialInterval"`
	MaxElapsed      time.Duration `koanf:"max_elapsed" validate:"gt=0"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_HOST: bind address (default: 0.0.0.0)
//   - HTTP_PORT: listen port (default: 8080)
//   - HTTP_TIMEOUT: per-request timeout (default: 30s)
//   - SHUTDOWN_TIMEOUT: graceful shutdown budget (default: 15s)
//   - CORS_ORIGINS: comma-separated allowed origins (default: none)
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// EngineSettings returns the engine configuration.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		ProximityRadius: c.Engine.ProximityRadius,
		MaxRetained:     c.Engine.MaxRetained,
	}
}

// BatcherSettings returns the batcher configuration.
func (c *Config) BatcherSettings() batcher.Config {
	return batcher.Config{
		BatchSize:    c.Engine.BatchSize,
		BatchAge:     c.Engine.BatchAge,
		FlushTimeout: c.Engine.FlushTimeout,
	}
}

// SweeperSettings returns the retention sweeper configuration.
func (c *Config) SweeperSettings() retention.SweeperConfig {
	return retention.SweeperConfig{
		Interval:        c.Engine.SweepInterval,
		StalenessWindow: c.Engine.StalenessWindow,
	}
}

// StoreSettings returns the store configuration.
func (c *Config) StoreSettings() store.Config {
	return store.Config{
		Backend:     c.Store.Backend,
		Path:        c.Store.Path,
		SyncWrites:  c.Store.SyncWrites,
		LockStripes: c.Store.LockStripes,
		Blacklist:   c.Store.Blacklist,
	}
}

// BreakerSettings returns the store circuit breaker configuration.
func (c *Config) BreakerSettings() store.BreakerConfig {
	cfg := store.DefaultBreakerConfig()
	cfg.MaxRequests = c.Breaker.MaxRequests
	cfg.Interval = c.Breaker.Interval
	cfg.Timeout = c.Breaker.Timeout
	cfg.FailureThreshold = c.Breaker.FailureThreshold
	return cfg
}

// BusSettings returns the batch bus configuration. The partition count
// follows the worker count so every partition has one consumer.
func (c *Config) BusSettings() pipeline.BusConfig {
	cfg := pipeline.DefaultBusConfig()
	cfg.Transport = c.Bus.Transport
	cfg.Topic = c.Bus.Topic
	cfg.Partitions = c.Engine.WorkerCount
	cfg.OutputBuffer = c.Bus.OutputBuffer
	cfg.NATSURL = c.Bus.NATSURL
	cfg.QueueGroup = c.Bus.QueueGroup
	if c.Bus.MaxReconnects != 0 {
		cfg.MaxReconnects = c.Bus.MaxReconnects
	}
	if c.Bus.ReconnectWait > 0 {
		cfg.ReconnectWait = c.Bus.ReconnectWait
	}
	if c.Bus.EmbeddedHost != "" {
		cfg.EmbeddedHost = c.Bus.EmbeddedHost
	}
	if c.Bus.EmbeddedPort != 0 {
		cfg.EmbeddedPort = c.Bus.EmbeddedPort
	}
	return cfg
}

// RouterSettings returns the HTTP router configuration.
func (c *Config) RouterSettings() api.RouterConfig {
	return api.RouterConfig{
		Timeout:     c.Server.Timeout,
		CORSOrigins: c.Server.CORSOrigins,
	}
}

// RetrySettings returns the worker retry configuration.
func (c *Config) RetrySettings() pipeline.RetryConfig {
	return pipeline.RetryConfig{
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
		MaxElapsed:      c.Retry.MaxElapsed,
	}
}

// LoggingSettings returns the logger configuration.
func (c *Config) LoggingSettings() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.Caller = c.Logging.Caller
	return cfg
}

// String summarizes the configuration for the startup log line.
func (c *Config) String() string {
	return fmt.Sprintf("store=%s bus=%s workers=%d radius=%.0fm max_retained=%d",
		c.Store.Backend, c.Bus.Transport, c.Engine.WorkerCount, c.Engine.ProximityRadius, c.Engine.MaxRetained)
}
