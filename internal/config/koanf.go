// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/signalmap/internal/batcher"
	"github.com/tomtom215/signalmap/internal/pipeline"
	"github.com/tomtom215/signalmap/internal/retention"
	"github.com/tomtom215/signalmap/internal/store"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/signalmap/config.yaml",
	"/etc/signalmap/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	breaker := store.DefaultBreakerConfig()
	bus := pipeline.DefaultBusConfig()
	retry := pipeline.DefaultRetryConfig()
	batch := batcher.DefaultConfig()

	return &Config{
		Engine: EngineConfig{
			BatchSize:       batch.BatchSize,
			BatchAge:        batch.BatchAge,
			FlushTimeout:    batch.FlushTimeout,
			ProximityRadius: 2000,
			MaxRetained:     retention.DefaultMaxRetained,
			StalenessWindow: retention.DefaultStalenessWindow,
			SweepInterval:   retention.DefaultSweepInterval,
			WorkerCount:     bus.Partitions,
		},
		Store: StoreConfig{
			Backend:     store.BackendMemory,
			Path:        "",
			SyncWrites:  false,
			LockStripes: store.DefaultLockStripes,
			Blacklist:   []string{},
		},
		Bus: BusConfig{
			Transport:     bus.Transport,
			NATSURL:       bus.NATSURL,
			Topic:         bus.Topic,
			QueueGroup:    bus.QueueGroup,
			OutputBuffer:  bus.OutputBuffer,
			MaxReconnects: bus.MaxReconnects,
			ReconnectWait: bus.ReconnectWait,
			EmbeddedHost:  bus.EmbeddedHost,
			EmbeddedPort:  bus.EmbeddedPort,
		},
		Breaker: BreakerConfig{
			MaxRequests:      breaker.MaxRequests,
			Interval:         breaker.Interval,
			Timeout:          breaker.Timeout,
			FailureThreshold: breaker.FailureThreshold,
		},
		Retry: RetryConfig{
			InitialInterval: retry.InitialInterval,
			MaxInterval:     retry.MaxInterval,
			MaxElapsed:      retry.MaxElapsed,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf with layered sources:
//  1. Built-in defaults
//  2. Config file (optional; config.yaml or CONFIG_PATH)
//  3. Environment variables (highest priority)
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the path of the first config file found, or an
// empty string when none exists. CONFIG_PATH wins over the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"store.blacklist",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings while the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Engine
	"batch_size":       "engine.batch_size",
	"batch_age":        "engine.batch_age",
	"flush_timeout":    "engine.flush_timeout",
	"proximity_radius": "engine.proximity_radius",
	"max_retained":     "engine.max_retained",
	"staleness_window": "engine.staleness_window",
	"sweep_interval":   "engine.sweep_interval",
	"worker_count":     "engine.worker_count",

	// Store
	"store_backend":      "store.backend",
	"store_path":         "store.path",
	"store_sync_writes":  "store.sync_writes",
	"store_lock_stripes": "store.lock_stripes",
	"store_blacklist":    "store.blacklist",

	// Bus
	"bus_transport":       "bus.transport",
	"nats_url":            "bus.nats_url",
	"bus_topic":           "bus.topic",
	"bus_queue_group":     "bus.queue_group",
	"bus_output_buffer":   "bus.output_buffer",
	"nats_max_reconnects": "bus.max_reconnects",
	"nats_reconnect_wait": "bus.reconnect_wait",
	"nats_embedded_host":  "bus.embedded_host",
	"nats_embedded_port":  "bus.embedded_port",

	// Breaker
	"breaker_max_requests":      "breaker.max_requests",
	"breaker_interval":          "breaker.interval",
	"breaker_timeout":           "breaker.timeout",
	"breaker_failure_threshold": "breaker.failure_threshold",

	// Retry
	"retry_initial_interval": "retry.initial_interval",
	"retry_max_interval":     "retry.max_interval",
	"retry_max_elapsed":      "retry.max_elapsed",

	// Server
	"http_host":        "server.host",
	"http_port":        "server.port",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":     "server.cors_origins",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped variables are ignored.
//
// Examples:
//   - BATCH_SIZE -> engine.batch_size
//   - STORE_BACKEND -> store.backend
//   - NATS_URL -> bus.nats_url
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
