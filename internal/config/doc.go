// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

/*
Package config loads and validates signalmap configuration.

# Configuration Sources

Sources are layered with koanf, later layers overriding earlier ones:
  - Built-in defaults (defaultConfig)
  - Optional YAML file: CONFIG_PATH, config.yaml, or /etc/signalmap/config.yaml
  - Environment variables, mapped explicitly (BATCH_SIZE -> engine.batch_size)

# Sections

  - engine: batching, clustering radius, retention cap, sweep schedule, workers
  - store: backend (memory, badger, sqlite), path, lock stripes, blacklist seeds
  - bus: transport (memory, nats), topic, queue group
  - breaker: circuit breaker around the store
  - retry: worker backoff for failed ingests
  - server: HTTP listener
  - logging: zerolog level, format, caller

# Example YAML

	engine:
	  batch_size: 100
	  batch_age: 5s
	  proximity_radius: 2000
	  max_retained: 100
	store:
	  backend: badger
	  path: /data/signalmap
	  blacklist:
	    - wifi/0123456789ab
	bus:
	  transport: nats
	  nats_url: nats://nats:4222

Each section type converts itself into the configuration struct of the
package it drives (EngineSettings, StoreSettings, BusSettings, and so on).
*/
package config
