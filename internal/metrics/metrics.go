// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package metrics holds the Prometheus instrumentation for signalmap.
//
// Collectors are registered on the default registry through promauto and
// exposed by the API on /metrics. Packages record through the Record*
// helpers rather than touching collectors directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for locate and API results.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

var (
	// Ingest Metrics
	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmap_observations_total",
			Help: "Observations handled by the engine, by result",
		},
		[]string{"result"}, // "accepted", "invalid", "blacklisted", "retry"
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalmap_ingest_duration_seconds",
			Help:    "Duration of one engine ingest call",
			Buckets: prometheus.DefBuckets,
		},
	)

	ObservationsTrimmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalmap_observations_trimmed_total",
			Help: "Observations dropped by the per-source retention cap",
		},
	)

	IngestRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalmap_ingest_retries_total",
			Help: "Backoff retries of items that hit an unavailable store",
		},
	)

	IngestResubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmap_ingest_resubmitted_total",
			Help: "Items requeued after retries were exhausted, by target",
		},
		[]string{"target"}, // "batcher", "bus"
	)

	IngestLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalmap_ingest_lost_total",
			Help: "Items of partly stored batches that could not be requeued anywhere",
		},
	)

	// Batcher Metrics
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmap_batch_flushes_total",
			Help: "Batches flushed by the observation batcher, by trigger",
		},
		[]string{"trigger"}, // "size", "age", "close"
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalmap_batch_size",
			Help:    "Number of items per flushed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	BatchFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalmap_batch_flush_errors_total",
			Help: "Batches the sink rejected and that were requeued",
		},
	)

	BatchPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalmap_batch_pending",
			Help: "Items waiting in the batcher queue",
		},
	)

	// Query Metrics
	LocateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmap_locate_total",
			Help: "Locate calls by outcome",
		},
		[]string{"outcome"},
	)

	LocateSources = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalmap_locate_sources",
			Help:    "Number of estimates contributing to a fix",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		},
	)

	// Retention Metrics
	SweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalmap_sweep_runs_total",
			Help: "Completed retention sweeps",
		},
	)

	SweepRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalmap_sweep_removed_total",
			Help: "Stale sources removed by the retention sweep",
		},
	)

	SweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalmap_sweep_errors_total",
			Help: "Retention sweeps that failed or skipped keys",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalmap_sweep_duration_seconds",
			Help:    "Duration of a retention sweep",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	// Store Metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmap_store_operations_total",
			Help: "Store operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "signalmap_store_breaker_state",
			Help: "Store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmap_store_breaker_transitions_total",
			Help: "Store circuit breaker state changes",
		},
		[]string{"name", "from", "to"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmap_api_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalmap_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordIngest records the outcome counts and duration of one ingest call.
func RecordIngest(accepted, invalid, blacklisted, retry int, duration time.Duration) {
	ObservationsIngested.WithLabelValues("accepted").Add(float64(accepted))
	ObservationsIngested.WithLabelValues("invalid").Add(float64(invalid))
	ObservationsIngested.WithLabelValues("blacklisted").Add(float64(blacklisted))
	ObservationsIngested.WithLabelValues("retry").Add(float64(retry))
	IngestDuration.Observe(duration.Seconds())
}

// RecordTrim records observations dropped by the retention cap.
func RecordTrim(dropped int) {
	if dropped > 0 {
		ObservationsTrimmed.Add(float64(dropped))
	}
}

// RecordIngestRetry records one backoff retry.
func RecordIngestRetry() {
	IngestRetries.Inc()
}

// RecordIngestResubmitted records items requeued to target.
func RecordIngestResubmitted(target string, n int) {
	IngestResubmitted.WithLabelValues(target).Add(float64(n))
}

// RecordIngestLost records items that could be neither stored nor requeued.
func RecordIngestLost(n int) {
	IngestLost.Add(float64(n))
}

// RecordBatchFlush records a flushed batch.
func RecordBatchFlush(trigger string, size int) {
	BatchFlushes.WithLabelValues(trigger).Inc()
	BatchSize.Observe(float64(size))
}

// RecordBatchFlushError records a batch the sink rejected.
func RecordBatchFlushError() {
	BatchFlushErrors.Inc()
}

// SetBatchPending updates the pending gauge.
func SetBatchPending(n int) {
	BatchPending.Set(float64(n))
}

// RecordLocate records a locate outcome and, on success, its source count.
func RecordLocate(outcome string, sources int) {
	LocateTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeFound {
		LocateSources.Observe(float64(sources))
	}
}

// RecordSweep records a completed sweep.
func RecordSweep(removed int, duration time.Duration) {
	SweepRuns.Inc()
	SweepRemoved.Add(float64(removed))
	SweepDuration.Observe(duration.Seconds())
}

// RecordSweepError records a failed or partial sweep.
func RecordSweepError() {
	SweepErrors.Inc()
}

// RecordStoreOperation records a store call. err == nil counts as "ok".
func RecordStoreOperation(backend, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(backend, operation, result).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func RecordBreakerTransition(name, from, to string, toValue float64) {
	BreakerTransitions.WithLabelValues(name, from, to).Inc()
	BreakerState.WithLabelValues(name).Set(toValue)
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
