// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import (
	"time"
)

// APIResponse is the envelope written by every JSON endpoint.
//
// Status is "success", "error" or "not_found". A search that matched no
// known source answers with "not_found" and a nil Data.
//
//	{
//	  "status": "success",
//	  "data": {"lat": 45.6, "lon": 23.4, "accuracy": 120, "sources": 2},
//	  "metadata": {"timestamp": "2026-01-12T12:00:00Z", "query_time_ms": 3}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response timing.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

// APIError describes a failed request.
//
// Codes used by the API:
//   - VALIDATION_ERROR: malformed body or invalid source key (400)
//   - STORE_UNAVAILABLE: persistence failure (503)
//   - NOT_FOUND: unknown source on a direct lookup (404)
//   - INTERNAL_ERROR: anything else (500)
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// IngestSummary is returned by the synchronous ingest path and logged by
// the pipeline workers.
type IngestSummary struct {
	BatchID     string `json:"batch_id,omitempty"`
	Accepted    int    `json:"accepted"`
	Blacklisted int    `json:"blacklisted"`
	Invalid     int    `json:"invalid"`
	Retry       int    `json:"retry"`
}
