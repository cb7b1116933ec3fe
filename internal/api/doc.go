// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

/*
Package api serves the signalmap HTTP interface on a chi router.

# Endpoints

	POST /v1/submit           buffer device reports for ingest (204)
	POST /v1/search           estimate a device position from visible sources
	POST /v1/blacklist        mark a source as a mobile emitter
	GET  /v1/blacklist/{key}  blacklist audit entry
	GET  /v1/sources/{key}    stored record and estimate of one source
	GET  /health/live         liveness probe
	GET  /health/ready        readiness probe (store reachable)
	GET  /metrics             Prometheus metrics

Source keys in paths use their canonical form, for example
/v1/sources/cell/lte/310/410/1234/56789 or /v1/sources/wifi/0123456789ab.

# Responses

JSON endpoints answer with models.APIResponse. Errors map to status codes:

  - malformed body or invalid key: 400 VALIDATION_ERROR
  - unknown source on a direct lookup: 404 NOT_FOUND
  - store unavailable or shutting down: 503 STORE_UNAVAILABLE / SERVICE_UNAVAILABLE

A search that matches no known source is not an error: it answers 200 with
status "not_found". A search against an unavailable store answers 503, never
"not_found".
*/
package api
