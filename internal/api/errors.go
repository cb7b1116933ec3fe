// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/signalmap/internal/batcher"
	"github.com/tomtom215/signalmap/internal/models"
)

// Error codes for API responses
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeBodyTooLarge       = "BODY_TOO_LARGE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Response status values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// errEmptyQuery is returned for searches that name no source.
var errEmptyQuery = errors.New("query names no cell or wifi source")

// classifyError maps an engine or store error to an HTTP status and code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidObservation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, models.ErrUnknownSource):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrCodeStoreUnavailable
	case errors.Is(err, batcher.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
