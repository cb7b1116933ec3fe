// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/models"
	"github.com/tomtom215/signalmap/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// sanitizeLogValue removes control characters from strings to prevent log injection attacks.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&result, "\\x%02x", r)
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// metadata builds response metadata for r.
func metadata(r *http.Request, start time.Time) models.Metadata {
	return models.Metadata{
		Timestamp:   time.Now().UTC(),
		QueryTimeMS: time.Since(start).Milliseconds(),
		RequestID:   logging.RequestIDFromContext(r.Context()),
	}
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondSuccess sends a success envelope around data.
func respondSuccess(w http.ResponseWriter, r *http.Request, start time.Time, data interface{}) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   StatusSuccess,
		Data:     data,
		Metadata: metadata(r, start),
	})
}

// respondError sends an error response
func respondError(w http.ResponseWriter, r *http.Request, start time.Time, status int, code, message string, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Error().
			Str("code", code).
			Int("status", status).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status:   StatusError,
		Metadata: metadata(r, start),
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondEngineError classifies err and sends the matching error response.
// Client errors are logged at debug level only.
func respondEngineError(w http.ResponseWriter, r *http.Request, start time.Time, err error) {
	status, code := classifyError(err)
	if status < http.StatusInternalServerError {
		logging.Ctx(r.Context()).Debug().Err(err).Str("code", code).Msg("Request rejected")
		respondError(w, r, start, status, code, err.Error(), nil)
		return
	}
	respondError(w, r, start, status, code, http.StatusText(status), err)
}

// respondValidationError sends the field failures of verr.
func respondValidationError(w http.ResponseWriter, r *http.Request, start time.Time, verr *validation.RequestValidationError) {
	respondJSON(w, http.StatusBadRequest, &models.APIResponse{
		Status:   StatusError,
		Metadata: metadata(r, start),
		Error:    verr.ToAPIError(),
	})
}

// decodeJSON reads a bounded JSON body into dst and writes a 400 or 413
// response on failure. It reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, start time.Time, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, start, http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes), nil)
			return false
		}
		respondError(w, r, start, http.StatusBadRequest, ErrCodeValidation,
			"malformed JSON body: "+err.Error(), nil)
		return false
	}
	return true
}
