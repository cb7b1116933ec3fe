// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/signalmap/internal/models"
	"github.com/tomtom215/signalmap/internal/validation"
)

// sourceView is the response body of GET /v1/sources/{key}.
type sourceView struct {
	Key          string                    `json:"key"`
	Source       models.SourceKey          `json:"source"`
	Estimate     *models.EstimatedLocation `json:"estimate,omitempty"`
	Samples      int64                     `json:"samples"`
	Retained     int                       `json:"retained"`
	Created      time.Time                 `json:"created"`
	LastUpdated  time.Time                 `json:"last_updated"`
	Observations []models.Observation      `json:"observations,omitempty"`
}

// pathKey parses the canonical source key captured by the route wildcard.
func pathKey(r *http.Request) (models.SourceKey, error) {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	key, err := models.ParseSourceKey(raw)
	if err != nil {
		return models.SourceKey{}, err
	}
	if verr := validation.ValidateStruct(&key); verr != nil {
		return models.SourceKey{}, &validation.ObservationError{Key: raw, Fields: verr.Errors()}
	}
	return key, nil
}

// Source handles GET /v1/sources/{key}. Observations are included when the
// observations query parameter is true.
func (h *Handler) Source(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	key, err := pathKey(r)
	if err != nil {
		respondEngineError(w, r, start, err)
		return
	}

	rec, err := h.engine.Source(r.Context(), key)
	if err != nil {
		respondEngineError(w, r, start, err)
		return
	}

	view := sourceView{
		Key:         key.String(),
		Source:      rec.Key,
		Estimate:    rec.Estimate,
		Samples:     rec.Samples,
		Retained:    len(rec.Observations),
		Created:     rec.Created,
		LastUpdated: rec.LastUpdated,
	}
	if include, _ := strconv.ParseBool(r.URL.Query().Get("observations")); include {
		view.Observations = rec.Observations
	}
	respondSuccess(w, r, start, view)
}

// Blacklist handles POST /v1/blacklist.
func (h *Handler) Blacklist(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.BlacklistRequest
	if !decodeJSON(w, r, start, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidationError(w, r, start, verr)
		return
	}

	key, err := models.ParseSourceKey(req.Key)
	if err != nil {
		respondEngineError(w, r, start, err)
		return
	}
	if verr := validation.ValidateStruct(&key); verr != nil {
		respondValidationError(w, r, start, verr)
		return
	}

	if err := h.engine.Blacklist(r.Context(), key, req.Reason); err != nil {
		respondEngineError(w, r, start, err)
		return
	}

	entry, err := h.engine.BlacklistEntry(r.Context(), key)
	if err != nil {
		respondEngineError(w, r, start, err)
		return
	}
	respondSuccess(w, r, start, entry)
}

// BlacklistEntry handles GET /v1/blacklist/{key}.
func (h *Handler) BlacklistEntry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	key, err := pathKey(r)
	if err != nil {
		respondEngineError(w, r, start, err)
		return
	}

	entry, err := h.engine.BlacklistEntry(r.Context(), key)
	if err != nil {
		respondEngineError(w, r, start, err)
		return
	}
	respondSuccess(w, r, start, entry)
}
