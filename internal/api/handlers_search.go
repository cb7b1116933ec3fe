// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/signalmap/internal/models"
	"github.com/tomtom215/signalmap/internal/validation"
)

// maxSearchKeys bounds the number of sources one search may name.
const maxSearchKeys = 100

// Search handles POST /v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.SearchRequest
	if !decodeJSON(w, r, start, &req) {
		return
	}

	keys := req.Keys()
	if len(keys) == 0 {
		respondError(w, r, start, http.StatusBadRequest, ErrCodeValidation, errEmptyQuery.Error(), nil)
		return
	}
	if len(keys) > maxSearchKeys {
		respondError(w, r, start, http.StatusBadRequest, ErrCodeValidation, "query names too many sources", nil)
		return
	}
	for i := range keys {
		if verr := validation.ValidateStruct(&keys[i]); verr != nil {
			respondValidationError(w, r, start, verr)
			return
		}
	}

	fix, err := h.engine.Locate(r.Context(), keys)
	if err != nil {
		respondEngineError(w, r, start, err)
		return
	}
	if fix == nil {
		respondJSON(w, http.StatusOK, &models.APIResponse{
			Status:   StatusNotFound,
			Metadata: metadata(r, start),
		})
		return
	}
	respondSuccess(w, r, start, fix)
}
