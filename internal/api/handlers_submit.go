// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/models"
	"github.com/tomtom215/signalmap/internal/validation"
)

// RejectedHeader carries the number of observations dropped as invalid by a
// submit call.
const RejectedHeader = "X-Signalmap-Rejected"

// Submit handles POST /v1/submit.
//
// Every report is flattened into one observation per visible source.
// Invalid observations are dropped and counted in RejectedHeader; the rest
// are buffered for ingest and the call answers 204 without waiting for the
// store. A submission with no valid observation answers 400.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.SubmitRequest
	if !decodeJSON(w, r, start, &req) {
		return
	}

	now := h.now()
	var (
		items    []models.Item
		rejected int
		firstErr error
	)
	for _, report := range req.Items {
		for _, item := range report.ItemsAt(now) {
			if err := validation.ValidateItem(item); err != nil {
				rejected++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			items = append(items, item)
		}
	}

	if len(items) == 0 {
		msg := "submission contains no observations"
		if firstErr != nil {
			msg = firstErr.Error()
		}
		respondError(w, r, start, http.StatusBadRequest, ErrCodeValidation, msg, nil)
		return
	}

	if err := h.submitter.Submit(r.Context(), items); err != nil {
		respondEngineError(w, r, start, err)
		return
	}

	if rejected > 0 {
		logging.Ctx(r.Context()).Debug().
			Int("accepted", len(items)).
			Int("rejected", rejected).
			Err(firstErr).
			Msg("Submission partially rejected")
	}
	w.Header().Set(RejectedHeader, strconv.Itoa(rejected))
	w.WriteHeader(http.StatusNoContent)
}
