// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Timeout bounds the handling of one /v1 request. Zero disables it.
	Timeout time.Duration

	// CORSOrigins lists browser origins allowed to call /v1. Empty allows
	// none.
	CORSOrigins []string
}

// NewRouter configures all HTTP routes on a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mw := NewChiMiddleware(cfg)
	r := chi.NewRouter()

	// Global Middleware Stack
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestMetrics())

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.CORS())
		if cfg.Timeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.Timeout))
		}
		r.Use(chimiddleware.AllowContentType("application/json"))
		r.Use(chimiddleware.Compress(5, "application/json"))

		r.Post("/submit", h.Submit)
		r.Post("/search", h.Search)
		r.Post("/blacklist", h.Blacklist)
		r.Get("/blacklist/*", h.BlacklistEntry)
		r.Get("/sources/*", h.Source)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
