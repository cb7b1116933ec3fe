// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package api

import (
	"context"
	"time"

	"github.com/tomtom215/signalmap/internal/models"
)

// Engine is the part of the estimation engine the handlers use.
type Engine interface {
	Locate(ctx context.Context, keys []models.SourceKey) (*models.Fix, error)
	Source(ctx context.Context, key models.SourceKey) (*models.SourceRecord, error)
	Blacklist(ctx context.Context, key models.SourceKey, reason string) error
	BlacklistEntry(ctx context.Context, key models.SourceKey) (*models.BlacklistEntry, error)
	Ready(ctx context.Context) error
}

// Submitter accepts observations for asynchronous ingest.
type Submitter interface {
	Submit(ctx context.Context, items []models.Item) error
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	engine    Engine
	submitter Submitter
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates the handler set.
func NewHandler(engine Engine, submitter Submitter) *Handler {
	return &Handler{
		engine:    engine,
		submitter: submitter,
		startTime: time.Now(),
		now:       time.Now,
	}
}
