// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/models"
	"github.com/tomtom215/signalmap/internal/retention"
	"github.com/tomtom215/signalmap/internal/validation"
)

// Validate checks struct tags first, then the rules that span fields.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateEngine(); err != nil {
		return err
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateEngine checks the retention floor and the flush budget.
func (c *Config) validateEngine() error {
	if c.Engine.MaxRetained < retention.MinRetained {
		return fmt.Errorf("MAX_RETAINED must be at least %d, got %d", retention.MinRetained, c.Engine.MaxRetained)
	}
	if c.Engine.FlushTimeout < c.Engine.BatchAge {
		return fmt.Errorf("FLUSH_TIMEOUT (%s) must not be shorter than BATCH_AGE (%s)", c.Engine.FlushTimeout, c.Engine.BatchAge)
	}
	return nil
}

// validateStore checks that every seeded blacklist entry parses as a source key.
func (c *Config) validateStore() error {
	var errs []error
	for _, raw := range c.Store.Blacklist {
		if _, err := models.ParseSourceKey(raw); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("STORE_BLACKLIST is invalid: %w", errors.Join(errs...))
	}
	return nil
}

// validateLogging validates the log level.
func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}
