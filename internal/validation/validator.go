// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared by the process. It carries the
// signalmap-specific rules on top of the struct tags declared in models:
//
//   - macaddr12: a WiFi key is exactly 12 lowercase hex digits
//   - SourceKey struct rule: the MNC upper bound depends on the radio
//     (999 for gsm/umts/lte, 32767 for cdma)
//   - Observation struct rule: accuracy and altitude values must be finite
//
// The engine calls ValidateItem per ingested item; the HTTP layer calls
// ValidateStruct on request bodies and converts failures with ToAPIError.
package validation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/signalmap/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	macPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)
)

// ValidationError is a single failed field.
type ValidationError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field returns the struct field name that failed validation.
func (e *ValidationError) Field() string { return e.field }

// Tag returns the failed validation tag.
func (e *ValidationError) Tag() string { return e.tag }

// Param returns the tag parameter, e.g. "90" for "lte=90".
func (e *ValidationError) Param() string { return e.param }

// Value returns the offending value.
func (e *ValidationError) Value() interface{} { return e.value }

// Error returns a human-readable message.
func (e *ValidationError) Error() string { return e.message }

// RequestValidationError collects every failed field of one struct.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the individual field failures.
func (ve *RequestValidationError) Errors() []ValidationError {
	return ve.errors
}

// Error joins the field messages.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(ve.errors))
	for i := range ve.errors {
		messages[i] = ve.errors[i].Error()
	}
	return strings.Join(messages, "; ")
}

// ToAPIError converts the failure to the API error envelope.
func (ve *RequestValidationError) ToAPIError() *models.APIError {
	if len(ve.errors) == 1 {
		e := ve.errors[0]
		return &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: e.message,
			Details: map[string]interface{}{"field": e.field, "tag": e.tag},
		}
	}
	fields := make([]map[string]interface{}, len(ve.errors))
	for i, e := range ve.errors {
		fields[i] = map[string]interface{}{"field": e.field, "tag": e.tag, "message": e.message}
	}
	return &models.APIError{
		Code:    "VALIDATION_ERROR",
		Message: ve.Error(),
		Details: map[string]interface{}{"fields": fields},
	}
}

// ObservationError reports an invalid ingest item. It unwraps to
// models.ErrInvalidObservation.
type ObservationError struct {
	Key    string
	Fields []ValidationError
}

// Error implements error.
func (e *ObservationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i := range e.Fields {
		msgs[i] = e.Fields[i].Error()
	}
	return fmt.Sprintf("%s: %s: %s", models.ErrInvalidObservation, e.Key, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is match models.ErrInvalidObservation.
func (e *ObservationError) Unwrap() error {
	return models.ErrInvalidObservation
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("macaddr12", func(fl validator.FieldLevel) bool {
			return macPattern.MatchString(fl.Field().String())
		})
		validate.RegisterStructValidation(sourceKeyRules, models.SourceKey{})
		validate.RegisterStructValidation(observationRules, models.Observation{})
	})
	return validate
}

func sourceKeyRules(sl validator.StructLevel) {
	k, ok := sl.Current().Interface().(models.SourceKey)
	if !ok || k.Kind != models.KindCell || !k.Radio.Valid() {
		return
	}
	if k.MNC > k.Radio.MaxMNC() {
		sl.ReportError(k.MNC, "MNC", "MNC", "mnc_range", fmt.Sprint(k.Radio.MaxMNC()))
	}
}

func observationRules(sl validator.StructLevel) {
	o, ok := sl.Current().Interface().(models.Observation)
	if !ok {
		return
	}
	if math.IsInf(o.Accuracy, 0) {
		sl.ReportError(o.Accuracy, "Accuracy", "Accuracy", "finite", "")
	}
	if o.Altitude != nil && (math.IsNaN(*o.Altitude) || math.IsInf(*o.Altitude, 0)) {
		sl.ReportError(*o.Altitude, "Altitude", "Altitude", "finite", "")
	}
	if o.AltitudeAccuracy != nil && math.IsInf(*o.AltitudeAccuracy, 0) {
		sl.ReportError(*o.AltitudeAccuracy, "AltitudeAccuracy", "AltitudeAccuracy", "finite", "")
	}
}

// ValidateStruct validates s and returns nil or the collected field failures.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{errors: []ValidationError{{field: "unknown", tag: "unknown", message: err.Error()}}}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			value:   fe.Value(),
			message: translateError(fe),
		}
	}
	return &RequestValidationError{errors: fieldErrors}
}

// ValidateItem checks one ingest item. The returned error, if any, is an
// *ObservationError.
func ValidateItem(item models.Item) error {
	if verr := ValidateStruct(&item); verr != nil {
		return &ObservationError{Key: item.Key.String(), Fields: verr.Errors()}
	}
	return nil
}

var errorMessageTemplates = map[string]string{
	"required":    "%s is required",
	"required_if": "%s is required",
	"macaddr12":   "%s must be 12 lowercase hex digits",
	"finite":      "%s must be a finite number",
}

var errorMessageWithParam = map[string]string{
	"oneof":     "%s must be one of: %s",
	"gte":       "%s must be greater than or equal to %s",
	"lte":       "%s must be less than or equal to %s",
	"lt":        "%s must be less than %s",
	"max":       "%s must be at most %s",
	"mnc_range": "%s must be at most %s for this radio",
}

func translateError(fe validator.FieldError) string {
	if tmpl, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field())
	}
	if tmpl, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
