// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package validation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tomtom215/signalmap/internal/models"
)

func validObs() models.Observation {
	return models.Observation{
		Lat:      45.6,
		Lon:      23.4,
		Accuracy: 10,
		Time:     time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidateItem(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(it *models.Item)
		wantErr bool
		wantTag string
	}{
		{name: "valid cell", mutate: func(it *models.Item) {}},
		{name: "valid wifi", mutate: func(it *models.Item) { it.Key = models.WifiKey("01:23:45:67:89:ab") }},
		{name: "valid cdma wide mnc", mutate: func(it *models.Item) { it.Key = models.CellKey(models.RadioCDMA, 310, 32000, 1, 1) }},
		{name: "gsm mnc too large", mutate: func(it *models.Item) { it.Key.MNC = 1000 }, wantErr: true, wantTag: "mnc_range"},
		{name: "cdma mnc too large", mutate: func(it *models.Item) { it.Key = models.CellKey(models.RadioCDMA, 310, 40000, 1, 1) }, wantErr: true, wantTag: "lte"},
		{name: "mcc out of range", mutate: func(it *models.Item) { it.Key.MCC = 1000 }, wantErr: true, wantTag: "lt"},
		{name: "negative cid", mutate: func(it *models.Item) { it.Key.CID = -1 }, wantErr: true, wantTag: "gte"},
		{name: "unknown radio", mutate: func(it *models.Item) { it.Key.Radio = "nr" }, wantErr: true, wantTag: "oneof"},
		{name: "missing radio", mutate: func(it *models.Item) { it.Key.Radio = "" }, wantErr: true, wantTag: "required_if"},
		{name: "short mac", mutate: func(it *models.Item) { it.Key = models.WifiKey("0123") }, wantErr: true, wantTag: "macaddr12"},
		{name: "non-hex mac", mutate: func(it *models.Item) { it.Key = models.WifiKey("zz23456789ab") }, wantErr: true, wantTag: "macaddr12"},
		{name: "missing kind", mutate: func(it *models.Item) { it.Key = models.SourceKey{} }, wantErr: true, wantTag: "required"},
		{name: "latitude too high", mutate: func(it *models.Item) { it.Observation.Lat = 91 }, wantErr: true, wantTag: "lte"},
		{name: "longitude NaN", mutate: func(it *models.Item) { it.Observation.Lon = math.NaN() }, wantErr: true},
		{name: "negative accuracy", mutate: func(it *models.Item) { it.Observation.Accuracy = -1 }, wantErr: true, wantTag: "gte"},
		{name: "infinite accuracy", mutate: func(it *models.Item) { it.Observation.Accuracy = math.Inf(1) }, wantErr: true, wantTag: "finite"},
		{name: "zero time", mutate: func(it *models.Item) { it.Observation.Time = time.Time{} }, wantErr: true, wantTag: "required"},
		{name: "psc out of range", mutate: func(it *models.Item) { it.PSC = models.IntPtr(512) }, wantErr: true, wantTag: "lte"},
		{name: "psc in range", mutate: func(it *models.Item) { it.PSC = models.IntPtr(511) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := models.Item{
				Key:         models.CellKey(models.RadioGSM, 262, 2, 1234, 56789),
				Observation: validObs(),
			}
			tt.mutate(&item)

			err := ValidateItem(item)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, models.ErrInvalidObservation) {
				t.Fatalf("error = %v, want ErrInvalidObservation", err)
			}
			if tt.wantTag == "" {
				return
			}
			var oe *ObservationError
			if !errors.As(err, &oe) {
				t.Fatalf("error is %T, want *ObservationError", err)
			}
			found := false
			for _, f := range oe.Fields {
				if f.Tag() == tt.wantTag {
					found = true
				}
			}
			if !found {
				t.Errorf("no field failed with tag %q: %v", tt.wantTag, err)
			}
		})
	}
}

func TestValidateStruct_ToAPIError(t *testing.T) {
	req := models.BlacklistRequest{}
	verr := ValidateStruct(&req)
	if verr == nil {
		t.Fatal("expected validation error for empty key")
	}
	apiErr := verr.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", apiErr.Code)
	}
	if apiErr.Details["field"] != "Key" {
		t.Errorf("Details = %v", apiErr.Details)
	}
	if ValidateStruct(&models.BlacklistRequest{Key: "wifi/0123456789ab"}) != nil {
		t.Error("valid request rejected")
	}
}
