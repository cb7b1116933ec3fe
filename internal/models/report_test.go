// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import (
	"testing"
	"time"
)

func TestReport_ItemsAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	r := Report{
		Lat:      45.6,
		Lon:      23.4,
		Accuracy: 10,
		Radio:    RadioGSM,
		Cell: []CellReport{
			{MCC: 123, MNC: 1, LAC: 2, CID: 1234, Signal: IntPtr(-60), TA: IntPtr(3), PSC: IntPtr(7)},
			{Radio: RadioLTE, MCC: 123, MNC: 1, LAC: 2, CID: 99},
		},
		Wifi: []WifiReport{{Key: "AB:CD:EF:12:34:56", Signal: IntPtr(-50)}},
	}

	items := r.ItemsAt(now)
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].Key != CellKey(RadioGSM, 123, 1, 2, 1234) {
		t.Errorf("items[0].Key = %v", items[0].Key)
	}
	if items[1].Key.Radio != RadioLTE {
		t.Errorf("cell radio should override report radio, got %q", items[1].Key.Radio)
	}
	if items[2].Key.String() != "wifi/abcdef123456" {
		t.Errorf("wifi key = %q", items[2].Key.String())
	}
	for i, it := range items {
		if !it.Observation.Time.Equal(now) {
			t.Errorf("items[%d] time = %v, want %v", i, it.Observation.Time, now)
		}
		if it.Observation.Lat != 45.6 || it.Observation.Lon != 23.4 {
			t.Errorf("items[%d] position = %v", i, it.Observation.Position())
		}
	}
	if *items[0].Observation.FlightTime != 3 || *items[0].PSC != 7 {
		t.Error("cell hints not carried over")
	}
	if items[1].Observation.Signal != nil {
		t.Error("cell without signal should carry nil signal")
	}
}

func TestSearchRequest_KeysDeduplicates(t *testing.T) {
	s := SearchRequest{
		Radio: RadioUMTS,
		Cell:  []CellReport{{MCC: 1, MNC: 2, LAC: 3, CID: 4}, {MCC: 1, MNC: 2, LAC: 3, CID: 4}},
		Wifi:  []WifiReport{{Key: "0123456789ab"}, {Key: "01:23:45:67:89:AB"}},
	}
	keys := s.Keys()
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2: %v", len(keys), keys)
	}
}

func TestCellReport_KeyRadioFallback(t *testing.T) {
	tests := []struct {
		name     string
		cell     CellReport
		fallback Radio
		want     Radio
	}{
		{name: "cell radio wins", cell: CellReport{Radio: RadioLTE}, fallback: RadioUMTS, want: RadioLTE},
		{name: "report radio", cell: CellReport{}, fallback: RadioUMTS, want: RadioUMTS},
		{name: "no radio anywhere", cell: CellReport{}, want: RadioGSM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cell.Key(tt.fallback).Radio; got != tt.want {
				t.Errorf("Key(%q).Radio = %q, want %q", tt.fallback, got, tt.want)
			}
		})
	}
}
