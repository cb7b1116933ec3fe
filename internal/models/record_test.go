// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import (
	"testing"
	"time"
)

var baseTime = time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

func obsAt(minutes int, lat float64) Observation {
	return Observation{Lat: lat, Lon: 23.4, Time: baseTime.Add(time.Duration(minutes) * time.Minute)}
}

func TestSourceRecord_AppendKeepsTimeOrder(t *testing.T) {
	rec := &SourceRecord{}
	rec.Append(obsAt(5, 1))
	rec.Append(obsAt(1, 2))
	rec.Append(obsAt(9, 3))
	rec.Append(obsAt(5, 4))

	wantLat := []float64{2, 1, 4, 3}
	if len(rec.Observations) != len(wantLat) {
		t.Fatalf("len = %d, want %d", len(rec.Observations), len(wantLat))
	}
	for i, lat := range wantLat {
		if rec.Observations[i].Lat != lat {
			t.Errorf("Observations[%d].Lat = %v, want %v", i, rec.Observations[i].Lat, lat)
		}
	}
}

func TestSourceRecord_CloneIsDeep(t *testing.T) {
	o := obsAt(0, 45.6)
	o.Signal = IntPtr(-70)
	rec := &SourceRecord{
		Key:          WifiKey("0123456789ab"),
		Observations: []Observation{o},
		Estimate:     &EstimatedLocation{Lat: 45.6, Lon: 23.4, MaxSignal: IntPtr(-70), ClusterSize: 1},
		Samples:      1,
	}

	c := rec.Clone()
	*c.Observations[0].Signal = -10
	c.Observations[0].Lat = 0
	*c.Estimate.MaxSignal = -10

	if *rec.Observations[0].Signal != -70 || rec.Observations[0].Lat != 45.6 {
		t.Error("clone shares observation state with original")
	}
	if *rec.Estimate.MaxSignal != -70 {
		t.Error("clone shares estimate state with original")
	}

	var nilRec *SourceRecord
	if nilRec.Clone() != nil {
		t.Error("Clone of nil record should be nil")
	}
}

func TestCompareObservations(t *testing.T) {
	a := obsAt(0, 1)
	b := obsAt(0, 1)
	if CompareObservations(a, b) != 0 {
		t.Fatal("identical observations should compare equal")
	}
	b.Signal = IntPtr(-80)
	if CompareObservations(a, b) >= 0 {
		t.Error("absent signal should sort first")
	}
	if CompareObservations(obsAt(1, 0), obsAt(0, 90)) <= 0 {
		t.Error("time should dominate the ordering")
	}
}
