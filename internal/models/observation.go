// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import (
	"cmp"
	"time"
)

// Observation is one device-reported sighting of a signal source. The
// position is the device's position at sighting time.
type Observation struct {
	Lat              float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lon              float64   `json:"lon" validate:"gte=-180,lte=180"`
	Accuracy         float64   `json:"accuracy" validate:"gte=0"`
	Altitude         *float64  `json:"altitude,omitempty"`
	AltitudeAccuracy *float64  `json:"altitude_accuracy,omitempty" validate:"omitempty,gte=0"`
	Signal           *int      `json:"signal,omitempty"`
	FlightTime       *int      `json:"flight_time,omitempty" validate:"omitempty,gte=0"`
	Time             time.Time `json:"time" validate:"required"`
}

// Position returns the sighting position.
func (o Observation) Position() Position {
	return Position{Lat: o.Lat, Lon: o.Lon}
}

// Clone returns a copy that shares no pointers with o.
func (o Observation) Clone() Observation {
	c := o
	c.Altitude = cloneFloat(o.Altitude)
	c.AltitudeAccuracy = cloneFloat(o.AltitudeAccuracy)
	c.Signal = cloneInt(o.Signal)
	c.FlightTime = cloneInt(o.FlightTime)
	return c
}

// CompareObservations orders observations by time, then lat, lon, accuracy,
// signal and flight time. Absent optional values sort before present ones.
// It is the canonical order used for retention and cluster tie-breaks.
func CompareObservations(a, b Observation) int {
	if c := a.Time.Compare(b.Time); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Lat, b.Lat); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Lon, b.Lon); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Accuracy, b.Accuracy); c != 0 {
		return c
	}
	if c := compareOptional(a.Signal, b.Signal); c != 0 {
		return c
	}
	return compareOptional(a.FlightTime, b.FlightTime)
}

func compareOptional(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmp.Compare(*a, *b)
	}
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }
