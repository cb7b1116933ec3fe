// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import "time"

// CellReport is one cell tower seen by a device.
type CellReport struct {
	Radio  Radio `json:"radio,omitempty"`
	MCC    int   `json:"mcc"`
	MNC    int   `json:"mnc"`
	LAC    int   `json:"lac"`
	CID    int   `json:"cid"`
	PSC    *int  `json:"psc,omitempty"`
	Signal *int  `json:"signal,omitempty"`
	TA     *int  `json:"ta,omitempty"`
}

// DefaultRadio is assumed for cells when neither the cell nor its report
// names a radio.
const DefaultRadio = RadioGSM

// Key returns the source key of the cell. An empty radio falls back to the
// report-level radio and then to DefaultRadio.
func (c CellReport) Key(fallback Radio) SourceKey {
	radio := c.Radio
	if radio == "" {
		radio = fallback
	}
	if radio == "" {
		radio = DefaultRadio
	}
	return CellKey(radio, c.MCC, c.MNC, c.LAC, c.CID)
}

// WifiReport is one access point seen by a device.
type WifiReport struct {
	Key    string `json:"key"`
	Signal *int   `json:"signal,omitempty"`
}

// Report is a single device submission.
type Report struct {
	Lat              float64      `json:"lat"`
	Lon              float64      `json:"lon"`
	Accuracy         float64      `json:"accuracy"`
	Altitude         *float64     `json:"altitude,omitempty"`
	AltitudeAccuracy *float64     `json:"altitude_accuracy,omitempty"`
	Time             time.Time    `json:"time,omitempty"`
	Radio            Radio        `json:"radio,omitempty"`
	Cell             []CellReport `json:"cell,omitempty"`
	Wifi             []WifiReport `json:"wifi,omitempty"`
}

// SubmitRequest is the body of a submit call.
type SubmitRequest struct {
	Items []Report `json:"items"`
}

// Items flattens the report into engine items. Reports without a timestamp
// are stamped with the current time.
func (r Report) Items() []Item {
	return r.ItemsAt(time.Now())
}

// ItemsAt flattens the report, stamping untimed reports with now.
func (r Report) ItemsAt(now time.Time) []Item {
	ts := r.Time
	if ts.IsZero() {
		ts = now
	}
	ts = ts.UTC()

	base := Observation{
		Lat:              r.Lat,
		Lon:              r.Lon,
		Accuracy:         r.Accuracy,
		Altitude:         r.Altitude,
		AltitudeAccuracy: r.AltitudeAccuracy,
		Time:             ts,
	}

	items := make([]Item, 0, len(r.Cell)+len(r.Wifi))
	for _, c := range r.Cell {
		obs := base.Clone()
		obs.Signal = cloneInt(c.Signal)
		obs.FlightTime = cloneInt(c.TA)
		items = append(items, Item{Key: c.Key(r.Radio), Observation: obs, PSC: cloneInt(c.PSC)})
	}
	for _, w := range r.Wifi {
		obs := base.Clone()
		obs.Signal = cloneInt(w.Signal)
		items = append(items, Item{Key: WifiKey(w.Key), Observation: obs})
	}
	return items
}

// SearchRequest is the body of a search call.
type SearchRequest struct {
	Radio Radio        `json:"radio,omitempty"`
	Cell  []CellReport `json:"cell,omitempty"`
	Wifi  []WifiReport `json:"wifi,omitempty"`
}

// Keys returns the distinct source keys named by the query, cells first.
func (s SearchRequest) Keys() []SourceKey {
	seen := make(map[SourceKey]struct{}, len(s.Cell)+len(s.Wifi))
	keys := make([]SourceKey, 0, len(s.Cell)+len(s.Wifi))
	add := func(k SourceKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, c := range s.Cell {
		add(c.Key(s.Radio))
	}
	for _, w := range s.Wifi {
		add(WifiKey(w.Key))
	}
	return keys
}

// BlacklistRequest is the body of a blacklist call.
type BlacklistRequest struct {
	Key    string `json:"key" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=256"`
}
