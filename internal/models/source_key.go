// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Radio is the cellular network standard of a cell source.
type Radio string

// Supported radio types. The numeric codes match the persisted mapping
// used by the relational store (gsm=0, cdma=1, umts=2, lte=3).
const (
	RadioGSM  Radio = "gsm"
	RadioCDMA Radio = "cdma"
	RadioUMTS Radio = "umts"
	RadioLTE  Radio = "lte"
)

// radioCodes maps radio types to their persisted small-integer codes.
var radioCodes = map[Radio]int{
	RadioGSM:  0,
	RadioCDMA: 1,
	RadioUMTS: 2,
	RadioLTE:  3,
}

// Code returns the persisted integer code for the radio, or -1 if unknown.
func (r Radio) Code() int {
	if c, ok := radioCodes[r]; ok {
		return c
	}
	return -1
}

// RadioFromCode is the inverse of Radio.Code.
func RadioFromCode(code int) (Radio, bool) {
	for r, c := range radioCodes {
		if c == code {
			return r, true
		}
	}
	return "", false
}

// Valid reports whether r is one of the supported radio types.
func (r Radio) Valid() bool {
	_, ok := radioCodes[r]
	return ok
}

// MaxMNC returns the upper bound of the mobile network code for the radio.
// CDMA carries a system id in the MNC slot, which has a wider range.
func (r Radio) MaxMNC() int {
	if r == RadioCDMA {
		return 32767
	}
	return 999
}

// SourceKind distinguishes cell towers from WiFi access points.
type SourceKind string

const (
	KindCell SourceKind = "cell"
	KindWifi SourceKind = "wifi"
)

// SourceKey identifies one physical transmitter. It is a comparable value
// type and can be used directly as a map key.
//
// For cells the identity is (Radio, MCC, MNC, LAC, CID). For WiFi it is the
// normalized MAC address. The canonical string form returned by String is
// the storage key used by every store backend.
type SourceKey struct {
	Kind  SourceKind `json:"kind" validate:"required,oneof=cell wifi"`
	Radio Radio      `json:"radio,omitempty" validate:"required_if=Kind cell,omitempty,oneof=gsm cdma umts lte"`
	MCC   int        `json:"mcc,omitempty" validate:"gte=0,lt=1000"`
	MNC   int        `json:"mnc,omitempty" validate:"gte=0,lte=32767"`
	LAC   int        `json:"lac,omitempty" validate:"gte=0"`
	CID   int        `json:"cid,omitempty" validate:"gte=0"`
	MAC   string     `json:"mac,omitempty" validate:"required_if=Kind wifi,omitempty,macaddr12"`
}

// CellKey builds a cell source key.
func CellKey(radio Radio, mcc, mnc, lac, cid int) SourceKey {
	return SourceKey{Kind: KindCell, Radio: radio, MCC: mcc, MNC: mnc, LAC: lac, CID: cid}
}

// WifiKey builds a WiFi source key from a MAC address in any common
// notation ("01:23:45:67:89:ab", "01-23-45-67-89-AB", "0123456789ab").
func WifiKey(mac string) SourceKey {
	return SourceKey{Kind: KindWifi, MAC: NormalizeMAC(mac)}
}

// NormalizeMAC strips separators and lowercases a MAC address.
func NormalizeMAC(mac string) string {
	var b strings.Builder
	b.Grow(12)
	for _, r := range strings.ToLower(mac) {
		if r == ':' || r == '-' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsCell reports whether the key identifies a cell tower.
func (k SourceKey) IsCell() bool {
	return k.Kind == KindCell
}

// String returns the canonical storage form of the key:
//
//	cell/<radio>/<mcc>/<mnc>/<lac>/<cid>
//	wifi/<mac>
func (k SourceKey) String() string {
	if k.Kind == KindWifi {
		return "wifi/" + k.MAC
	}
	return fmt.Sprintf("cell/%s/%d/%d/%d/%d", k.Radio, k.MCC, k.MNC, k.LAC, k.CID)
}

// ParseSourceKey parses the canonical form produced by SourceKey.String.
func ParseSourceKey(s string) (SourceKey, error) {
	parts := strings.Split(s, "/")
	switch {
	case len(parts) == 2 && parts[0] == string(KindWifi):
		if parts[1] == "" {
			return SourceKey{}, fmt.Errorf("parse source key %q: empty mac: %w", s, ErrInvalidObservation)
		}
		return WifiKey(parts[1]), nil
	case len(parts) == 6 && parts[0] == string(KindCell):
		radio := Radio(parts[1])
		if !radio.Valid() {
			return SourceKey{}, fmt.Errorf("parse source key %q: unknown radio: %w", s, ErrInvalidObservation)
		}
		nums := make([]int, 4)
		for i, p := range parts[2:] {
			n, err := strconv.Atoi(p)
			if err != nil {
				return SourceKey{}, fmt.Errorf("parse source key %q: %w", s, ErrInvalidObservation)
			}
			nums[i] = n
		}
		return CellKey(radio, nums[0], nums[1], nums[2], nums[3]), nil
	default:
		return SourceKey{}, fmt.Errorf("parse source key %q: %w", s, ErrInvalidObservation)
	}
}
