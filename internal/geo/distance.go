// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package geo provides great-circle distance and a spatial hash grid used to
// limit pairwise distance checks during clustering.
package geo

import (
	"math"

	"github.com/tomtom215/signalmap/internal/models"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// metersPerDegreeLat is the length of one degree of latitude on the sphere.
const metersPerDegreeLat = EarthRadiusMeters * math.Pi / 180

// Distance returns the haversine distance in meters between two points
// given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if a > 1 {
		a = 1
	}
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistancePos is Distance over models.Position values.
func DistancePos(a, b models.Position) float64 {
	return Distance(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Centroid returns the arithmetic mean of the given positions. It returns
// the zero Position for an empty slice.
func Centroid(points []models.Position) models.Position {
	if len(points) == 0 {
		return models.Position{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return models.Position{Lat: lat / n, Lon: lon / n}
}
