// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package geo

import (
	"math"
)

// cellKey is a grid cell coordinate. X wraps around the antimeridian.
type cellKey struct {
	X, Y int
}

// Grid buckets indexed points into square cells whose side is the query
// radius expressed in degrees of latitude. A query visits only the cells
// that can hold a point within the radius, widening the longitude span with
// latitude so that no candidate is missed near the poles or across the
// antimeridian.
//
// Grid is not safe for concurrent use; the estimator builds one per call.
//
// Time Complexity:
//   - Insert: O(1)
//   - Neighbours: O(k) where k = points in the visited cells
type Grid struct {
	radius   float64 // meters
	cellDeg  float64
	lonCells int
	cells    map[cellKey][]int
	count    int
}

// NewGrid returns a grid for queries of the given radius in meters.
// radius must be positive.
func NewGrid(radius float64) *Grid {
	cellDeg := radius / metersPerDegreeLat
	if cellDeg > 180 {
		cellDeg = 180
	}
	return &Grid{
		radius:   radius,
		cellDeg:  cellDeg,
		lonCells: int(math.Ceil(360 / cellDeg)),
		cells:    make(map[cellKey][]int),
	}
}

func (g *Grid) key(lat, lon float64) cellKey {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	x := int(math.Floor(lon/g.cellDeg)) % g.lonCells
	y := int(math.Floor((lat + 90) / g.cellDeg))
	return cellKey{X: x, Y: y}
}

// Insert adds point id at lat/lon.
func (g *Grid) Insert(id int, lat, lon float64) {
	k := g.key(lat, lon)
	g.cells[k] = append(g.cells[k], id)
	g.count++
}

// Neighbours calls fn for every indexed point whose cell may lie within the
// grid radius of lat/lon. Callers still check the exact distance; the grid
// only prunes. Each candidate is reported once.
func (g *Grid) Neighbours(lat, lon float64, fn func(id int)) {
	center := g.key(lat, lon)
	ySpan := 2

	// Widest latitude a neighbour can have, plus one cell of slack.
	latBand := math.Min(90, math.Abs(lat)+float64(ySpan)*g.cellDeg)
	xSpan := g.lonSpan(latBand)

	if 2*xSpan+1 >= g.lonCells {
		// Every longitude is in reach; walk the occupied cells of the band.
		for k, ids := range g.cells {
			if k.Y < center.Y-ySpan || k.Y > center.Y+ySpan {
				continue
			}
			for _, id := range ids {
				fn(id)
			}
		}
		return
	}

	for y := center.Y - ySpan; y <= center.Y+ySpan; y++ {
		for dx := -xSpan; dx <= xSpan; dx++ {
			x := ((center.X+dx)%g.lonCells + g.lonCells) % g.lonCells
			for _, id := range g.cells[cellKey{X: x, Y: y}] {
				fn(id)
			}
		}
	}
}

// lonSpan returns how many cells east and west of the center a neighbour can
// sit when both points lie within latBand degrees of the equator.
//
// From the haversine formula, hav(d/R) >= cos(lat1)cos(lat2)hav(dLon), so
// sin(dLon/2) <= sin(d/2R) / cos(latBand).
func (g *Grid) lonSpan(latBand float64) int {
	c := math.Cos(latBand * math.Pi / 180)
	s := math.Sin(g.radius / (2 * EarthRadiusMeters))
	if c <= 0 || s/c >= 1 {
		return g.lonCells
	}
	dLonDeg := 2 * math.Asin(s/c) * 180 / math.Pi
	return int(math.Ceil(dLonDeg/g.cellDeg)) + 1
}

// Len returns the number of indexed points.
func (g *Grid) Len() int {
	return g.count
}
