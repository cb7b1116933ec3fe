// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package estimator computes the estimated location of a signal source from
// its retained observations.
//
// Observations are grouped by connectivity: two observations are linked when
// their great-circle distance is strictly below the proximity radius, and a
// cluster is a connected component of that relation. The largest cluster
// wins. Ties go to the cluster holding the most recent observation, then to
// the cluster whose earliest member sorts first under
// models.CompareObservations.
//
// The estimate is the arithmetic mean of the winning cluster's positions.
// Its radius is the largest distance from that centroid to a member, and the
// signal and flight-time bounds are taken from the winning cluster only.
//
// Estimate sorts its input into canonical order before clustering, so the
// result does not depend on the order observations were stored or supplied.
package estimator

import (
	"slices"
	"time"

	"github.com/tomtom215/signalmap/internal/geo"
	"github.com/tomtom215/signalmap/internal/models"
)

// DefaultProximityRadius is the clustering distance in meters.
const DefaultProximityRadius = 2000.0

// Estimator is stateless apart from its radius and safe for concurrent use.
type Estimator struct {
	radius float64
}

// New returns an estimator that links observations closer than radius meters.
// A non-positive radius falls back to DefaultProximityRadius.
func New(radius float64) *Estimator {
	if radius <= 0 {
		radius = DefaultProximityRadius
	}
	return &Estimator{radius: radius}
}

// Radius returns the proximity radius in meters.
func (e *Estimator) Radius() float64 {
	return e.radius
}

// cluster is one connected component, as indices into the sorted input.
type cluster struct {
	members []int
	newest  time.Time
}

// Estimate returns the location derived from obs, or nil when obs is empty.
// obs is not modified.
func (e *Estimator) Estimate(obs []models.Observation) *models.EstimatedLocation {
	if len(obs) == 0 {
		return nil
	}

	sorted := slices.Clone(obs)
	slices.SortStableFunc(sorted, models.CompareObservations)

	best := e.largestCluster(sorted)
	return summarize(sorted, best.members)
}

// Clusters returns the clusters of obs in canonical order of their earliest
// member. Each cluster lists its members in canonical order.
func (e *Estimator) Clusters(obs []models.Observation) [][]models.Observation {
	sorted := slices.Clone(obs)
	slices.SortStableFunc(sorted, models.CompareObservations)

	out := make([][]models.Observation, 0)
	for _, c := range e.partition(sorted) {
		group := make([]models.Observation, len(c.members))
		for i, idx := range c.members {
			group[i] = sorted[idx]
		}
		out = append(out, group)
	}
	return out
}

func (e *Estimator) largestCluster(sorted []models.Observation) cluster {
	clusters := e.partition(sorted)
	best := clusters[0]
	for _, c := range clusters[1:] {
		switch {
		case len(c.members) > len(best.members):
			best = c
		case len(c.members) == len(best.members) && c.newest.After(best.newest):
			best = c
		}
		// Remaining ties keep the earlier cluster, whose first member sorts first.
	}
	return best
}

// partition links observations with a union-find over grid candidates and
// returns the components ordered by their smallest member index.
func (e *Estimator) partition(sorted []models.Observation) []cluster {
	uf := newUnionFind(len(sorted))

	grid := geo.NewGrid(e.radius)
	for i, o := range sorted {
		grid.Insert(i, o.Lat, o.Lon)
	}
	for i, o := range sorted {
		grid.Neighbours(o.Lat, o.Lon, func(j int) {
			if j <= i {
				return
			}
			if geo.Distance(o.Lat, o.Lon, sorted[j].Lat, sorted[j].Lon) < e.radius {
				uf.union(i, j)
			}
		})
	}

	byRoot := make(map[int]int, len(sorted))
	var clusters []cluster
	for i, o := range sorted {
		root := uf.find(i)
		pos, ok := byRoot[root]
		if !ok {
			pos = len(clusters)
			byRoot[root] = pos
			clusters = append(clusters, cluster{})
		}
		c := &clusters[pos]
		c.members = append(c.members, i)
		if o.Time.After(c.newest) {
			c.newest = o.Time
		}
	}
	return clusters
}

func summarize(sorted []models.Observation, members []int) *models.EstimatedLocation {
	points := make([]models.Position, len(members))
	for i, idx := range members {
		points[i] = sorted[idx].Position()
	}
	center := geo.Centroid(points)

	est := &models.EstimatedLocation{
		Lat:         center.Lat,
		Lon:         center.Lon,
		ClusterSize: len(members),
	}

	for _, idx := range members {
		o := sorted[idx]
		if d := geo.DistancePos(center, o.Position()); d > est.Radius {
			est.Radius = d
		}
		if o.Signal != nil {
			s := *o.Signal
			if est.MinSignal == nil || s < *est.MinSignal {
				est.MinSignal = models.IntPtr(s)
			}
			if est.MaxSignal == nil || s > *est.MaxSignal {
				est.MaxSignal = models.IntPtr(s)
			}
		}
		if o.FlightTime != nil {
			if est.MaxFlightTime == nil || *o.FlightTime > *est.MaxFlightTime {
				est.MaxFlightTime = models.IntPtr(*o.FlightTime)
			}
		}
	}
	return est
}
