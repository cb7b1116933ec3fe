// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package estimator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tomtom215/signalmap/internal/geo"
	"github.com/tomtom215/signalmap/internal/models"
)

var t0 = time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

// approx compares coordinates and radii to well below a millimeter.
var approx = cmpopts.EquateApprox(0, 1e-9)

func obs(lat, lon float64, minute int, signal *int) models.Observation {
	return models.Observation{
		Lat:    lat,
		Lon:    lon,
		Signal: signal,
		Time:   t0.Add(time.Duration(minute) * time.Minute),
	}
}

func TestEstimate_Empty(t *testing.T) {
	if got := New(2000).Estimate(nil); got != nil {
		t.Fatalf("Estimate(nil) = %+v, want nil", got)
	}
}

func TestEstimate_SinglePoint(t *testing.T) {
	got := New(2000).Estimate([]models.Observation{obs(45.6, 23.4, 0, nil)})
	want := &models.EstimatedLocation{Lat: 45.6, Lon: 23.4, Radius: 0, ClusterSize: 1}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Estimate() mismatch (-want +got):\n%s", diff)
	}
}

func TestEstimate_LargestClusterExcludesOutlier(t *testing.T) {
	input := []models.Observation{
		obs(45.600, 23.400, 0, models.IntPtr(-60)),
		obs(45.601, 23.401, 1, models.IntPtr(-70)),
		obs(45.602, 23.402, 2, models.IntPtr(-65)),
		obs(46.600, 24.400, 3, models.IntPtr(-10)),
	}
	input[0].FlightTime = models.IntPtr(2)
	input[3].FlightTime = models.IntPtr(50)

	got := New(2000).Estimate(input)

	centroid := geo.Centroid([]models.Position{input[0].Position(), input[1].Position(), input[2].Position()})
	var radius float64
	for _, o := range input[:3] {
		radius = max(radius, geo.DistancePos(centroid, o.Position()))
	}
	want := &models.EstimatedLocation{
		Lat:           centroid.Lat,
		Lon:           centroid.Lon,
		Radius:        radius,
		MinSignal:     models.IntPtr(-70),
		MaxSignal:     models.IntPtr(-60),
		MaxFlightTime: models.IntPtr(2),
		ClusterSize:   3,
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Estimate() mismatch (-want +got):\n%s", diff)
	}
}

func TestEstimate_TransitiveChain(t *testing.T) {
	// Each hop is ~1.1km, so the ends are ~3.3km apart but still one cluster.
	input := []models.Observation{
		obs(45.60, 23.4, 0, nil),
		obs(45.61, 23.4, 1, nil),
		obs(45.62, 23.4, 2, nil),
		obs(45.63, 23.4, 3, nil),
		obs(10.0, 10.0, 4, nil),
		obs(10.0, 10.001, 5, nil),
	}
	got := New(2000).Estimate(input)
	if got.ClusterSize != 4 {
		t.Fatalf("ClusterSize = %d, want 4", got.ClusterSize)
	}
	if got.Lat < 45.614 || got.Lat > 45.616 {
		t.Errorf("Lat = %f, want ~45.615", got.Lat)
	}
}

func TestEstimate_TieBreaks(t *testing.T) {
	t.Run("newest member wins equal sizes", func(t *testing.T) {
		input := []models.Observation{
			obs(10, 10, 0, nil),
			obs(10, 10.001, 1, nil),
			obs(20, 20, 2, nil),
			obs(20, 20.001, 3, nil),
		}
		got := New(2000).Estimate(input)
		if got.ClusterSize != 2 || got.Lat != 20 {
			t.Errorf("got %+v, want the cluster at lat 20", got)
		}
	})

	t.Run("equal newest falls back to earliest member", func(t *testing.T) {
		input := []models.Observation{
			obs(20, 20, 5, nil),
			obs(20, 20.001, 9, nil),
			obs(10, 10, 1, nil),
			obs(10, 10.001, 9, nil),
		}
		got := New(2000).Estimate(input)
		if got.Lat != 10 {
			t.Errorf("got %+v, want the cluster whose earliest member is oldest", got)
		}
	})
}

func TestEstimate_RadiusIsStrict(t *testing.T) {
	a := obs(45.6, 23.4, 0, nil)
	b := obs(45.6, 23.41, 1, nil)
	d := geo.DistancePos(a.Position(), b.Position())

	if got := New(d).Estimate([]models.Observation{a, b}); got.ClusterSize != 1 {
		t.Errorf("points exactly radius apart should not link, ClusterSize = %d", got.ClusterSize)
	}
	if got := New(d + 0.001).Estimate([]models.Observation{a, b}); got.ClusterSize != 2 {
		t.Errorf("points inside radius should link, ClusterSize = %d", got.ClusterSize)
	}
}

func TestEstimate_DeterministicAndOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	input := make([]models.Observation, 60)
	for i := range input {
		lat := 45.6 + rng.Float64()*0.05
		lon := 23.4 + rng.Float64()*0.05
		if i%3 == 0 {
			lat += 1
		}
		input[i] = obs(lat, lon, rng.Intn(30), models.IntPtr(-100+rng.Intn(60)))
	}

	e := New(1500)
	first := e.Estimate(input)
	if diff := cmp.Diff(first, e.Estimate(input)); diff != "" {
		t.Fatalf("Estimate not idempotent:\n%s", diff)
	}

	for round := 0; round < 5; round++ {
		shuffled := append([]models.Observation(nil), input...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if diff := cmp.Diff(first, e.Estimate(shuffled)); diff != "" {
			t.Fatalf("Estimate depends on input order (round %d):\n%s", round, diff)
		}
	}
}

func TestEstimate_DoesNotMutateInput(t *testing.T) {
	input := []models.Observation{obs(2, 2, 5, nil), obs(1, 1, 0, nil)}
	New(2000).Estimate(input)
	if input[0].Lat != 2 || input[1].Lat != 1 {
		t.Error("Estimate reordered its input")
	}
}

func TestClusters(t *testing.T) {
	input := []models.Observation{
		obs(20, 20, 3, nil),
		obs(10, 10, 0, nil),
		obs(10, 10.001, 1, nil),
	}
	got := New(2000).Clusters(input)
	if len(got) != 2 {
		t.Fatalf("len(Clusters) = %d, want 2", len(got))
	}
	if len(got[0]) != 2 || got[0][0].Lat != 10 {
		t.Errorf("first cluster = %+v", got[0])
	}
}
