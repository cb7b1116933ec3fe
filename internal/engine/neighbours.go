// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/tomtom215/signalmap/internal/models"
)

// sighting identifies the device report an item was flattened from: all
// items of one report share its position and timestamp.
type sighting struct {
	time     time.Time
	lat, lon float64
	accuracy float64
}

// Neighbours groups the distinct keys of items seen in the same device
// report and returns, for each key, the other keys of its group sorted by
// canonical form. Keys seen alone are omitted. Nothing is persisted.
func Neighbours(items []models.Item) map[models.SourceKey][]models.SourceKey {
	groups := make(map[sighting][]models.SourceKey)
	order := make([]sighting, 0)
	for _, it := range items {
		s := sighting{
			time:     it.Observation.Time.UTC(),
			lat:      it.Observation.Lat,
			lon:      it.Observation.Lon,
			accuracy: it.Observation.Accuracy,
		}
		if _, ok := groups[s]; !ok {
			order = append(order, s)
		}
		if !slices.Contains(groups[s], it.Key) {
			groups[s] = append(groups[s], it.Key)
		}
	}

	out := make(map[models.SourceKey][]models.SourceKey)
	for _, s := range order {
		keys := groups[s]
		if len(keys) < 2 {
			continue
		}
		for _, k := range keys {
			for _, other := range keys {
				if other != k && !slices.Contains(out[k], other) {
					out[k] = append(out[k], other)
				}
			}
		}
	}
	for k := range out {
		slices.SortFunc(out[k], func(a, b models.SourceKey) int {
			return strings.Compare(a.String(), b.String())
		})
	}
	return out
}
