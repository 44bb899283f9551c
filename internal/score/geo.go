// Package score implements the site suitability scoring engine: per-POI
// weight normalization, radius-bounded spatial aggregation, composite venue
// scoring, and online feature estimation for arbitrary query points.
package score

import "math"

// Points is a column-oriented point set.
type Points struct {
	Lat []float64
	Lng []float64
}

func (p Points) Len() int { return len(p.Lat) }

// HaversineMeters returns the great-circle distance in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Aggregate is the radius-bounded summary of one point against a POI set.
// MinDistM is NaN when nothing falls inside the radius.
type Aggregate struct {
	Count     int
	WeightSum float64
	MinDistM  float64
}

// AggregateRadius counts POIs within radiusM of (lat, lon), sums their
// weights, and tracks the minimum distance. Non-finite coordinates on either
// side are skipped rather than raised; a coordinate-less table therefore
// yields a zero/NaN aggregate, never an error. A nil weights slice sums
// nothing but still counts.
func AggregateRadius(lat, lon float64, pts Points, weights []float64, radiusM float64) Aggregate {
	agg := Aggregate{MinDistM: math.NaN()}
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return agg
	}
	for i := 0; i < pts.Len(); i++ {
		plat, plng := pts.Lat[i], pts.Lng[i]
		if math.IsNaN(plat) || math.IsNaN(plng) {
			continue
		}
		d := HaversineMeters(lat, lon, plat, plng)
		if d > radiusM {
			continue
		}
		agg.Count++
		if weights != nil && i < len(weights) && !math.IsNaN(weights[i]) {
			agg.WeightSum += weights[i]
		}
		if math.IsNaN(agg.MinDistM) || d < agg.MinDistM {
			agg.MinDistM = d
		}
	}
	return agg
}
