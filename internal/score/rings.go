package score

import (
	"math"
	"sort"

	"sitescore/internal/model"
)

// LookupParams tunes the POI lookup weighting.
type LookupParams struct {
	// DecayM is the exponential decay length for the lookup weight.
	DecayM float64
	// Limit caps entries per category (0 = no cap).
	Limit int
}

const defaultLookupDecayM = 500.0

// lookupWeight blends a linear radius falloff with exponential decay, the
// weighting used by the interactive POI lookup.
func lookupWeight(distM, radiusM, decayM float64) float64 {
	if radiusM <= 0 {
		return 0
	}
	if decayM <= 0 {
		decayM = defaultLookupDecayM
	}
	lin := 1 - distM/radiusM
	if lin < 0 {
		lin = 0
	}
	return lin * math.Exp(-distM/decayM)
}

// Nearby lists POIs within radiusM of a point, grouped by category and
// sorted by distance. The corpus venues appear under the pseudo-category
// "venues". An empty cats filter means all categories.
func (c *Corpus) Nearby(lat, lon, radiusM float64, cats []string, p LookupParams) map[string][]model.NearbyPOI {
	want := map[string]bool{}
	for _, n := range cats {
		want[n] = true
	}
	out := map[string][]model.NearbyPOI{}
	for i := range c.Categories {
		snap := &c.Categories[i]
		if len(want) > 0 && !want[snap.Name] {
			continue
		}
		out[snap.Name] = c.nearbyFrom(lat, lon, radiusM, snap.Points, snap.Names, snap.Subcats, snap.Weights, p)
	}
	if len(want) == 0 || want["venues"] {
		names := make([]string, len(c.Venues))
		weights := make([]float64, len(c.Venues))
		for i := range c.Venues {
			names[i] = c.Venues[i].Name
			weights[i] = c.Venues[i].VenueWeight
		}
		out["venues"] = c.nearbyFrom(lat, lon, radiusM, c.VenuePoints(), names, nil, weights, p)
	}
	return out
}

func (c *Corpus) nearbyFrom(lat, lon, radiusM float64, pts Points, names, subcats []string, weights []float64, p LookupParams) []model.NearbyPOI {
	items := []model.NearbyPOI{}
	for i := 0; i < pts.Len(); i++ {
		if math.IsNaN(pts.Lat[i]) || math.IsNaN(pts.Lng[i]) {
			continue
		}
		d := HaversineMeters(lat, lon, pts.Lat[i], pts.Lng[i])
		if d > radiusM {
			continue
		}
		item := model.NearbyPOI{
			Lat:        pts.Lat[i],
			Lng:        pts.Lng[i],
			DistanceKm: d / 1000,
			Weight:     lookupWeight(d, radiusM, p.DecayM),
		}
		if names != nil {
			item.Name = names[i]
		}
		if subcats != nil {
			item.Subcategory = subcats[i]
		}
		if weights != nil && !math.IsNaN(weights[i]) {
			// Scale the falloff by the POI's own combined weight.
			item.Weight *= weights[i]
		}
		items = append(items, item)
	}
	sort.Slice(items, func(a, b int) bool { return items[a].DistanceKm < items[b].DistanceKm })
	if p.Limit > 0 && len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return items
}

// RingSummary aggregates each category inside concentric radii around a
// point: counts, weight sums, distance stats, and share of the ring total.
func (c *Corpus) RingSummary(lat, lon float64, radiiM []float64) []model.Ring {
	out := make([]model.Ring, 0, len(radiiM))
	for _, r := range radiiM {
		ring := model.Ring{RadiusKm: r / 1000, Categories: map[string]model.RingCategory{}}
		type catAgg struct {
			agg  Aggregate
			dsum float64
		}
		aggs := map[string]catAgg{}
		for i := range c.Categories {
			snap := &c.Categories[i]
			agg := AggregateRadius(lat, lon, snap.Points, snap.Weights, r)
			dsum := 0.0
			for j := 0; j < snap.Points.Len(); j++ {
				if math.IsNaN(snap.Points.Lat[j]) || math.IsNaN(snap.Points.Lng[j]) {
					continue
				}
				if d := HaversineMeters(lat, lon, snap.Points.Lat[j], snap.Points.Lng[j]); d <= r {
					dsum += d
				}
			}
			aggs[snap.Name] = catAgg{agg: agg, dsum: dsum}
			ring.TotalCount += agg.Count
		}
		for name, ca := range aggs {
			rc := model.RingCategory{Count: ca.agg.Count, SumWeight: ca.agg.WeightSum}
			if ca.agg.Count > 0 {
				rc.AvgDistM = ca.dsum / float64(ca.agg.Count)
				rc.MinDistM = ca.agg.MinDistM
			}
			if ring.TotalCount > 0 {
				rc.Share = float64(ca.agg.Count) / float64(ring.TotalCount)
			}
			ring.Categories[name] = rc
		}
		out = append(out, ring)
	}
	return out
}

// Competition summarizes venue density around a point relative to all POIs.
func (c *Corpus) Competition(lat, lon, radiusM float64) model.CompetitionIndex {
	idx := model.CompetitionIndex{RadiusKm: radiusM / 1000}
	weights := make([]float64, len(c.Venues))
	for i := range c.Venues {
		weights[i] = c.Venues[i].VenueWeight
	}
	vAgg := AggregateRadius(lat, lon, c.VenuePoints(), weights, radiusM)
	idx.VenueCount = vAgg.Count
	idx.VenueWeight = vAgg.WeightSum
	for i := range c.Categories {
		snap := &c.Categories[i]
		idx.TotalPOICount += AggregateRadius(lat, lon, snap.Points, nil, radiusM).Count
	}
	if total := idx.VenueCount + idx.TotalPOICount; total > 0 {
		idx.VenueShare = float64(idx.VenueCount) / float64(total)
	}
	areaSqKm := math.Pi * (radiusM / 1000) * (radiusM / 1000)
	if areaSqKm > 0 {
		idx.VenuesPerSqKm = float64(idx.VenueCount) / areaSqKm
	}
	return idx
}
