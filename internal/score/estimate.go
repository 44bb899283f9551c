package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Estimator modes. Approx interpolates over the reference corpus; exact
// re-runs the spatial aggregation against the retained POI snapshots.
const (
	ModeApprox = "approx"
	ModeExact  = "exact"
)

const (
	// DefaultK is the neighbor count for approximate estimation.
	DefaultK = 5
	// coincidentM is the distance under which a query point is treated as
	// coincident with a reference venue.
	coincidentM = 1e-6
	idwEpsilon  = 1e-9
)

var ErrNoVenues = errors.New("reference corpus has no venues")

// EstimatorConfig selects the estimation mode and neighbor count.
type EstimatorConfig struct {
	Mode string
	K    int
}

func (c *EstimatorConfig) normalize() error {
	if c.Mode == "" {
		c.Mode = ModeApprox
	}
	if c.Mode != ModeApprox && c.Mode != ModeExact {
		return fmt.Errorf("unknown estimator mode %q", c.Mode)
	}
	if c.K <= 0 {
		c.K = DefaultK
	}
	return nil
}

// Estimator reproduces the corpus feature vector for an arbitrary query
// point. It only reads the immutable corpus, so any number of estimates may
// run concurrently.
type Estimator struct {
	Corpus *Corpus
	Cfg    EstimatorConfig
}

func NewEstimator(c *Corpus, cfg EstimatorConfig) (*Estimator, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Estimator{Corpus: c, Cfg: cfg}, nil
}

// Estimate returns the estimated feature vector for (lat, lon). The result
// always carries lat/lng so downstream feature ordering can include them.
func (e *Estimator) Estimate(ctx context.Context, lat, lon float64) (map[string]float64, error) {
	if len(e.Corpus.Venues) == 0 {
		return nil, ErrNoVenues
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Cfg.Mode == ModeExact {
		return e.estimateExact(ctx, lat, lon)
	}
	return e.estimateApprox(ctx, lat, lon)
}

type neighbor struct {
	idx  int
	dist float64
}

// nearest scans all venues and returns the k closest by great-circle
// distance, nearest first. Venues without coordinates are skipped.
func (e *Estimator) nearest(ctx context.Context, lat, lon float64, k int) ([]neighbor, error) {
	out := make([]neighbor, 0, len(e.Corpus.Venues))
	for i := range e.Corpus.Venues {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v := &e.Corpus.Venues[i]
		if math.IsNaN(v.Lat) || math.IsNaN(v.Lng) {
			continue
		}
		out = append(out, neighbor{idx: i, dist: HaversineMeters(lat, lon, v.Lat, v.Lng)})
	}
	if len(out) == 0 {
		return nil, ErrNoVenues
	}
	sort.Slice(out, func(a, b int) bool { return out[a].dist < out[b].dist })
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func (e *Estimator) estimateApprox(ctx context.Context, lat, lon float64) (map[string]float64, error) {
	nbrs, err := e.nearest(ctx, lat, lon, e.Cfg.K)
	if err != nil {
		return nil, err
	}
	// k=1 or a coincident nearest venue: hand back its features verbatim.
	if len(nbrs) == 1 || nbrs[0].dist < coincidentM {
		return e.copyFeatures(nbrs[0].idx, lat, lon), nil
	}
	keys := e.interpolatedKeys()
	out := make(map[string]float64, len(keys)+2)
	totalW := 0.0
	weights := make([]float64, len(nbrs))
	for i, nb := range nbrs {
		weights[i] = 1 / (nb.dist + idwEpsilon)
		totalW += weights[i]
	}
	for _, k := range keys {
		acc := 0.0
		for i, nb := range nbrs {
			acc += weights[i] * e.Corpus.Venues[nb.idx].Features[k]
		}
		out[k] = acc / totalW
	}
	out["lat"] = lat
	out["lng"] = lon
	return out, nil
}

func (e *Estimator) estimateExact(ctx context.Context, lat, lon float64) (map[string]float64, error) {
	if len(e.Corpus.Categories) == 0 {
		return nil, errors.New("exact estimation requires POI snapshots in the corpus")
	}
	out := map[string]float64{"lat": lat, "lng": lon}
	suffix := e.Corpus.Suffix
	for i := range e.Corpus.Categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap := &e.Corpus.Categories[i]
		agg := AggregateRadius(lat, lon, snap.Points, snap.Weights, e.Corpus.RadiusM)
		out[snap.Name+"_count"+suffix] = float64(agg.Count)
		out[snap.Name+"_weight"+suffix] = agg.WeightSum
		if !math.IsNaN(agg.MinDistM) {
			out[snap.Name+"_min_dist_m"] = agg.MinDistM
		}
	}
	// Venue-relative features still come from the nearest reference venue;
	// they cannot be recomputed for a point with no intrinsic attributes.
	nbrs, err := e.nearest(ctx, lat, lon, 1)
	if err != nil {
		return nil, err
	}
	v := &e.Corpus.Venues[nbrs[0].idx]
	out["venue_weight"] = v.Features["venue_weight"]
	out["venues_count"+suffix] = v.Features["venues_count"+suffix]
	out["venues_nearby_weight"+suffix] = v.Features["venues_nearby_weight"+suffix]
	return out, nil
}

// interpolatedKeys lists the feature keys that are averaged across
// neighbors: the per-category count/weight columns plus the venue-relative
// ones. Min-distance columns are point-specific and excluded.
func (e *Estimator) interpolatedKeys() []string {
	keys := e.Corpus.FeatureKeys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "lat" || k == "lng" {
			continue
		}
		if strings.HasSuffix(k, e.Corpus.Suffix) || k == "venue_weight" {
			out = append(out, k)
		}
	}
	return out
}

func (e *Estimator) copyFeatures(idx int, lat, lon float64) map[string]float64 {
	src := e.Corpus.Venues[idx].Features
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	out["lat"] = lat
	out["lng"] = lon
	return out
}
