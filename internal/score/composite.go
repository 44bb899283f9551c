package score

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"sitescore/internal/dataset"
	"sitescore/internal/model"
)

// CategoryConfig carries the configured importance of one POI category.
// The static weight is a fallback; builds replace it with the dynamic
// weight derived from the category's own POIs.
type CategoryConfig struct {
	Name          string
	StaticWeight  float64
	Subcategories *SubcategoryWeights
}

// BuildParams parameterizes one corpus build.
type BuildParams struct {
	RadiusM              float64
	NeighborCountRadiusM float64
	IntrinsicMultiplier  float64
	NeighborMultiplier   float64
	WeeklyHoursFull      float64
	Categories           []CategoryConfig
	// DefaultCategoryWeight applies to POI tables with no configured entry.
	DefaultCategoryWeight float64
}

func (p *BuildParams) normalize() {
	if p.RadiusM <= 0 {
		p.RadiusM = 1500
	}
	if p.NeighborCountRadiusM <= 0 {
		p.NeighborCountRadiusM = 1000
	}
	if p.IntrinsicMultiplier == 0 {
		p.IntrinsicMultiplier = 1
	}
	if p.NeighborMultiplier == 0 {
		p.NeighborMultiplier = 1
	}
	if p.WeeklyHoursFull <= 0 {
		p.WeeklyHoursFull = DefaultWeeklyHours
	}
	if p.DefaultCategoryWeight <= 0 {
		p.DefaultCategoryWeight = 0.9
	}
}

func (p BuildParams) category(name string) CategoryConfig {
	for _, c := range p.Categories {
		if c.Name == name {
			return c
		}
	}
	return CategoryConfig{Name: name, StaticWeight: p.DefaultCategoryWeight}
}

// CategorySnapshot is one annotated POI table retained inside the corpus for
// exact-mode estimation and POI lookup.
type CategorySnapshot struct {
	Name      string    `json:"name"`
	Points    Points    `json:"points"`
	Names     []string  `json:"names,omitempty"`
	Subcats   []string  `json:"subcats,omitempty"`
	Weights   []float64 `json:"weights"`
	Dynamic   float64   `json:"dynamic"`
	HasCoords bool      `json:"hasCoords"`
}

// Corpus is the immutable reference corpus produced by one build. It is
// replaced wholesale on rebuild and never mutated while serving.
type Corpus struct {
	BuildID    string             `json:"buildId"`
	BuiltAt    time.Time          `json:"builtAt"`
	RadiusM    float64            `json:"radiusM"`
	Suffix     string             `json:"suffix"`
	Venues     []model.Venue      `json:"venues"`
	Categories []CategorySnapshot `json:"categories"`
}

// RadiusSuffix renders the feature-column suffix for a radius, e.g. 1500 m
// becomes "_1km". Integer truncation is deliberate: the historical output
// schema names 1.5 km columns "_1km".
func RadiusSuffix(radiusM float64) string {
	return fmt.Sprintf("_%dkm", int(radiusM/1000))
}

// CategoryBuildStats describes one category's contribution to a build.
type CategoryBuildStats struct {
	Rows    int      `json:"rows"`
	Dynamic float64  `json:"dynamic"`
	Terms   []string `json:"terms"`
}

// BuildStats summarizes a completed build for the metrics endpoints.
type BuildStats struct {
	Venues     int                           `json:"venues"`
	POIs       int                           `json:"pois"`
	RadiusM    float64                       `json:"radiusM"`
	DurationMs int64                         `json:"durationMs"`
	Categories map[string]CategoryBuildStats `json:"categories"`
}

// Build runs the full offline pass: normalize each category's weights,
// aggregate per venue, score intrinsic and neighbor components, and combine
// into the composite score. The result depends only on the inputs, never on
// processing order.
func Build(venueTable *dataset.Table, poiTables map[string]*dataset.Table, params BuildParams) (*Corpus, BuildStats, error) {
	start := time.Now()
	params.normalize()
	suffix := RadiusSuffix(params.RadiusM)

	vsch := dataset.Resolve(venueTable)
	if !vsch.HasCoords() {
		return nil, BuildStats{}, fmt.Errorf("venue table: latitude/longitude columns not found")
	}

	stats := BuildStats{RadiusM: params.RadiusM, Categories: map[string]CategoryBuildStats{}}

	cats := make([]string, 0, len(poiTables))
	for name := range poiTables {
		cats = append(cats, name)
	}
	sort.Strings(cats)

	snapshots := make([]CategorySnapshot, 0, len(cats))
	for _, name := range cats {
		t := poiTables[name]
		sch := dataset.Resolve(t)
		cfg := params.category(name)
		cw := NormalizeWeights(t, sch, cfg.Subcategories, params.WeeklyHoursFull)
		snap := CategorySnapshot{
			Name:      name,
			Weights:   cw.Combined,
			Dynamic:   cw.Dynamic,
			HasCoords: sch.HasCoords(),
		}
		if sch.HasCoords() {
			snap.Points = Points{Lat: t.Floats(sch.Lat.Name), Lng: t.Floats(sch.Lon.Name)}
		} else {
			snap.Points = Points{Lat: make([]float64, t.Len()), Lng: make([]float64, t.Len())}
			for i := range snap.Points.Lat {
				snap.Points.Lat[i] = math.NaN()
				snap.Points.Lng[i] = math.NaN()
			}
		}
		if sch.Name.OK {
			snap.Names = t.Strings(sch.Name.Name)
		}
		if sch.Subcategory.OK {
			snap.Subcats = t.Strings(sch.Subcategory.Name)
		}
		snapshots = append(snapshots, snap)
		stats.POIs += t.Len()
		stats.Categories[name] = CategoryBuildStats{Rows: t.Len(), Dynamic: cw.Dynamic, Terms: cw.Terms}
	}

	vlat := venueTable.Floats(vsch.Lat.Name)
	vlng := venueTable.Floats(vsch.Lon.Name)
	var vnames []string
	if vsch.Name.OK {
		vnames = venueTable.Strings(vsch.Name.Name)
	}

	n := venueTable.Len()
	venues := make([]model.Venue, n)
	for i := range venues {
		venues[i] = model.Venue{Lat: vlat[i], Lng: vlng[i], Features: map[string]float64{}}
		if vnames != nil {
			venues[i].Name = vnames[i]
		}
	}
	attachVenueAttrs(venueTable, vsch, venues)

	// Per-category aggregates and their corpus maxima.
	weightSums := make(map[string][]float64, len(snapshots))
	for _, snap := range snapshots {
		sums := make([]float64, n)
		for i := range venues {
			agg := AggregateRadius(vlat[i], vlng[i], snap.Points, snap.Weights, params.RadiusM)
			venues[i].Features[snap.Name+"_count"+suffix] = float64(agg.Count)
			venues[i].Features[snap.Name+"_weight"+suffix] = agg.WeightSum
			if !math.IsNaN(agg.MinDistM) {
				venues[i].Features[snap.Name+"_min_dist_m"] = agg.MinDistM
			}
			sums[i] = agg.WeightSum
		}
		weightSums[snap.Name] = sums
	}

	// Venue-intrinsic component: mean over whichever attribute terms
	// resolved for the venue table. Unlike the POI base term, an absent
	// column here drops the term instead of contributing zeros.
	intrinsic := intrinsicScores(venueTable, vsch, params.WeeklyHoursFull)
	maxIntrinsic := maxOf(intrinsic)
	for i := range venues {
		venues[i].Intrinsic = intrinsic[i]
		venues[i].VenueWeight = zeroDiv(intrinsic[i], maxIntrinsic)
	}

	// Neighbor-density component, self excluded.
	neighborW := make([]float64, n)
	neighborC := make([]int, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(vlat[i]) || math.IsNaN(vlng[i]) {
			continue
		}
		for j := 0; j < n; j++ {
			if j == i || math.IsNaN(vlat[j]) || math.IsNaN(vlng[j]) {
				continue
			}
			d := HaversineMeters(vlat[i], vlng[i], vlat[j], vlng[j])
			if d <= params.RadiusM {
				neighborW[i] += intrinsic[j]
			}
			if d <= params.NeighborCountRadiusM {
				neighborC[i]++
			}
		}
	}
	maxNeighbor := maxOf(neighborW)

	maxSums := map[string]float64{}
	for name, sums := range weightSums {
		maxSums[name] = maxOf(sums)
	}

	for i := range venues {
		catComponent := 0.0
		for _, snap := range snapshots {
			catComponent += zeroDiv(weightSums[snap.Name][i], maxSums[snap.Name]) * snap.Dynamic
		}
		nw := zeroDiv(neighborW[i], maxNeighbor)
		venues[i].NeighborWeight = nw
		venues[i].NeighborCount = neighborC[i]
		venues[i].Composite = catComponent + intrinsic[i]*params.IntrinsicMultiplier + nw*params.NeighborMultiplier

		venues[i].Features["lat"] = vlat[i]
		venues[i].Features["lng"] = vlng[i]
		venues[i].Features["venue_weight"] = venues[i].VenueWeight
		venues[i].Features["venues_count"+suffix] = float64(neighborC[i])
		venues[i].Features["venues_nearby_weight"+suffix] = nw
	}

	c := &Corpus{
		BuildID:    uuid.New().String(),
		BuiltAt:    time.Now().UTC(),
		RadiusM:    params.RadiusM,
		Suffix:     suffix,
		Venues:     venues,
		Categories: snapshots,
	}
	stats.Venues = n
	stats.DurationMs = time.Since(start).Milliseconds()
	return c, stats, nil
}

// intrinsicScores computes the per-venue intrinsic component from the venue
// table's own attributes.
func intrinsicScores(t *dataset.Table, sch dataset.Schema, hoursFull float64) []float64 {
	n := t.Len()
	var terms [][]float64
	if sch.Weight.OK {
		terms = append(terms, baseTerm(t, sch))
	}
	if v, ok := ratingTerm(t, sch); ok {
		terms = append(terms, v)
	}
	if v, ok := reviewsTerm(t, sch); ok {
		terms = append(terms, v)
	}
	if v, ok := hoursTerm(t, sch, hoursFull); ok {
		terms = append(terms, v)
	}
	out := make([]float64, n)
	if len(terms) == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, tv := range terms {
			sum += tv[i]
		}
		out[i] = sum / float64(len(terms))
	}
	return out
}

func attachVenueAttrs(t *dataset.Table, sch dataset.Schema, venues []model.Venue) {
	attach := func(key string, col dataset.ColRef) {
		if !col.OK {
			return
		}
		vals := t.Floats(col.Name)
		for i := range venues {
			if math.IsNaN(vals[i]) {
				continue
			}
			if venues[i].Attrs == nil {
				venues[i].Attrs = map[string]float64{}
			}
			venues[i].Attrs[key] = vals[i]
		}
	}
	attach("rating", sch.Rating)
	attach("reviews", sch.Reviews)
	attach("weeklyHours", sch.WeeklyHours)
	attach("rank", sch.Weight)
}

// Category returns the snapshot for a POI category, or nil.
func (c *Corpus) Category(name string) *CategorySnapshot {
	for i := range c.Categories {
		if c.Categories[i].Name == name {
			return &c.Categories[i]
		}
	}
	return nil
}

// CategoryNames returns the snapshot category names in build order.
func (c *Corpus) CategoryNames() []string {
	out := make([]string, len(c.Categories))
	for i := range c.Categories {
		out[i] = c.Categories[i].Name
	}
	return out
}

// VenuePoints returns the venue coordinates as a point set.
func (c *Corpus) VenuePoints() Points {
	p := Points{Lat: make([]float64, len(c.Venues)), Lng: make([]float64, len(c.Venues))}
	for i := range c.Venues {
		p.Lat[i] = c.Venues[i].Lat
		p.Lng[i] = c.Venues[i].Lng
	}
	return p
}

// FeatureKeys returns the sorted union of all venue feature keys.
func (c *Corpus) FeatureKeys() []string {
	set := map[string]struct{}{}
	for i := range c.Venues {
		for k := range c.Venues[i].Features {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FillDefaults backfills missing count/weight feature keys with zero so a
// corpus loaded from external storage interpolates over a uniform key set.
func (c *Corpus) FillDefaults() {
	keys := c.FeatureKeys()
	for i := range c.Venues {
		if c.Venues[i].Features == nil {
			c.Venues[i].Features = map[string]float64{}
		}
		for _, k := range keys {
			if _, ok := c.Venues[i].Features[k]; !ok {
				c.Venues[i].Features[k] = 0
			}
		}
	}
}

// zeroDiv divides with the degenerate-normalization rule: a non-positive
// denominator forces the term to zero instead of a division fault.
func zeroDiv(v, max float64) float64 {
	if max <= 0 || math.IsNaN(max) {
		return 0
	}
	return v / max
}

func maxOf(vals []float64) float64 {
	max := 0.0
	for _, v := range vals {
		if !math.IsNaN(v) && v > max {
			max = v
		}
	}
	return max
}
