package score

import (
	"math"

	"sitescore/internal/dataset"
)

const (
	// rankEpsilon keeps the rank inversion finite for rank values near zero.
	rankEpsilon = 1e-9
	// DefaultWeeklyHours is the full-open week used to normalize opening
	// hours. Values of zero or above maxPlausibleHours are treated as
	// missing and default to it.
	DefaultWeeklyHours = 72.0
	maxPlausibleHours  = 115.0
)

// SubcategoryWeights maps raw subcategory labels to configured importances.
type SubcategoryWeights struct {
	Default float64
	ByName  map[string]float64
}

// CategoryWeights is the Weight Normalizer output for one category table:
// a combined importance in [0,1] per row plus the category-level dynamic
// weight (mean combined weight).
type CategoryWeights struct {
	Combined []float64
	Dynamic  float64
	// Terms lists which logical terms resolved for this table. Presence is
	// decided once at column level; row-level gaps take per-term defaults.
	Terms []string
}

// baseTerm computes the base importance from the resolved weight column.
// Rank-like columns (lower = better) fill missing ranks two past the
// observed maximum, invert, and normalize by the best inverse. Plain weight
// columns normalize by their maximum. Without a column the base is zero for
// every row but the term still participates in the mean.
func baseTerm(t *dataset.Table, sch dataset.Schema) []float64 {
	n := t.Len()
	out := make([]float64, n)
	if !sch.Weight.OK {
		return out
	}
	vals := t.Floats(sch.Weight.Name)
	if sch.RankLike {
		maxRank := 0.0
		for _, v := range vals {
			if !math.IsNaN(v) && v > 0 && v > maxRank {
				maxRank = v
			}
		}
		if maxRank <= 0 {
			maxRank = 1
		}
		// Missing ranks land one past the next free rank so they always
		// score strictly worse than every observed rank.
		fill := maxRank + 2
		maxInv := 0.0
		inv := make([]float64, n)
		for i, v := range vals {
			if math.IsNaN(v) || v <= 0 {
				v = fill
			}
			inv[i] = 1 / (v + rankEpsilon)
			if inv[i] > maxInv {
				maxInv = inv[i]
			}
		}
		if maxInv <= 0 {
			return out
		}
		for i := range inv {
			out[i] = inv[i] / maxInv
		}
		return out
	}
	maxV := 0.0
	for _, v := range vals {
		if !math.IsNaN(v) && v > maxV {
			maxV = v
		}
	}
	if maxV <= 0 {
		return out
	}
	for i, v := range vals {
		if math.IsNaN(v) || v < 0 {
			continue
		}
		out[i] = clip01(v / maxV)
	}
	return out
}

// ratingTerm normalizes a 0..5 rating column; missing rows score 0.
func ratingTerm(t *dataset.Table, sch dataset.Schema) ([]float64, bool) {
	if !sch.Rating.OK {
		return nil, false
	}
	vals := t.Floats(sch.Rating.Name)
	out := make([]float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		out[i] = clip01(v / 5)
	}
	return out, true
}

// reviewsTerm normalizes review counts on a log scale. The term exists only
// when the column resolved and at least one row has reviews; otherwise it is
// omitted entirely rather than degenerating to all-zero.
func reviewsTerm(t *dataset.Table, sch dataset.Schema) ([]float64, bool) {
	if !sch.Reviews.OK {
		return nil, false
	}
	vals := t.Floats(sch.Reviews.Name)
	maxLog := 0.0
	logs := make([]float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) || v <= 0 {
			continue
		}
		logs[i] = math.Log1p(v)
		if logs[i] > maxLog {
			maxLog = logs[i]
		}
	}
	if maxLog <= 0 {
		return nil, false
	}
	out := make([]float64, len(vals))
	for i := range logs {
		out[i] = logs[i] / maxLog
	}
	return out, true
}

// hoursTerm normalizes weekly opening hours against a full-open week.
// Missing or implausible row values are treated as fully open.
func hoursTerm(t *dataset.Table, sch dataset.Schema, hoursFull float64) ([]float64, bool) {
	if !sch.WeeklyHours.OK {
		return nil, false
	}
	if hoursFull <= 0 {
		hoursFull = DefaultWeeklyHours
	}
	vals := t.Floats(sch.WeeklyHours.Name)
	out := make([]float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) || v <= 0 || v > maxPlausibleHours {
			v = hoursFull
		}
		out[i] = clip01(v / hoursFull)
	}
	return out, true
}

// subcategoryTerm maps row subcategories through the configured weight map.
// It requires both a configured map and a resolved subcategory column.
func subcategoryTerm(t *dataset.Table, sch dataset.Schema, sub *SubcategoryWeights) ([]float64, bool) {
	if sub == nil || len(sub.ByName) == 0 || !sch.Subcategory.OK {
		return nil, false
	}
	names := t.Strings(sch.Subcategory.Name)
	out := make([]float64, len(names))
	for i, name := range names {
		if w, ok := sub.ByName[name]; ok {
			out[i] = clip01(w)
		} else {
			out[i] = clip01(sub.Default)
		}
	}
	return out, true
}

// NormalizeWeights runs the Weight Normalizer over one category table.
// hoursFull is the full-open week denominator (0 means DefaultWeeklyHours).
func NormalizeWeights(t *dataset.Table, sch dataset.Schema, sub *SubcategoryWeights, hoursFull float64) CategoryWeights {
	n := t.Len()
	terms := [][]float64{baseTerm(t, sch)}
	names := []string{"base"}
	if v, ok := subcategoryTerm(t, sch, sub); ok {
		terms = append(terms, v)
		names = append(names, "subcategory")
	}
	if v, ok := ratingTerm(t, sch); ok {
		terms = append(terms, v)
		names = append(names, "rating")
	}
	if v, ok := reviewsTerm(t, sch); ok {
		terms = append(terms, v)
		names = append(names, "reviews")
	}
	if v, ok := hoursTerm(t, sch, hoursFull); ok {
		terms = append(terms, v)
		names = append(names, "hours")
	}
	combined := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, tv := range terms {
			sum += tv[i]
		}
		combined[i] = clip01(sum / float64(len(terms)))
	}
	dyn := 0.0
	if n > 0 {
		for _, v := range combined {
			dyn += v
		}
		dyn /= float64(n)
	}
	return CategoryWeights{Combined: combined, Dynamic: dyn, Terms: names}
}

func clip01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
