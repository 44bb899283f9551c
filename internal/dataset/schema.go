package dataset

import "strings"

// ColRef is the result of resolving one logical field against a table:
// at most one concrete column, fixed for the lifetime of the table.
type ColRef struct {
	Name string
	OK   bool
}

// Schema maps every logical field the engine cares about to a concrete
// column. Resolution happens once per table at load time; all later
// operations consult the Schema instead of re-matching column names.
type Schema struct {
	Lat         ColRef
	Lon         ColRef
	Name        ColRef
	Weight      ColRef
	Rating      ColRef
	Reviews     ColRef
	WeeklyHours ColRef
	Subcategory ColRef
	// RankLike marks the Weight column as rank-valued (lower = better).
	RankLike bool
}

// HasCoords reports whether both coordinate columns resolved.
func (s Schema) HasCoords() bool { return s.Lat.OK && s.Lon.OK }

var (
	latCands     = []string{"lat", "latitude", "y"}
	lonCands     = []string{"lon", "lng", "longitude", "x"}
	nameCands    = []string{"name", "title", "place", "place_name"}
	weightCands  = []string{"weight", "importance", "score", "popularity", "pop"}
	ratingCands  = []string{"rating", "stars", "avg_rating"}
	reviewCands  = []string{"reviewscount", "reviews_count", "review_count", "reviews", "user_ratings_total"}
	hoursCands   = []string{"weekly_hours", "weeklyhours", "open_hours_week", "hours_per_week"}
	subcatCands  = []string{"subcategory", "category", "categoryname", "type", "place_type", "amenity", "class", "main_category"}
)

// Resolve builds the Schema for a table. Matching is case-insensitive;
// a column whose name contains "rank" wins the weight slot and flags it as
// rank-like, matching how the source exports name their ranking columns.
func Resolve(t *Table) Schema {
	var s Schema
	lower := make([]string, len(t.cols))
	for i, c := range t.cols {
		lower[i] = strings.ToLower(strings.TrimSpace(c))
	}
	find := func(cands []string) ColRef {
		for _, cand := range cands {
			for i, lc := range lower {
				if lc == cand {
					return ColRef{Name: t.cols[i], OK: true}
				}
			}
		}
		return ColRef{}
	}
	s.Lat = find(latCands)
	s.Lon = find(lonCands)
	s.Name = find(nameCands)
	for i, lc := range lower {
		if strings.Contains(lc, "rank") {
			s.Weight = ColRef{Name: t.cols[i], OK: true}
			s.RankLike = true
			break
		}
	}
	if !s.Weight.OK {
		s.Weight = find(weightCands)
	}
	s.Rating = find(ratingCands)
	s.Reviews = find(reviewCands)
	s.WeeklyHours = find(hoursCands)
	s.Subcategory = find(subcatCands)
	return s
}
