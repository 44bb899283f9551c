package dataset

import "testing"

func TestResolveCandidates(t *testing.T) {
	tb := NewTable([]string{"Name", "Latitude", "LNG", "rating", "user_ratings_total", "weekly_hours", "type"})
	s := Resolve(tb)
	if !s.HasCoords() {
		t.Fatalf("coords not resolved: %+v", s)
	}
	if s.Lat.Name != "Latitude" || s.Lon.Name != "LNG" {
		t.Fatalf("coord columns: %+v", s)
	}
	if !s.Name.OK || !s.Rating.OK || !s.Reviews.OK || !s.WeeklyHours.OK || !s.Subcategory.OK {
		t.Fatalf("optional columns not resolved: %+v", s)
	}
	if s.Weight.OK {
		t.Fatalf("weight resolved without a candidate column: %+v", s.Weight)
	}
}

func TestResolveRankWinsWeightSlot(t *testing.T) {
	tb := NewTable([]string{"name", "weight", "search_rank"})
	s := Resolve(tb)
	if !s.Weight.OK || !s.RankLike || s.Weight.Name != "search_rank" {
		t.Fatalf("rank column should win the weight slot: %+v", s.Weight)
	}

	plain := Resolve(NewTable([]string{"name", "importance"}))
	if !plain.Weight.OK || plain.RankLike {
		t.Fatalf("plain weight column misresolved: %+v", plain)
	}
}

func TestResolveNothing(t *testing.T) {
	s := Resolve(NewTable([]string{"foo", "bar"}))
	if s.HasCoords() || s.Weight.OK || s.Rating.OK {
		t.Fatalf("nothing should resolve: %+v", s)
	}
}
