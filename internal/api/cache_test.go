package api

import (
	"testing"

	"sitescore/internal/model"
)

func TestPredictionCacheRoundTrip(t *testing.T) {
	c := NewPredictionCache()
	c.Put(12.9, 77.6, model.PredictResponse{PredictedScore: 1.5})
	got, ok := c.Get(12.9, 77.6)
	if !ok || got.PredictedScore != 1.5 {
		t.Fatalf("cache miss or wrong value: %v %+v", ok, got)
	}
	// keys round to ~1 m, so a far-enough point misses
	if _, ok := c.Get(12.91, 77.6); ok {
		t.Fatal("distinct coordinate served from cache")
	}
	c.Clear()
	if _, ok := c.Get(12.9, 77.6); ok {
		t.Fatal("entry survived Clear")
	}
}

func TestPredictionCacheBounded(t *testing.T) {
	c := NewPredictionCache()
	for i := 0; i < predictionCacheMax+10; i++ {
		c.Put(float64(i)*0.0001, 77.6, model.PredictResponse{PredictedScore: float64(i)})
	}
	if n := len(c.m); n > predictionCacheMax {
		t.Fatalf("cache grew past the cap: %d entries", n)
	}
	// the most recent entry is always retained
	last := float64(predictionCacheMax+9) * 0.0001
	if _, ok := c.Get(last, 77.6); !ok {
		t.Fatal("latest entry missing after reset")
	}
}
