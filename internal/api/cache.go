package api

import (
	"fmt"
	"sync"

	"sitescore/internal/model"
)

// predictionCacheMax bounds the cache between corpus swaps. When full, the
// whole map is dropped; the next requests repopulate it.
const predictionCacheMax = 4096

// PredictionCache memoizes prediction responses by rounded coordinate. The
// corpus is immutable between swaps, so entries stay valid until Clear.
type PredictionCache struct {
	mu sync.Mutex
	// key: lat|lon rounded to ~1 m
	m map[string]model.PredictResponse
}

// NewPredictionCache constructs a PredictionCache.
func NewPredictionCache() *PredictionCache { return &PredictionCache{m: map[string]model.PredictResponse{}} }

func (c *PredictionCache) key(lat, lon float64) string {
	return fmt.Sprintf("%.5f|%.5f", lat, lon)
}

// Get returns a cached response for a coordinate if present.
func (c *PredictionCache) Get(lat, lon float64) (model.PredictResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[c.key(lat, lon)]
	return v, ok
}

// Put stores a response for a coordinate, resetting the cache at the size
// cap.
func (c *PredictionCache) Put(lat, lon float64, resp model.PredictResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.m) >= predictionCacheMax {
		c.m = map[string]model.PredictResponse{}
	}
	c.m[c.key(lat, lon)] = resp
}

// Clear drops all entries. Called on corpus swap.
func (c *PredictionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = map[string]model.PredictResponse{}
}
