package score

import "sync"

var (
	mu         sync.Mutex
	buildStats = map[string]BuildStats{}
)

// RecordBuildStats keeps the stats of a completed build in process memory
// for the admin metrics endpoint. Persistent storage is handled separately
// by the store.
func RecordBuildStats(buildID string, s BuildStats) {
	mu.Lock()
	buildStats[buildID] = s
	mu.Unlock()
}

func GetBuildStats(buildID string) (BuildStats, bool) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := buildStats[buildID]
	return s, ok
}

func ListBuildStats() map[string]BuildStats {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]BuildStats, len(buildStats))
	for k, v := range buildStats {
		out[k] = v
	}
	return out
}
