package api

import (
	"fmt"
	"math"

	"sitescore/internal/model"
)

func validatePredictRequest(req *model.PredictRequest) error {
	if math.IsNaN(req.Lat) || math.IsInf(req.Lat, 0) || math.IsNaN(req.Lon) || math.IsInf(req.Lon, 0) {
		return fmt.Errorf("lat and lon must be finite")
	}
	if req.Lat < -90 || req.Lat > 90 {
		return fmt.Errorf("lat out of range: %g", req.Lat)
	}
	if req.Lon < -180 || req.Lon > 180 {
		return fmt.Errorf("lon out of range: %g", req.Lon)
	}
	return nil
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	if req.URL == "" {
		return fmt.Errorf("url required")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events required")
	}
	allowed := map[string]struct{}{"*": {}, "build.started": {}, "build.completed": {}, "build.failed": {}, "corpus.swapped": {}}
	for _, e := range req.Events {
		if _, ok := allowed[e]; !ok {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}
