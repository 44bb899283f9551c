package api

import (
    "encoding/json"
    "net/http"
    "os"
    "time"

    "sitescore/internal/buildinfo"
)

// DebugJSON reports build info, runtime state, and the effective environment.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT": os.Getenv("PORT"),
            "AUTH_MODE": os.Getenv("AUTH_MODE"),
            "RATE_RPS": os.Getenv("RATE_RPS"),
            "RATE_BURST": os.Getenv("RATE_BURST"),
            "WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
            "SITESCORE_DATA_DIR": os.Getenv("SITESCORE_DATA_DIR"),
            "SITESCORE_CONFIG": os.Getenv("SITESCORE_CONFIG"),
            "HAS_MODEL_ARTIFACT": os.Getenv("SITESCORE_MODEL") != "",
            "HAS_DATABASE_URL": os.Getenv("DATABASE_URL") != "",
            "HAS_REDIS_URL": os.Getenv("REDIS_URL") != "",
        },
    }
    if rt := s.Runtime(); rt != nil {
        present, missing := rt.Predictor.FeatureCoverage()
        info["runtime"] = map[string]any{
            "buildId":         rt.Build.ID,
            "loadedAt":        rt.LoadedAt.Format(time.RFC3339),
            "venues":          len(rt.Corpus.Venues),
            "radiusM":         rt.Corpus.RadiusM,
            "degraded":        rt.Degraded,
            "featuresPresent": len(present),
            "featuresMissing": missing,
        }
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
