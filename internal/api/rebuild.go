package api

import (
    "context"
    "encoding/json"
    "net/http"
    "os"
    "time"

    "sitescore/internal/dataset"
    "sitescore/internal/metrics"
    "sitescore/internal/model"
    "sitescore/internal/score"
)

// eventsTopic is the broker topic all build lifecycle events go to.
const eventsTopic = "builds"

// Rebuild runs a full offline build from the raw data directory, persists
// the corpus, and swaps it in. Events fire on the broker and to webhook
// subscribers at each stage. radiusM overrides the configured radius for
// this build only; 0 keeps the config value.
func (s *Server) Rebuild(ctx context.Context, radiusM float64) (model.BuildRecord, error) {
    src := dataset.DirSource{
        Dir:        os.Getenv("SITESCORE_DATA_DIR"),
        VenuesPath: os.Getenv("SITESCORE_VENUES_CSV"),
    }
    s.emit(ctx, "build.started", map[string]any{"source": src.Name()})

    start := time.Now()
    rec, err := s.rebuildFrom(ctx, src, radiusM)
    if err != nil {
        s.emit(ctx, "build.failed", map[string]any{"source": src.Name(), "error": err.Error()})
        return model.BuildRecord{}, err
    }
    metrics.BuildDuration.Observe(time.Since(start).Seconds())
    s.emit(ctx, "build.completed", map[string]any{
        "buildId": rec.ID, "venues": rec.Venues, "pois": rec.POIs, "radiusM": rec.RadiusM,
    })
    s.emit(ctx, "corpus.swapped", map[string]any{"buildId": rec.ID})
    return rec, nil
}

func (s *Server) rebuildFrom(ctx context.Context, src dataset.Source, radiusM float64) (model.BuildRecord, error) {
    venueTable, err := src.Venues()
    if err != nil { return model.BuildRecord{}, err }
    cats, err := src.Categories()
    if err != nil { return model.BuildRecord{}, err }
    poiTables := map[string]*dataset.Table{}
    for _, name := range cats {
        t, err := src.Category(name)
        if err != nil { return model.BuildRecord{}, err }
        poiTables[name] = t
    }
    params := s.Cfg.BuildParams()
    if radiusM > 0 { params.RadiusM = radiusM }
    corpus, stats, err := score.Build(venueTable, poiTables, params)
    if err != nil { return model.BuildRecord{}, err }
    rec := model.BuildRecord{
        ID:      corpus.BuildID,
        BuiltAt: corpus.BuiltAt.UTC().Format(time.RFC3339),
        RadiusM: corpus.RadiusM,
        Venues:  stats.Venues,
        POIs:    stats.POIs,
        Source:  src.Name(),
    }
    score.RecordBuildStats(rec.ID, stats)
    if err := s.Store.SaveCorpus(ctx, corpus, rec); err != nil { return model.BuildRecord{}, err }
    if err := s.Store.SaveBuildStats(ctx, rec.ID, stats); err != nil { return model.BuildRecord{}, err }
    if err := s.SwapRuntime(corpus, rec); err != nil { return model.BuildRecord{}, err }
    return rec, nil
}

// emit publishes to SSE/WS subscribers and fans out to webhooks.
func (s *Server) emit(ctx context.Context, eventType string, data map[string]any) {
    s.Broker.Publish(eventsTopic, SSEEvent{Type: eventType, Data: data})
    if s.Pub != nil {
        s.Pub.Emit(ctx, eventType, data)
    }
}

// AdminRebuildHandler handles POST /v1/admin/rebuild
func (s *Server) AdminRebuildHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    var req struct {
        RadiusM float64 `json:"radius_m"`
    }
    if r.Body != nil {
        _ = json.NewDecoder(r.Body).Decode(&req)
    }
    if req.RadiusM < 0 {
        writeProblem(w, 400, "Invalid rebuild request", "radius_m must be > 0", r.URL.Path)
        return
    }
    rec, err := s.Rebuild(r.Context(), req.RadiusM)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Rebuild failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"build": rec})
}
