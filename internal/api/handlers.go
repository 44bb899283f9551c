package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "sitescore/internal/metrics"
    "sitescore/internal/model"
    "sitescore/internal/score"
    "sitescore/internal/store"
)

func queryFloat(r *http.Request, name string, def float64) (float64, error) {
    v := r.URL.Query().Get(name)
    if v == "" { return def, nil }
    f, err := strconv.ParseFloat(v, 64)
    if err != nil { return 0, fmt.Errorf("invalid %s: %q", name, v) }
    return f, nil
}

// PredictHandler handles POST /v1/predict
func (s *Server) PredictHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanAnalyze() { writeProblem(w, 403, "Forbidden", "analyst or admin required", r.URL.Path); return }
    var req model.PredictRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validatePredictRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid predict request", err.Error(), r.URL.Path)
        return
    }
    rt := s.Runtime()
    if rt == nil {
        writeProblem(w, http.StatusServiceUnavailable, "No corpus loaded", "rebuild the corpus first", r.URL.Path)
        return
    }
    if rt.Predictor.Model == nil {
        writeProblem(w, http.StatusServiceUnavailable, "Model unavailable", "scoring model artifact not loaded", r.URL.Path)
        return
    }
    if resp, ok := s.Cache.Get(req.Lat, req.Lon); ok {
        writeJSON(w, http.StatusOK, resp)
        return
    }
    start := time.Now()
    resp, err := rt.Predictor.Predict(r.Context(), req.Lat, req.Lon)
    if err != nil {
        if errors.Is(err, score.ErrNoModel) {
            writeProblem(w, http.StatusServiceUnavailable, "Model unavailable", err.Error(), r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Prediction failed", err.Error(), r.URL.Path)
        return
    }
    metrics.PredictDuration.Observe(time.Since(start).Seconds())
    metrics.Predictions.WithLabelValues(resp.Mode, resp.RiskLevel).Inc()
    s.Cache.Put(req.Lat, req.Lon, resp)
    writeJSON(w, http.StatusOK, resp)
}

// FeaturesHandler handles GET /v1/features: estimated features only, no model.
func (s *Server) FeaturesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    lat, err := queryFloat(r, "lat", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    lon, err := queryFloat(r, "lon", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    req := model.PredictRequest{Lat: lat, Lon: lon}
    if err := validatePredictRequest(&req); err != nil {
        writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path)
        return
    }
    rt := s.Runtime()
    if rt == nil {
        writeProblem(w, http.StatusServiceUnavailable, "No corpus loaded", "rebuild the corpus first", r.URL.Path)
        return
    }
    feats, err := rt.Predictor.Est.Estimate(r.Context(), lat, lon)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Feature estimation failed", err.Error(), r.URL.Path)
        return
    }
    score.EngineerFeatures(feats, rt.Corpus)
    writeJSON(w, 200, map[string]any{"features": feats, "mode": rt.Predictor.Est.Cfg.Mode, "build_id": rt.Build.ID})
}

// POIsHandler handles GET /v1/pois: nearby POIs by category within a radius.
func (s *Server) POIsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rt := s.Runtime()
    if rt == nil {
        writeProblem(w, http.StatusServiceUnavailable, "No corpus loaded", "rebuild the corpus first", r.URL.Path)
        return
    }
    lat, err := queryFloat(r, "lat", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    lon, err := queryFloat(r, "lon", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    radius, err := queryFloat(r, "radius_m", rt.Corpus.RadiusM)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    var cats []string
    if v := r.URL.Query().Get("categories"); v != "" {
        cats = strings.Split(v, ",")
    }
    lp := s.Cfg.LookupParams()
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &lp.Limit) }
    out := rt.Corpus.Nearby(lat, lon, radius, cats, lp)
    writeJSON(w, 200, map[string]any{"radius_m": radius, "categories": out})
}

// RingsHandler handles GET /v1/analysis/rings: multi-radius summaries.
func (s *Server) RingsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rt := s.Runtime()
    if rt == nil {
        writeProblem(w, http.StatusServiceUnavailable, "No corpus loaded", "rebuild the corpus first", r.URL.Path)
        return
    }
    lat, err := queryFloat(r, "lat", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    lon, err := queryFloat(r, "lon", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    radii := []float64{500, 1000, rt.Corpus.RadiusM}
    if v := r.URL.Query().Get("radii_m"); v != "" {
        radii = radii[:0]
        for _, part := range strings.Split(v, ",") {
            f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
            if err != nil || f <= 0 {
                writeProblem(w, 400, "Invalid query", fmt.Sprintf("invalid radii_m entry: %q", part), r.URL.Path)
                return
            }
            radii = append(radii, f)
        }
    }
    rings := rt.Corpus.RingSummary(lat, lon, radii)
    writeJSON(w, 200, map[string]any{"lat": lat, "lon": lon, "rings": rings})
}

// CompetitionHandler handles GET /v1/analysis/competition: venue density.
func (s *Server) CompetitionHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rt := s.Runtime()
    if rt == nil {
        writeProblem(w, http.StatusServiceUnavailable, "No corpus loaded", "rebuild the corpus first", r.URL.Path)
        return
    }
    lat, err := queryFloat(r, "lat", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    lon, err := queryFloat(r, "lon", 0)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    radius, err := queryFloat(r, "radius_m", rt.Corpus.RadiusM)
    if err != nil { writeProblem(w, 400, "Invalid query", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, rt.Corpus.Competition(lat, lon, radius))
}

// VenuesHandler handles GET /v1/corpus/venues
func (s *Server) VenuesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListVenues(r.Context(), cursor, limit)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "No corpus", "no build has been stored yet", r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "List venues failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// BuildsHandler handles GET /v1/corpus/builds
func (s *Server) BuildsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListBuilds(r.Context(), cursor, limit)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List builds failed", err.Error(), r.URL.Path)
        return
    }
    active := ""
    if rt := s.Runtime(); rt != nil { active = rt.Build.ID }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next, "activeBuildId": active})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateSubscriptionRequest(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }
    if r.Method != http.MethodDelete {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, 404, "Not Found", "no such subscription", r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), status, cursor, limit)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/")
    id, ok := strings.CutSuffix(rest, "/retry")
    if !ok || id == "" || r.Method != http.MethodPost {
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }
    if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, 404, "Not Found", "no such delivery", r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Retry failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, map[string]any{"id": id, "status": "pending"})
}

// BuildMetricsHandler handles GET /v1/admin/build-metrics
func (s *Server) BuildMetricsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if id := r.URL.Query().Get("buildId"); id != "" {
        stats, err := s.Store.GetBuildStats(r.Context(), id)
        if err != nil {
            // fall back to in-process stats for builds not yet persisted
            if st, ok := score.GetBuildStats(id); ok {
                writeJSON(w, 200, map[string]any{"buildId": id, "stats": st})
                return
            }
            writeProblem(w, 404, "Not Found", "no stats for build", r.URL.Path)
            return
        }
        writeJSON(w, 200, map[string]any{"buildId": id, "stats": stats})
        return
    }
    writeJSON(w, 200, map[string]any{"builds": score.ListBuildStats()})
}

// EstimatorConfigHandler handles GET/PUT /v1/admin/estimator-config
func (s *Server) EstimatorConfigHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        cfg, err := s.Store.GetEstimatorConfig(r.Context())
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get estimator config failed", err.Error(), r.URL.Path)
            return
        }
        if cfg == nil { cfg = map[string]any{} }
        if _, ok := cfg["mode"]; !ok { cfg["mode"] = s.Cfg.Estimator.Mode }
        if _, ok := cfg["k"]; !ok { cfg["k"] = s.Cfg.Estimator.K }
        writeJSON(w, 200, cfg)
    case http.MethodPut:
        var cfg map[string]any
        if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if mode, ok := cfg["mode"].(string); ok && mode != "" {
            if mode != score.ModeApprox && mode != score.ModeExact {
                writeProblem(w, http.StatusBadRequest, "Invalid estimator config", fmt.Sprintf("unknown mode %q", mode), r.URL.Path)
                return
            }
        }
        if kv, ok := cfg["k"]; ok {
            if k, isNum := kv.(float64); !isNum || k < 1 {
                writeProblem(w, http.StatusBadRequest, "Invalid estimator config", "k must be a number >= 1", r.URL.Path)
                return
            }
        }
        // persist first; SwapRuntime reads the override back from the store
        if err := s.Store.SaveEstimatorConfig(r.Context(), cfg); err != nil {
            writeProblem(w, http.StatusInternalServerError, "Save estimator config failed", err.Error(), r.URL.Path)
            return
        }
        if rt := s.Runtime(); rt != nil {
            if err := s.SwapRuntime(rt.Corpus, rt.Build); err != nil {
                writeProblem(w, http.StatusInternalServerError, "Apply estimator config failed", err.Error(), r.URL.Path)
                return
            }
        }
        writeJSON(w, 200, cfg)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// HealthHandler handles /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]any{"status": "ok"})
}

// ReadyHandler handles /readyz: ready once a corpus is loaded and the store
// answers.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    if pg, ok := s.Store.(*store.Postgres); ok {
        if err := pg.Ping(r.Context()); err != nil {
            writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unready", "reason": "database unreachable"})
            return
        }
    }
    if s.Runtime() == nil {
        writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unready", "reason": "no corpus loaded"})
        return
    }
    writeJSON(w, 200, map[string]any{"status": "ready"})
}
