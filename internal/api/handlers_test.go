package api

import (
    "bytes"
    "context"
    "encoding/json"
    "math"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "testing"
    "time"

    "sitescore/internal/auth"
    "sitescore/internal/config"
    "sitescore/internal/dataset"
    "sitescore/internal/model"
    "sitescore/internal/score"
    "sitescore/internal/store"
)

// newTestServer wires a server around an in-memory store and a tiny corpus:
// two cafes, with banks 200 m and 1200 m north of the first one. A linear
// model artifact is loaded so /v1/predict answers.
func newTestServer(t *testing.T) *Server {
    t.Helper()
    return newTestServerOpts(t, true)
}

func newTestServerOpts(t *testing.T, withModel bool) *Server {
    t.Helper()
    if withModel {
        path := filepath.Join(t.TempDir(), "model.json")
        artifact := []byte(`{"type":"linear","intercept":1.5,"coefficients":{"banks_count_1km":0.25}}`)
        if err := os.WriteFile(path, artifact, 0o644); err != nil { t.Fatalf("write model: %v", err) }
        t.Setenv("SITESCORE_MODEL", path)
    } else {
        t.Setenv("SITESCORE_MODEL", "")
    }
    s := &Server{
        Store:  store.NewMemory(),
        Auth:   auth.NewVerifierFromEnv(),
        Broker: NewBroker(),
        Cache:  NewPredictionCache(),
        Cfg:    config.Default(),
    }

    venues := dataset.NewTable([]string{"name", "lat", "lng", "rating", "reviewscount"})
    venues.Append([]string{"cafe_a", "12.900000", "77.600000", "4.5", "120"})
    venues.Append([]string{"cafe_b", "12.930000", "77.630000", "3.8", "40"})

    // ~200 m and ~1200 m north of cafe_a (1 deg lat ~ 111.32 km)
    banks := dataset.NewTable([]string{"name", "lat", "lng", "weight"})
    banks.Append([]string{"bank_near", "12.901797", "77.600000", "2.0"})
    banks.Append([]string{"bank_far", "12.910779", "77.600000", "1.0"})

    corpus, stats, err := score.Build(venues, map[string]*dataset.Table{"banks": banks}, s.Cfg.BuildParams())
    if err != nil { t.Fatalf("Build: %v", err) }
    rec := model.BuildRecord{
        ID:      corpus.BuildID,
        BuiltAt: corpus.BuiltAt.UTC().Format(time.RFC3339),
        RadiusM: corpus.RadiusM,
        Venues:  stats.Venues,
        POIs:    stats.POIs,
        Source:  "test",
    }
    ctx := context.Background()
    if err := s.Store.SaveCorpus(ctx, corpus, rec); err != nil { t.Fatalf("SaveCorpus: %v", err) }
    if err := s.Store.SaveBuildStats(ctx, corpus.BuildID, stats); err != nil { t.Fatalf("SaveBuildStats: %v", err) }
    if err := s.SwapRuntime(corpus, rec); err != nil { t.Fatalf("SwapRuntime: %v", err) }
    return s
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestReadyWithoutCorpus(t *testing.T) {
    s := &Server{Store: store.NewMemory(), Auth: auth.NewVerifierFromEnv(), Broker: NewBroker(), Cache: NewPredictionCache(), Cfg: config.Default()}
    rr := httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != http.StatusServiceUnavailable { t.Fatalf("ready without corpus: got %d", rr.Code) }
}

func TestPredict(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte(`{"lat":12.9,"lon":77.6}`)))
    s.PredictHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("predict: got %d body %s", rr.Code, rr.Body.String()) }
    var resp model.PredictResponse
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if !resp.Degraded { t.Fatal("expected degraded without a feature-name list") }
    // querying exactly on cafe_a copies its feature vector verbatim
    if got := resp.EstimatedFeatures["banks_count_1km"]; got != 2 {
        t.Fatalf("banks_count_1km: want 2, got %g", got)
    }
    if math.Abs(resp.PredictedScore-2.0) > 1e-9 {
        t.Fatalf("score: want 2.0, got %g", resp.PredictedScore)
    }
    if resp.RiskLevel != "Low" { t.Fatalf("risk: want Low, got %q", resp.RiskLevel) }

    // second call with the same point is served from the cache
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte(`{"lat":12.9,"lon":77.6}`)))
    s.PredictHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("cached predict: got %d", rr.Code) }
}

func TestPredictValidation(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.PredictHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte(`{"lat":123.0,"lon":0}`))))
    if rr.Code != 400 { t.Fatalf("out-of-range lat: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.PredictHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte(`not json`))))
    if rr.Code != 400 { t.Fatalf("bad json: got %d", rr.Code) }
}

func TestPredictWithoutModel(t *testing.T) {
    s := newTestServerOpts(t, false)
    rr := httptest.NewRecorder()
    s.PredictHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte(`{"lat":12.9,"lon":77.6}`))))
    if rr.Code != http.StatusServiceUnavailable {
        t.Fatalf("predict without model artifact: want 503, got %d body %s", rr.Code, rr.Body.String())
    }
}

func TestPredictWithoutRuntime(t *testing.T) {
    s := &Server{Store: store.NewMemory(), Auth: auth.NewVerifierFromEnv(), Broker: NewBroker(), Cache: NewPredictionCache(), Cfg: config.Default()}
    rr := httptest.NewRecorder()
    s.PredictHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte(`{"lat":12.9,"lon":77.6}`))))
    if rr.Code != http.StatusServiceUnavailable { t.Fatalf("predict without corpus: got %d", rr.Code) }
}

func TestPredictRequiresAnalyst(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte(`{"lat":12.9,"lon":77.6}`)))
    req.Header.Set("X-Subject", "guest")
    req.Header.Set("X-Role", "viewer")
    s.PredictHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer predict: got %d", rr.Code) }
}

func TestFeaturesHandler(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.FeaturesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/features?lat=12.9&lon=77.6", nil))
    if rr.Code != 200 { t.Fatalf("features: got %d body %s", rr.Code, rr.Body.String()) }
    var resp struct {
        Features map[string]float64 `json:"features"`
        Mode     string             `json:"mode"`
        BuildID  string             `json:"build_id"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if resp.Mode != score.ModeApprox { t.Fatalf("mode: got %q", resp.Mode) }
    if resp.BuildID == "" { t.Fatal("build_id missing") }
    if _, ok := resp.Features["total_poi_count_1km"]; !ok { t.Fatalf("engineered total missing: %v", resp.Features) }
}

func TestPOIsHandler(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.POIsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/pois?lat=12.9&lon=77.6&radius_m=500&categories=banks", nil))
    if rr.Code != 200 { t.Fatalf("pois: got %d", rr.Code) }
    var resp struct {
        Categories map[string][]model.NearbyPOI `json:"categories"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if got := len(resp.Categories["banks"]); got != 1 {
        t.Fatalf("banks within 500m: want 1, got %d", got)
    }
    if resp.Categories["banks"][0].Name != "bank_near" {
        t.Fatalf("unexpected POI: %+v", resp.Categories["banks"][0])
    }
}

func TestRingsAndCompetition(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.RingsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/analysis/rings?lat=12.9&lon=77.6&radii_m=500,1500", nil))
    if rr.Code != 200 { t.Fatalf("rings: got %d body %s", rr.Code, rr.Body.String()) }
    var rres struct {
        Rings []model.Ring `json:"rings"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &rres); err != nil { t.Fatalf("decode rings: %v", err) }
    if len(rres.Rings) != 2 { t.Fatalf("want 2 rings, got %d", len(rres.Rings)) }
    if got := rres.Rings[0].Categories["banks"].Count; got != 1 {
        t.Fatalf("banks in 500m ring: want 1, got %d", got)
    }
    if got := rres.Rings[1].Categories["banks"].Count; got != 2 {
        t.Fatalf("banks in 1500m ring: want 2, got %d", got)
    }

    rr = httptest.NewRecorder()
    s.RingsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/analysis/rings?lat=12.9&lon=77.6&radii_m=0,-5", nil))
    if rr.Code != 400 { t.Fatalf("bad radii: got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.CompetitionHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/analysis/competition?lat=12.9&lon=77.6&radius_m=1000", nil))
    if rr.Code != 200 { t.Fatalf("competition: got %d", rr.Code) }
    var cres model.CompetitionIndex
    if err := json.Unmarshal(rr.Body.Bytes(), &cres); err != nil { t.Fatalf("decode competition: %v", err) }
    if cres.VenueCount != 1 {
        t.Fatalf("venues within 1km: want 1 (cafe_a), got %d", cres.VenueCount)
    }
}

func TestCorpusListings(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.VenuesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/corpus/venues?limit=10", nil))
    if rr.Code != 200 { t.Fatalf("venues: got %d", rr.Code) }
    var vres struct {
        Items []model.Venue `json:"items"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &vres); err != nil { t.Fatalf("decode venues: %v", err) }
    if len(vres.Items) != 2 { t.Fatalf("want 2 venues, got %d", len(vres.Items)) }

    rr = httptest.NewRecorder()
    s.BuildsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/corpus/builds", nil))
    if rr.Code != 200 { t.Fatalf("builds: got %d", rr.Code) }
    var bres struct {
        Items         []model.BuildRecord `json:"items"`
        ActiveBuildID string              `json:"activeBuildId"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &bres); err != nil { t.Fatalf("decode builds: %v", err) }
    if len(bres.Items) != 1 || bres.ActiveBuildID != bres.Items[0].ID {
        t.Fatalf("active build mismatch: %+v", bres)
    }
}

func TestSubscriptionsCRUD(t *testing.T) {
    s := newTestServer(t)
    body := []byte(`{"url":"https://example.com/hook","events":["build.completed"],"secret":"shh"}`)
    rr := httptest.NewRecorder()
    s.SubscriptionsHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(body)))
    if rr.Code != http.StatusCreated { t.Fatalf("create sub: %d body %s", rr.Code, rr.Body.String()) }
    var sub model.Subscription
    if err := json.Unmarshal(rr.Body.Bytes(), &sub); err != nil { t.Fatalf("decode sub: %v", err) }

    rr = httptest.NewRecorder()
    s.SubscriptionsHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(`{"url":"https://x","events":["route.planned"]}`))))
    if rr.Code != 400 { t.Fatalf("unknown event type: got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.SubscriptionsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil))
    if rr.Code != 200 { t.Fatalf("list subs: %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
    if rr.Code != http.StatusNoContent { t.Fatalf("delete sub: %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
    if rr.Code != 404 { t.Fatalf("delete missing sub: %d", rr.Code) }
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
    s := newTestServer(t)
    handlers := map[string]http.HandlerFunc{
        "rebuild":    s.AdminRebuildHandler,
        "deliveries": s.WebhookDeliveriesHandler,
        "metrics":    s.BuildMetricsHandler,
        "estimator":  s.EstimatorConfigHandler,
    }
    for name, h := range handlers {
        rr := httptest.NewRecorder()
        req := httptest.NewRequest(http.MethodPost, "/v1/admin/x", nil)
        req.Header.Set("X-Subject", "guest")
        req.Header.Set("X-Role", "viewer")
        h(rr, req)
        if rr.Code != 403 {
            t.Fatalf("%s: viewer should get 403, got %d", name, rr.Code)
        }
    }
}

func TestBuildMetrics(t *testing.T) {
    s := newTestServer(t)
    rt := s.Runtime()
    rr := httptest.NewRecorder()
    s.BuildMetricsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/build-metrics?buildId="+rt.Build.ID, nil))
    if rr.Code != 200 { t.Fatalf("build metrics: got %d body %s", rr.Code, rr.Body.String()) }
    var resp struct {
        BuildID string           `json:"buildId"`
        Stats   score.BuildStats `json:"stats"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if resp.Stats.Venues != 2 { t.Fatalf("stats venues: want 2, got %d", resp.Stats.Venues) }
}

func TestEstimatorConfigRoundTrip(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.EstimatorConfigHandler(rr, httptest.NewRequest(http.MethodPut, "/v1/admin/estimator-config", bytes.NewReader([]byte(`{"mode":"exact","k":3}`))))
    if rr.Code != 200 { t.Fatalf("put estimator config: got %d body %s", rr.Code, rr.Body.String()) }
    if got := s.Runtime().Predictor.Est.Cfg.Mode; got != score.ModeExact {
        t.Fatalf("active estimator mode: want exact, got %q", got)
    }
    if got := s.Runtime().Predictor.Est.Cfg.K; got != 3 {
        t.Fatalf("active estimator k: want 3, got %d", got)
    }
    // the file config is never written; the override lives in the store
    if got := s.Cfg.Estimator.Mode; got != score.ModeApprox {
        t.Fatalf("file config mutated: got %q", got)
    }
    // the override survives a runtime swap, as it would a restart
    rt := s.Runtime()
    if err := s.SwapRuntime(rt.Corpus, rt.Build); err != nil { t.Fatalf("SwapRuntime: %v", err) }
    if got := s.Runtime().Predictor.Est.Cfg.Mode; got != score.ModeExact {
        t.Fatalf("mode after swap: want exact, got %q", got)
    }
    if got := s.Runtime().Predictor.Est.Cfg.K; got != 3 {
        t.Fatalf("k after swap: want 3, got %d", got)
    }

    rr = httptest.NewRecorder()
    s.EstimatorConfigHandler(rr, httptest.NewRequest(http.MethodPut, "/v1/admin/estimator-config", bytes.NewReader([]byte(`{"mode":"magic"}`))))
    if rr.Code != 400 { t.Fatalf("bad mode: got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.EstimatorConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/estimator-config", nil))
    if rr.Code != 200 { t.Fatalf("get estimator config: got %d", rr.Code) }
}

// sseRecorder implements http.Flusher so the SSE handler accepts it.
type sseRecorder struct {
    hdr  http.Header
    buf  bytes.Buffer
    code int
}

func (r *sseRecorder) Header() http.Header {
    if r.hdr == nil { r.hdr = http.Header{} }
    return r.hdr
}
func (r *sseRecorder) WriteHeader(c int)           { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush()                      {}

func TestEventsSSE(t *testing.T) {
    s := newTestServer(t)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    req := httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil).WithContext(ctx)

    rec := &sseRecorder{}
    done := make(chan struct{})
    go func() {
        s.EventsStreamHandler(rec, req)
        close(done)
    }()

    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish(eventsTopic, SSEEvent{Type: "build.completed", Data: map[string]any{"buildId": "b1"}})

    deadline := time.Now().Add(time.Second)
    for time.Now().Before(deadline) {
        if bytes.Contains(rec.buf.Bytes(), []byte("event: build.completed")) {
            break
        }
        time.Sleep(10 * time.Millisecond)
    }
    if !bytes.Contains(rec.buf.Bytes(), []byte("event: build.completed")) {
        t.Fatalf("SSE missing event, body: %s", rec.buf.String())
    }
    cancel()
    select {
    case <-done:
    case <-time.After(time.Second):
        t.Fatal("handler did not exit after cancel")
    }
}

func TestAdminRebuildValidation(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.AdminRebuildHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/rebuild", bytes.NewReader([]byte(`{"radius_m":-10}`))))
    if rr.Code != 400 { t.Fatalf("negative radius: got %d", rr.Code) }
}
