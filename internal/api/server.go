package api

import (
    "context"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"

    "sitescore/internal/auth"
    "sitescore/internal/config"
    "sitescore/internal/metrics"
    "sitescore/internal/mlmodel"
    "sitescore/internal/model"
    "sitescore/internal/score"
    "sitescore/internal/store"
    "sitescore/internal/webhooks"
)

// Runtime bundles everything derived from one corpus build. The server swaps
// the whole bundle atomically on rebuild; requests in flight keep the corpus
// they started with.
type Runtime struct {
    Corpus       *score.Corpus
    Build        model.BuildRecord
    Predictor    *score.Predictor
    FeatureNames []string
    Degraded     bool
    LoadedAt     time.Time
}

type Server struct {
    Store  store.Store
    Pub    *webhooks.Publisher
    Auth   *auth.Verifier
    Broker EventBroker
    Cache  *PredictionCache
    Cfg    config.Config

    runtime atomic.Pointer[Runtime]
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
    cfg, err := config.Load(os.Getenv("SITESCORE_CONFIG"))
    if err != nil {
        return nil, err
    }
    dsn := os.Getenv("DATABASE_URL")
    var s store.Store
    if strings.TrimSpace(dsn) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(dsn)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            _ = sp.MigrateDir(context.Background(), "db/migrations")
        }
        s = sp
    }
    // Broker selection
    var broker EventBroker
    if os.Getenv("REDIS_URL") != "" {
        if rb, err := NewRedisBroker(); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }
    srv := &Server{
        Store:  s,
        Pub:    webhooks.NewPublisher(s),
        Auth:   auth.NewVerifierFromEnv(),
        Broker: broker,
        Cache:  NewPredictionCache(),
        Cfg:    cfg,
    }
    srv.loadInitialRuntime()
    return srv, nil
}

// loadInitialRuntime tries, in order: the latest persisted corpus, then a
// corpus CSV on disk, then a fresh build from the raw data directory. The
// server still starts with no runtime; /v1/predict returns 503 until a
// rebuild succeeds.
func (s *Server) loadInitialRuntime() {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    if c, rec, err := s.Store.LatestCorpus(ctx); err == nil {
        if err := s.SwapRuntime(c, rec); err != nil {
            log.Printf("stored corpus unusable: %v", err)
        } else {
            return
        }
    }
    if path := os.Getenv("SITESCORE_CORPUS_CSV"); path != "" {
        c, err := score.ReadCorpusCSVFile(path, s.Cfg.RadiusM)
        if err != nil {
            log.Printf("corpus csv load failed: %v", err)
        } else {
            rec := model.BuildRecord{ID: c.BuildID, BuiltAt: c.BuiltAt.UTC().Format(time.RFC3339), RadiusM: c.RadiusM, Venues: len(c.Venues), Source: "csv:" + path}
            if err := s.SwapRuntime(c, rec); err == nil {
                return
            }
        }
    }
    if dir := os.Getenv("SITESCORE_DATA_DIR"); dir != "" {
        if _, err := s.Rebuild(ctx, 0); err != nil {
            log.Printf("initial build failed: %v", err)
        }
    }
}

// Runtime returns the active runtime, or nil before the first successful
// build.
func (s *Server) Runtime() *Runtime {
    return s.runtime.Load()
}

// estimatorConfig merges the admin-set override persisted in the store over
// the file defaults. s.Cfg itself is never written after startup.
func (s *Server) estimatorConfig() score.EstimatorConfig {
    ec := s.Cfg.EstimatorConfig()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    ov, err := s.Store.GetEstimatorConfig(ctx)
    if err != nil || len(ov) == 0 {
        return ec
    }
    if m, ok := ov["mode"].(string); ok && m != "" {
        ec.Mode = m
    }
    switch k := ov["k"].(type) {
    case float64:
        if k >= 1 { ec.K = int(k) }
    case int:
        if k >= 1 { ec.K = k }
    }
    return ec
}

// SwapRuntime wires a corpus into a fresh predictor and installs it as the
// active runtime. A missing model artifact leaves Predictor.Model nil; the
// predict endpoint answers 503 until an artifact loads.
func (s *Server) SwapRuntime(c *score.Corpus, rec model.BuildRecord) error {
    est, err := score.NewEstimator(c, s.estimatorConfig())
    if err != nil {
        return err
    }
    rt := &Runtime{Corpus: c, Build: rec, LoadedAt: time.Now().UTC()}
    p := &score.Predictor{Est: est, Risk: s.Cfg.RiskThresholds()}
    if path := os.Getenv("SITESCORE_MODEL"); path != "" {
        m, err := mlmodel.Load(path)
        if err != nil {
            log.Printf("model artifact load failed, predictions unavailable: %v", err)
        } else {
            p.Model = m
        }
    }
    if path := os.Getenv("SITESCORE_FEATURES"); path != "" {
        names, err := mlmodel.LoadFeatureNames(path)
        if err != nil {
            log.Printf("feature names load failed, running degraded: %v", err)
        } else {
            p.Features = names
            rt.FeatureNames = names
        }
    }
    rt.Degraded = len(p.Features) == 0
    rt.Predictor = p
    s.runtime.Store(rt)
    s.Cache.Clear()
    metrics.CorpusVenues.Set(float64(len(c.Venues)))
    return nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}
