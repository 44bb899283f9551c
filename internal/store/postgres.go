package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "sitescore/internal/model"
    "sitescore/internal/score"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
    return p.db.PingContext(ctx)
}

// MigrateDir applies every .sql file in dir in lexical order. There is no
// version table; migrations must be idempotent (IF NOT EXISTS).
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") { continue }
        names = append(names, e.Name())
    }
    sort.Strings(names)
    for _, name := range names {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return err }
        if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", name, err)
        }
    }
    return nil
}

// SaveCorpus stores the build record, the corpus snapshot as JSONB and one
// row per venue for listing.
func (p *Postgres) SaveCorpus(ctx context.Context, c *score.Corpus, rec model.BuildRecord) error {
    if rec.ID == "" { rec.ID = c.BuildID }
    blob, err := json.Marshal(c)
    if err != nil { return err }
    builtAt := c.BuiltAt
    if builtAt.IsZero() { builtAt = time.Now().UTC() }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO corpus_builds (id, built_at, radius_m, venues, pois, source, corpus) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
        rec.ID, builtAt, rec.RadiusM, rec.Venues, rec.POIs, nullIfEmpty(rec.Source), blob)
    if err != nil { return err }
    for i := range c.Venues {
        v := &c.Venues[i]
        _, err = tx.ExecContext(ctx, `INSERT INTO venues (id, build_id, name, lat, lng, intrinsic, venue_weight, neighbor_weight, neighbor_count, composite, attrs, features)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
            uuid.New(), rec.ID, v.Name, v.Lat, v.Lng, v.Intrinsic, v.VenueWeight, v.NeighborWeight, v.NeighborCount, v.Composite, toJSON(v.Attrs), toJSON(v.Features))
        if err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) LatestCorpus(ctx context.Context) (*score.Corpus, model.BuildRecord, error) {
    var rec model.BuildRecord
    var source sql.NullString
    var builtAt time.Time
    var blob []byte
    row := p.db.QueryRowContext(ctx, `SELECT id::text, built_at, radius_m, venues, pois, source, corpus FROM corpus_builds ORDER BY built_at DESC LIMIT 1`)
    if err := row.Scan(&rec.ID, &builtAt, &rec.RadiusM, &rec.Venues, &rec.POIs, &source, &blob); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, rec, ErrNotFound }
        return nil, rec, err
    }
    rec.BuiltAt = builtAt.UTC().Format(time.RFC3339)
    rec.Source = source.String
    var c score.Corpus
    if err := json.Unmarshal(blob, &c); err != nil { return nil, rec, fmt.Errorf("decode corpus %s: %w", rec.ID, err) }
    return &c, rec, nil
}

func (p *Postgres) ListBuilds(ctx context.Context, cursor string, limit int) ([]model.BuildRecord, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, built_at, radius_m, venues, pois, source FROM corpus_builds WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, built_at, radius_m, venues, pois, source FROM corpus_builds ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.BuildRecord{}
    var last string
    for rows.Next() {
        var r model.BuildRecord
        var source sql.NullString
        var builtAt time.Time
        if err := rows.Scan(&r.ID, &builtAt, &r.RadiusM, &r.Venues, &r.POIs, &source); err != nil { return nil, "", err }
        r.BuiltAt = builtAt.UTC().Format(time.RFC3339)
        r.Source = source.String
        out = append(out, r)
        last = r.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) ListVenues(ctx context.Context, cursor string, limit int) ([]model.Venue, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var buildID string
    err := p.db.QueryRowContext(ctx, `SELECT id::text FROM corpus_builds ORDER BY built_at DESC LIMIT 1`).Scan(&buildID)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, "", ErrNotFound }
        return nil, "", err
    }
    var rows *sql.Rows
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT name, lat, lng, intrinsic, venue_weight, neighbor_weight, neighbor_count, composite, attrs, features FROM venues WHERE build_id=$1 AND name > $2 ORDER BY name LIMIT $3`, buildID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT name, lat, lng, intrinsic, venue_weight, neighbor_weight, neighbor_count, composite, attrs, features FROM venues WHERE build_id=$1 ORDER BY name LIMIT $2`, buildID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Venue{}
    var last string
    for rows.Next() {
        var v model.Venue
        var attrs, feats []byte
        if err := rows.Scan(&v.Name, &v.Lat, &v.Lng, &v.Intrinsic, &v.VenueWeight, &v.NeighborWeight, &v.NeighborCount, &v.Composite, &attrs, &feats); err != nil { return nil, "", err }
        if len(attrs) > 0 { _ = json.Unmarshal(attrs, &v.Attrs) }
        if len(feats) > 0 { _ = json.Unmarshal(feats, &v.Features) }
        out = append(out, v)
        last = v.Name
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) SaveBuildStats(ctx context.Context, buildID string, stats score.BuildStats) error {
    blob, err := json.Marshal(stats)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO build_stats (build_id, stats, created_at) VALUES ($1,$2,now())
        ON CONFLICT (build_id) DO UPDATE SET stats=$2, created_at=now()`, buildID, blob)
    return err
}

func (p *Postgres) GetBuildStats(ctx context.Context, buildID string) (score.BuildStats, error) {
    var blob []byte
    err := p.db.QueryRowContext(ctx, `SELECT stats FROM build_stats WHERE build_id=$1`, buildID).Scan(&blob)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return score.BuildStats{}, ErrNotFound }
        return score.BuildStats{}, err
    }
    var s score.BuildStats
    if err := json.Unmarshal(blob, &s); err != nil { return score.BuildStats{}, err }
    return s, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb`, fmt.Sprintf("[\"%s\"]", eventType))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, err := res.RowsAffected(); err == nil && n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        var payload []byte
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        d.Payload = payload
        out = append(out, d)
    }
    return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
        id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    base := `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_deliveries`
    args := []any{}
    idx := 1
    where := []string{}
    if status != "" { where = append(where, fmt.Sprintf("status=$%d", idx)); args = append(args, status); idx++ }
    if cursor != "" { where = append(where, fmt.Sprintf("id::text > $%d", idx)); args = append(args, cursor); idx++ }
    q := base
    if len(where) > 0 { q += " WHERE " + strings.Join(where, " AND ") }
    q += fmt.Sprintf(" ORDER BY id LIMIT $%d", idx)
    args = append(args, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, subID, typ, url, st, lastErr string
        var attempts, code, latency int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &subID, &typ, &url, &st, &attempts, &nextAt, &lastErr, &code, &latency); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "subscriptionId": subID, "eventType": typ, "url": url, "status": st, "attempts": attempts, "responseCode": code, "latencyMs": latency}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
    if err != nil { return err }
    if n, err := res.RowsAffected(); err == nil && n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) GetEstimatorConfig(ctx context.Context) (map[string]any, error) {
    row := p.db.QueryRowContext(ctx, `SELECT config FROM runtime_config WHERE key='estimator'`)
    var js []byte
    if err := row.Scan(&js); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, nil }
        return nil, err
    }
    var cfg map[string]any
    if err := json.Unmarshal(js, &cfg); err != nil { return nil, err }
    return cfg, nil
}

func (p *Postgres) SaveEstimatorConfig(ctx context.Context, cfg map[string]any) error {
    blob, err := json.Marshal(cfg)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO runtime_config (key, config, updated_at) VALUES ('estimator', $1, now())
        ON CONFLICT (key) DO UPDATE SET config=$1, updated_at=now()`, blob)
    return err
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}

func toJSON(v any) []byte {
    if v == nil { return []byte("{}") }
    b, err := json.Marshal(v)
    if err != nil { return []byte("{}") }
    return b
}
