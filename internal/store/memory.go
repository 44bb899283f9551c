package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "sitescore/internal/model"
    "sitescore/internal/score"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu      sync.Mutex
    corpora map[string]*score.Corpus      // buildId -> corpus
    records map[string]model.BuildRecord  // buildId -> record
    order   []string                      // build ids, oldest first
    stats   map[string]score.BuildStats   // buildId -> stats
    subs    []model.Subscription
    // Webhooks queue state
    deliveries map[string]*memDelivery    // id -> delivery state
    order2     []string                   // delivery ids, enqueue order
    estCfg     map[string]any
}

func NewMemory() *Memory {
    return &Memory{
        corpora: map[string]*score.Corpus{},
        records: map[string]model.BuildRecord{},
        stats: map[string]score.BuildStats{},
        deliveries: map[string]*memDelivery{},
        estCfg: map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) SaveCorpus(ctx context.Context, c *score.Corpus, rec model.BuildRecord) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if rec.ID == "" { rec.ID = c.BuildID }
    m.corpora[rec.ID] = c
    m.records[rec.ID] = rec
    m.order = append(m.order, rec.ID)
    return nil
}

func (m *Memory) LatestCorpus(ctx context.Context) (*score.Corpus, model.BuildRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if len(m.order) == 0 { return nil, model.BuildRecord{}, ErrNotFound }
    id := m.order[len(m.order)-1]
    return m.corpora[id], m.records[id], nil
}

func (m *Memory) ListBuilds(ctx context.Context, cursor string, limit int) ([]model.BuildRecord, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    // newest first
    ids := make([]string, len(m.order))
    for i, id := range m.order { ids[len(m.order)-1-i] = id }
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    out := []model.BuildRecord{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.records[ids[i]])
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) ListVenues(ctx context.Context, cursor string, limit int) ([]model.Venue, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if len(m.order) == 0 { return nil, "", ErrNotFound }
    c := m.corpora[m.order[len(m.order)-1]]
    if limit <= 0 { limit = 100 }
    start := 0
    if cursor != "" {
        for i := range c.Venues {
            if c.Venues[i].Name == cursor { start = i + 1; break }
        }
    }
    out := []model.Venue{}
    var next string
    for i := start; i < len(c.Venues) && len(out) < limit; i++ {
        out = append(out, c.Venues[i])
        next = c.Venues[i].Name
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) SaveBuildStats(ctx context.Context, buildID string, stats score.BuildStats) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.stats[buildID] = stats
    return nil
}

func (m *Memory) GetBuildStats(ctx context.Context, buildID string) (score.BuildStats, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s, ok := m.stats[buildID]
    if !ok { return score.BuildStats{}, ErrNotFound }
    return s, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs = append(m.subs, sub)
    return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, s := range m.subs {
        for _, e := range s.Events {
            if e == eventType || e == "*" { out = append(out, s); break }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    start := 0
    if cursor != "" {
        for i, s := range m.subs {
            if s.ID == cursor { start = i + 1; break }
        }
    }
    out := []model.Subscription{}
    var next string
    for i := start; i < len(m.subs) && len(out) < limit; i++ {
        out = append(out, m.subs[i])
        next = m.subs[i].ID
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    for i, s := range m.subs {
        if s.ID == id {
            m.subs = append(m.subs[:i], m.subs[i+1:]...)
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{
        ID: id, SubscriptionID: subscriptionID, EventType: eventType,
        URL: url, Secret: secret, Payload: payload, Status: "pending",
    }, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.order2 = append(m.order2, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 50 }
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.order2 {
        d := m.deliveries[id]
        if d == nil || d.Status != "pending" || d.NextAttemptAt.After(now) { continue }
        out = append(out, d.WebhookDelivery)
        if len(out) >= limit { break }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Attempts++
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        now := time.Now()
        d.Status = "delivered"
        d.DeliveredAt = &now
    } else if nextAttemptAt != nil {
        d.NextAttemptAt = *nextAttemptAt
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Attempts++
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    start := 0
    if cursor != "" {
        for i, id := range m.order2 {
            if id == cursor { start = i + 1; break }
        }
    }
    out := []map[string]any{}
    var next string
    for i := start; i < len(m.order2) && len(out) < limit; i++ {
        d := m.deliveries[m.order2[i]]
        if d == nil { continue }
        if status != "" && d.Status != status { continue }
        out = append(out, map[string]any{
            "id": d.ID, "subscriptionId": d.SubscriptionID, "eventType": d.EventType,
            "url": d.URL, "status": d.Status, "attempts": d.Attempts,
            "lastError": d.LastError, "responseCode": d.ResponseCode, "latencyMs": d.LatencyMs,
        })
        next = d.ID
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Status = "pending"
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) GetEstimatorConfig(ctx context.Context) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := map[string]any{}
    for k, v := range m.estCfg { out[k] = v }
    return out, nil
}

func (m *Memory) SaveEstimatorConfig(ctx context.Context, cfg map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.estCfg = map[string]any{}
    for k, v := range cfg { m.estCfg[k] = v }
    return nil
}
