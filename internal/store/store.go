package store

import (
    "context"
    "errors"
    "time"

    "sitescore/internal/model"
    "sitescore/internal/score"
)

// Store is the persistence interface used by the API server and the offline
// builder. The corpus is replaced wholesale per build; nothing mutates a
// stored corpus in place.
type Store interface {
    // Corpus
    SaveCorpus(ctx context.Context, c *score.Corpus, rec model.BuildRecord) error
    LatestCorpus(ctx context.Context) (*score.Corpus, model.BuildRecord, error)
    ListBuilds(ctx context.Context, cursor string, limit int) ([]model.BuildRecord, string, error)
    ListVenues(ctx context.Context, cursor string, limit int) ([]model.Venue, string, error)

    // Build stats
    SaveBuildStats(ctx context.Context, buildID string, stats score.BuildStats) error
    GetBuildStats(ctx context.Context, buildID string) (score.BuildStats, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, id string) error

    // Estimator runtime config overrides (admin-set)
    GetEstimatorConfig(ctx context.Context) (map[string]any, error)
    SaveEstimatorConfig(ctx context.Context, cfg map[string]any) error
}

// WebhookDelivery is one pending or settled delivery attempt row, as handed
// to the webhook worker.
type WebhookDelivery struct {
    ID             string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

var ErrNotFound = errors.New("not found")
