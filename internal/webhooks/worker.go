package webhooks

import (
    "bytes"
    "context"
    "net/http"
    "time"

    "sitescore/internal/metrics"
    "sitescore/internal/store"
    "os"
    "strconv"
)

// Worker drains due webhook deliveries on a fixed tick. Retries back off
// exponentially; after MaxAttempts the delivery is marked failed for good.
type Worker struct {
    Store store.Store
    HTTP  *http.Client
    Stop  chan struct{}
    MaxAttempts int
}

func NewWorker(s store.Store) *Worker {
    max := 10
    if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" { if n,err := strconv.Atoi(v); err == nil && n>0 { max = n } }
    return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Stop: make(chan struct{}), MaxAttempts: max}
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(1 * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.drainDue()
            }
        }
    }()
}

func (w *Worker) drainDue() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
    if err != nil { return }
    for _, it := range items {
        code, latency, sendErr := w.send(ctx, it)
        success := sendErr == nil && code >= 200 && code < 300
        lastErr := ""
        if sendErr != nil { lastErr = sendErr.Error() }

        outcome := "delivered"
        switch {
        case success:
        case it.Attempts+1 >= w.MaxAttempts:
            outcome = "failed"
        default:
            outcome = "retry"
        }
        metrics.WebhookDeliveries.WithLabelValues(it.EventType, outcome).Inc()
        metrics.WebhookLatency.WithLabelValues(it.EventType, outcome).Observe(float64(latency))

        if outcome == "failed" {
            _ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
            continue
        }
        next := time.Now().Add(nextBackoff(it.Attempts))
        _ = w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency)
    }
}

// send posts one delivery and reports the response code and latency. A
// non-nil error means the request never completed.
func (w *Worker) send(ctx context.Context, it store.WebhookDelivery) (code, latencyMs int, err error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
    if err != nil { return 0, 0, err }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Event-Type", it.EventType)
    if it.Secret != "" { req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload)) }
    start := time.Now()
    resp, err := w.HTTP.Do(req)
    latencyMs = int(time.Since(start).Milliseconds())
    if err != nil { return 0, latencyMs, err }
    if resp.Body != nil { _ = resp.Body.Close() }
    return resp.StatusCode, latencyMs, nil
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
