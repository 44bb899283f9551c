package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Predictions counts suitability predictions by estimator mode and risk bucket
    Predictions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "predictions_total", Help: "Suitability predictions by mode and risk level."},
        []string{"mode", "risk"},
    )
    // PredictDuration records end-to-end prediction latency in seconds
    PredictDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "predict_duration_seconds", Help: "Prediction latency in seconds.", Buckets: prometheus.DefBuckets},
    )
    // BuildDuration records corpus build durations in seconds
    BuildDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "corpus_build_duration_seconds", Help: "Corpus build duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}},
    )
    // CorpusVenues tracks the venue count of the active corpus
    CorpusVenues = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "corpus_venues", Help: "Venues in the active corpus."},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Predictions)
        Registry.MustRegister(PredictDuration)
        Registry.MustRegister(BuildDuration)
        Registry.MustRegister(CorpusVenues)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
