package api

import (
    "math"
    "testing"

    "sitescore/internal/model"
)

func TestValidatePredictRequest(t *testing.T) {
    cases := []struct {
        name    string
        lat     float64
        lon     float64
        wantErr bool
    }{
        {"ok", 12.9, 77.6, false},
        {"lat north pole", 90, 0, false},
        {"lat too big", 90.1, 0, true},
        {"lat too small", -90.1, 0, true},
        {"lon wraps", 0, 180.5, true},
        {"lon min", 0, -180, false},
        {"nan lat", math.NaN(), 0, true},
        {"inf lon", 0, math.Inf(1), true},
    }
    for _, tc := range cases {
        req := model.PredictRequest{Lat: tc.lat, Lon: tc.lon}
        err := validatePredictRequest(&req)
        if (err != nil) != tc.wantErr {
            t.Errorf("%s: got err=%v, wantErr=%v", tc.name, err, tc.wantErr)
        }
    }
}

func TestValidateSubscriptionRequest(t *testing.T) {
    ok := model.SubscriptionRequest{URL: "https://example.com/hook", Events: []string{"build.completed", "corpus.swapped"}}
    if err := validateSubscriptionRequest(&ok); err != nil {
        t.Fatalf("valid request rejected: %v", err)
    }
    wild := model.SubscriptionRequest{URL: "https://example.com/hook", Events: []string{"*"}}
    if err := validateSubscriptionRequest(&wild); err != nil {
        t.Fatalf("wildcard rejected: %v", err)
    }
    noURL := model.SubscriptionRequest{Events: []string{"build.completed"}}
    if err := validateSubscriptionRequest(&noURL); err == nil {
        t.Fatal("missing url accepted")
    }
    noEvents := model.SubscriptionRequest{URL: "https://example.com/hook"}
    if err := validateSubscriptionRequest(&noEvents); err == nil {
        t.Fatal("empty events accepted")
    }
    unknown := model.SubscriptionRequest{URL: "https://example.com/hook", Events: []string{"order.created"}}
    if err := validateSubscriptionRequest(&unknown); err == nil {
        t.Fatal("unknown event type accepted")
    }
}
