package model

// Core domain types for the site suitability engine.

// Venue is one reference venue in the scored corpus. Attrs holds the raw
// optional source attributes that survived schema resolution (rating,
// reviews, weeklyHours, rank). Features holds the computed per-category
// aggregates keyed by column name (e.g. banks_count_1km).
type Venue struct {
    Name           string             `json:"name,omitempty"`
    Lat            float64            `json:"lat"`
    Lng            float64            `json:"lng"`
    Attrs          map[string]float64 `json:"attrs,omitempty"`
    Features       map[string]float64 `json:"features"`
    Intrinsic      float64            `json:"intrinsicScore"`
    VenueWeight    float64            `json:"venueWeight"`
    NeighborWeight float64            `json:"neighborWeight"`
    NeighborCount  int                `json:"neighborCount"`
    Composite      float64            `json:"compositeScore"`
}

// BuildRecord describes one completed corpus build.
type BuildRecord struct {
    ID      string  `json:"id"`
    BuiltAt string  `json:"builtAt"`
    RadiusM float64 `json:"radiusM"`
    Venues  int     `json:"venues"`
    POIs    int     `json:"pois"`
    Source  string  `json:"source,omitempty"`
}

// Suitability query contract. Field names follow the public API, which is
// snake_case for historical compatibility with existing clients.
type PredictRequest struct {
    Lat float64 `json:"lat"`
    Lon float64 `json:"lon"`
}

type PredictResponse struct {
    PredictedScore    float64            `json:"predicted_score"`
    RiskLevel         string             `json:"risk_level"`
    EstimatedFeatures map[string]float64 `json:"estimated_features"`
    Mode              string             `json:"mode,omitempty"`
    Degraded          bool               `json:"degraded,omitempty"`
}

// NearbyPOI is one entry in a POI lookup response.
type NearbyPOI struct {
    Name        string  `json:"name,omitempty"`
    Lat         float64 `json:"lat"`
    Lng         float64 `json:"lng"`
    DistanceKm  float64 `json:"distance_km"`
    Weight      float64 `json:"weight"`
    Subcategory string  `json:"subcategory,omitempty"`
}

// RingCategory summarizes one POI category inside a ring.
type RingCategory struct {
    Count     int     `json:"count"`
    SumWeight float64 `json:"sum_weight"`
    AvgDistM  float64 `json:"avg_dist_m,omitempty"`
    MinDistM  float64 `json:"min_dist_m,omitempty"`
    Share     float64 `json:"share"`
}

// Ring summarizes everything within one radius around a query point.
type Ring struct {
    RadiusKm   float64                 `json:"radius_km"`
    TotalCount int                     `json:"total_count"`
    Categories map[string]RingCategory `json:"categories"`
}

// CompetitionIndex describes venue density around a query point.
type CompetitionIndex struct {
    RadiusKm      float64 `json:"radius_km"`
    VenueCount    int     `json:"venue_count"`
    VenueWeight   float64 `json:"venue_weight"`
    TotalPOICount int     `json:"total_poi_count"`
    VenueShare    float64 `json:"venue_share"`
    VenuesPerSqKm float64 `json:"venues_per_sqkm"`
}

// Webhook subscriptions.
type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}

type Subscription struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}
