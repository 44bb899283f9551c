//go:build postgres_integration

package store

import (
    "os"
    "testing"
    "time"

    "sitescore/internal/model"
    "sitescore/internal/score"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.MigrateDir(t.Context(), "../../db/migrations"); err != nil { t.Fatalf("MigrateDir: %v", err) }

    c := &score.Corpus{
        BuildID: "00000000-0000-0000-0000-000000000001",
        BuiltAt: time.Now().UTC(),
        RadiusM: 1500,
        Suffix:  "_1km",
        Venues: []model.Venue{{Name: "it_venue", Lat: 12.9, Lng: 77.6, Features: map[string]float64{"venue_weight": 0.5}}},
    }
    rec := model.BuildRecord{ID: c.BuildID, BuiltAt: c.BuiltAt.Format(time.RFC3339), RadiusM: c.RadiusM, Venues: 1, Source: "integration"}
    if err := p.SaveCorpus(t.Context(), c, rec); err != nil { t.Fatalf("SaveCorpus: %v", err) }
    got, gotRec, err := p.LatestCorpus(t.Context())
    if err != nil { t.Fatalf("LatestCorpus: %v", err) }
    if gotRec.ID != rec.ID || len(got.Venues) != 1 { t.Fatalf("round trip mismatch: %+v", gotRec) }
    if _, _, err := p.ListVenues(t.Context(), "", 10); err != nil { t.Fatalf("ListVenues: %v", err) }
}
