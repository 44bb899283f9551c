package main

import (
    "context"
    "encoding/json"
    "flag"
    "log"
    "os"
    "time"

    "sitescore/internal/config"
    "sitescore/internal/dataset"
    "sitescore/internal/model"
    "sitescore/internal/score"
    "sitescore/internal/store"
)

// Offline corpus builder. Reads raw venue and POI CSVs, runs the full scoring
// pass, and writes the corpus CSV and/or saves it to the database, so the API
// can start from a prebuilt corpus.
func main() {
    var (
        dataDir    = flag.String("data", "", "directory of per-category POI CSVs")
        venuesPath = flag.String("venues", "", "venue CSV path (default <data>/cafes.csv)")
        cfgPath    = flag.String("config", "", "sitescore.yaml path")
        outPath    = flag.String("out", "", "corpus CSV output path")
        radiusM    = flag.Float64("radius", 0, "aggregation radius in meters (overrides config)")
        save       = flag.Bool("save", false, "save the corpus to DATABASE_URL")
        statsOut   = flag.Bool("stats", false, "print build stats as JSON")
    )
    flag.Parse()
    if *dataDir == "" {
        log.Fatal("-data is required")
    }

    cfg, err := config.Load(*cfgPath)
    if err != nil {
        log.Fatalf("config: %v", err)
    }
    if *radiusM > 0 {
        cfg.RadiusM = *radiusM
    }

    src := dataset.DirSource{Dir: *dataDir, VenuesPath: *venuesPath}
    venues, err := src.Venues()
    if err != nil {
        log.Fatalf("venues: %v", err)
    }
    cats, err := src.Categories()
    if err != nil {
        log.Fatalf("categories: %v", err)
    }
    poiTables := map[string]*dataset.Table{}
    for _, name := range cats {
        t, err := src.Category(name)
        if err != nil {
            log.Fatalf("category %s: %v", name, err)
        }
        poiTables[name] = t
    }

    corpus, stats, err := score.Build(venues, poiTables, cfg.BuildParams())
    if err != nil {
        log.Fatalf("build: %v", err)
    }
    log.Printf("built corpus %s: %d venues, %d pois, radius %.0fm in %dms",
        corpus.BuildID, stats.Venues, stats.POIs, stats.RadiusM, stats.DurationMs)

    if *outPath != "" {
        if err := corpus.WriteCSVFile(*outPath); err != nil {
            log.Fatalf("write corpus csv: %v", err)
        }
        log.Printf("wrote %s", *outPath)
    }

    if *save {
        dsn := os.Getenv("DATABASE_URL")
        if dsn == "" {
            log.Fatal("-save requires DATABASE_URL")
        }
        pg, err := store.NewPostgres(dsn)
        if err != nil {
            log.Fatalf("connect: %v", err)
        }
        ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
        defer cancel()
        if err := pg.MigrateDir(ctx, "db/migrations"); err != nil {
            log.Fatalf("migrate: %v", err)
        }
        rec := model.BuildRecord{
            ID:      corpus.BuildID,
            BuiltAt: corpus.BuiltAt.UTC().Format(time.RFC3339),
            RadiusM: corpus.RadiusM,
            Venues:  stats.Venues,
            POIs:    stats.POIs,
            Source:  src.Name(),
        }
        if err := pg.SaveCorpus(ctx, corpus, rec); err != nil {
            log.Fatalf("save corpus: %v", err)
        }
        if err := pg.SaveBuildStats(ctx, corpus.BuildID, stats); err != nil {
            log.Fatalf("save stats: %v", err)
        }
        log.Printf("saved build %s", corpus.BuildID)
    }

    if *statsOut {
        enc := json.NewEncoder(os.Stdout)
        enc.SetIndent("", "  ")
        _ = enc.Encode(stats)
    }
}
