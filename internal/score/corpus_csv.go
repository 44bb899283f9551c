package score

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitescore/internal/model"
)

// Fixed leading columns of the corpus CSV; feature columns follow in sorted
// order. The reader keys on these names, so renames are format changes.
var corpusFixedCols = []string{
	"name", "lat", "lng",
	"intrinsic_score", "venue_weight", "neighbor_weight", "neighbor_count", "composite_score",
}

// WriteCSV serializes the venue corpus (attributes, features, scores) in the
// reference output schema. POI snapshots are not part of the CSV; a corpus
// reloaded from CSV supports approximate estimation only.
func (c *Corpus) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	features := c.FeatureKeys()
	header := append(append([]string{}, corpusFixedCols...), features...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range c.Venues {
		v := &c.Venues[i]
		row := []string{
			v.Name,
			fmtFloat(v.Lat), fmtFloat(v.Lng),
			fmtFloat(v.Intrinsic), fmtFloat(v.VenueWeight), fmtFloat(v.NeighborWeight),
			strconv.Itoa(v.NeighborCount), fmtFloat(v.Composite),
		}
		for _, k := range features {
			if fv, ok := v.Features[k]; ok {
				row = append(row, fmtFloat(fv))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the corpus CSV to a file path.
func (c *Corpus) WriteCSVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WriteCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadCorpusCSV reconstructs a venue-only corpus from a CSV previously
// produced by WriteCSV. radiusM must match the radius the corpus was built
// with (0 means the 1500 m default); missing features are backfilled.
func ReadCorpusCSV(r io.Reader, radiusM float64) (*Corpus, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read corpus header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, need := range []string{"lat", "lng"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("corpus csv: column %q missing", need)
		}
	}
	fixed := map[string]bool{}
	for _, f := range corpusFixedCols {
		fixed[f] = true
	}

	if radiusM <= 0 {
		radiusM = 1500
	}
	c := &Corpus{
		BuildID: uuid.New().String(),
		BuiltAt: time.Now().UTC(),
		RadiusM: radiusM,
		Suffix:  RadiusSuffix(radiusM),
	}
	get := func(rec []string, name string) float64 {
		i, ok := col[name]
		if !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
			return math.NaN()
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return math.NaN()
		}
		return v
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read corpus row: %w", err)
		}
		v := model.Venue{
			Lat:      get(rec, "lat"),
			Lng:      get(rec, "lng"),
			Features: map[string]float64{},
		}
		if i, ok := col["name"]; ok && i < len(rec) {
			v.Name = strings.TrimSpace(rec[i])
		}
		if x := get(rec, "intrinsic_score"); !math.IsNaN(x) {
			v.Intrinsic = x
		}
		if x := get(rec, "venue_weight"); !math.IsNaN(x) {
			v.VenueWeight = x
		}
		if x := get(rec, "neighbor_weight"); !math.IsNaN(x) {
			v.NeighborWeight = x
		}
		if x := get(rec, "neighbor_count"); !math.IsNaN(x) {
			v.NeighborCount = int(x)
		}
		if x := get(rec, "composite_score"); !math.IsNaN(x) {
			v.Composite = x
		}
		for name, i := range col {
			if fixed[name] || i >= len(rec) {
				continue
			}
			if x := get(rec, name); !math.IsNaN(x) {
				v.Features[name] = x
			}
		}
		// lat/lng are both fixed columns and feature keys
		if !math.IsNaN(v.Lat) {
			v.Features["lat"] = v.Lat
		}
		if !math.IsNaN(v.Lng) {
			v.Features["lng"] = v.Lng
		}
		c.Venues = append(c.Venues, v)
	}
	c.FillDefaults()
	return c, nil
}

// ReadCorpusCSVFile loads a corpus CSV from disk.
func ReadCorpusCSVFile(path string, radiusM float64) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadCorpusCSV(f, radiusM)
}

func fmtFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
