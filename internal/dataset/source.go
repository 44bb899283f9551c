package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source supplies per-category POI tables and the venue table for a build.
type Source interface {
	Name() string
	Categories() ([]string, error)
	Category(name string) (*Table, error)
	Venues() (*Table, error)
}

// DirSource reads tables from a directory of CSV files, one per category.
// A trailing "_final" suffix on file names is tolerated because the raw
// exports carry it. The venue table may live in the same directory or at an
// explicit path.
type DirSource struct {
	Dir        string
	VenuesPath string
	// VenueCategory names the CSV treated as the venue table when
	// VenuesPath is unset (default "cafes").
	VenueCategory string
}

func (d DirSource) Name() string { return "dir:" + d.Dir }

func (d DirSource) venueCategory() string {
	if d.VenueCategory != "" {
		return d.VenueCategory
	}
	return "cafes"
}

func (d DirSource) Categories() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		name = strings.TrimSuffix(strings.ToLower(name), "_final")
		if name == d.venueCategory() {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (d DirSource) Category(name string) (*Table, error) {
	p, err := d.findCSV(name)
	if err != nil {
		return nil, err
	}
	return ReadCSVFile(p)
}

func (d DirSource) Venues() (*Table, error) {
	if d.VenuesPath != "" {
		return ReadCSVFile(d.VenuesPath)
	}
	p, err := d.findCSV(d.venueCategory())
	if err != nil {
		return nil, err
	}
	return ReadCSVFile(p)
}

// findCSV prefers an exact "<name>.csv" match, then "<name>_final.csv",
// then any CSV whose base name contains the category name.
func (d DirSource) findCSV(name string) (string, error) {
	name = strings.ToLower(name)
	exact := filepath.Join(d.Dir, name+".csv")
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}
	final := filepath.Join(d.Dir, name+"_final.csv")
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := strings.ToLower(e.Name())
		if strings.HasSuffix(base, ".csv") && strings.Contains(base, name) {
			return filepath.Join(d.Dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no csv for category %q in %s", name, d.Dir)
}
