// Package dataset loads CSV POI and venue tables and resolves their schemas.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Table is an immutable in-memory CSV table. Cells are kept as raw strings;
// numeric access converts on demand with NaN marking missing or unparseable
// values.
type Table struct {
	cols []string
	idx  map[string]int
	rows [][]string
}

func NewTable(cols []string) *Table {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[strings.TrimSpace(c)] = i
	}
	return &Table{cols: cols, idx: idx}
}

func (t *Table) Append(row []string) {
	if len(row) < len(t.cols) {
		padded := make([]string, len(t.cols))
		copy(padded, row)
		row = padded
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Len() int          { return len(t.rows) }
func (t *Table) Columns() []string { return t.cols }

func (t *Table) Has(col string) bool {
	_, ok := t.idx[col]
	return ok
}

// Strings returns the column as raw strings; missing column yields an
// all-empty slice so callers never branch on presence twice.
func (t *Table) Strings(col string) []string {
	out := make([]string, len(t.rows))
	i, ok := t.idx[col]
	if !ok {
		return out
	}
	for r, row := range t.rows {
		if i < len(row) {
			out[r] = strings.TrimSpace(row[i])
		}
	}
	return out
}

// Floats returns the column as float64 with NaN for empty or unparseable
// cells.
func (t *Table) Floats(col string) []float64 {
	out := make([]float64, len(t.rows))
	i, ok := t.idx[col]
	if !ok {
		for r := range out {
			out[r] = math.NaN()
		}
		return out
	}
	for r, row := range t.rows {
		out[r] = math.NaN()
		if i >= len(row) {
			continue
		}
		s := strings.TrimSpace(row[i])
		if s == "" {
			continue
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			out[r] = v
		}
	}
	return out
}

// ReadCSV parses a CSV stream with a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	t := NewTable(header)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		t.Append(rec)
	}
	return t, nil
}

// ReadCSVFile parses a CSV file with a header row.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f)
}
