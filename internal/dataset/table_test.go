package dataset

import (
	"math"
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	in := "name,lat,lng,weight\na, 12.9,77.6,2\nb,12.95,77.65,\nc,13.0,77.7\n"
	tb, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tb.Len() != 3 {
		t.Fatalf("rows: want 3, got %d", tb.Len())
	}
	lat := tb.Floats("lat")
	if lat[0] != 12.9 || lat[2] != 13.0 {
		t.Fatalf("lat: %v", lat)
	}
	w := tb.Floats("weight")
	if w[0] != 2 {
		t.Fatalf("weight[0]: %g", w[0])
	}
	// empty cell and short row both read as NaN
	if !math.IsNaN(w[1]) || !math.IsNaN(w[2]) {
		t.Fatalf("missing weights should be NaN: %v", w)
	}
	names := tb.Strings("name")
	if names[0] != "a" {
		t.Fatalf("names: %v", names)
	}
}

func TestFloatsMissingColumn(t *testing.T) {
	tb := NewTable([]string{"a"})
	tb.Append([]string{"1"})
	vals := tb.Floats("nope")
	if len(vals) != 1 || !math.IsNaN(vals[0]) {
		t.Fatalf("missing column: %v", vals)
	}
}

func TestReadCSVNoHeader(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("empty stream must fail on the header read")
	}
}
