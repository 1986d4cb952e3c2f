package binning

import (
	"testing"

	"pisa/pkg/fingerprint"
)

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		dims []Dimension
	}{
		{"no dimensions", nil},
		{"empty name", []Dimension{{Name: "", Edges: []float64{0, 1}}}},
		{"duplicate name", []Dimension{
			{Name: "energy", Edges: []float64{0, 1}},
			{Name: "energy", Edges: []float64{0, 1}},
		}},
		{"single edge", []Dimension{{Name: "energy", Edges: []float64{1}}}},
		{"non ascending", []Dimension{{Name: "energy", Edges: []float64{0, 2, 2}}}},
	}
	for _, tc := range cases {
		if _, err := New(tc.dims...); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestShapeAndNumBins(t *testing.T) {
	b := MustNew(
		Dimension{Name: "energy", Edges: []float64{1, 10, 100}},
		Dimension{Name: "coszen", Edges: []float64{-1, -0.5, 0, 0.5}},
	)
	shape := b.Shape()
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Fatalf("unexpected shape %v", shape)
	}
	if b.NumBins() != 6 {
		t.Fatalf("expected 6 bins, got %d", b.NumBins())
	}
	if b.NumDims() != 2 {
		t.Fatalf("expected 2 dims, got %d", b.NumDims())
	}
}

func TestEqual(t *testing.T) {
	a := MustNew(Dimension{Name: "energy", Edges: []float64{0, 1, 2}})
	b := MustNew(Dimension{Name: "energy", Edges: []float64{0, 1, 2}})
	if !a.Equal(b) {
		t.Fatal("identical binnings must compare equal")
	}
	c := MustNew(Dimension{Name: "energy", Edges: []float64{0, 1, 3}})
	if a.Equal(c) {
		t.Fatal("different edges must not compare equal")
	}
	d := MustNew(Dimension{Name: "coszen", Edges: []float64{0, 1, 2}})
	if a.Equal(d) {
		t.Fatal("different names must not compare equal")
	}
}

func TestImmutability(t *testing.T) {
	edges := []float64{0, 1, 2}
	b := MustNew(Dimension{Name: "energy", Edges: edges})
	edges[0] = -99
	if b.Dims()[0].Edges[0] != 0 {
		t.Fatal("constructor must copy edges")
	}
	dims := b.Dims()
	dims[0].Edges[1] = -99
	if b.Dims()[0].Edges[1] != 1 {
		t.Fatal("Dims must return a copy")
	}
}

func TestHashInto(t *testing.T) {
	a := MustNew(Dimension{Name: "energy", Edges: []float64{0, 1, 2}})
	b := MustNew(Dimension{Name: "energy", Edges: []float64{0, 1, 2}})
	ha := fingerprint.New()
	a.HashInto(ha)
	hb := fingerprint.New()
	b.HashInto(hb)
	if ha.Sum() != hb.Sum() {
		t.Fatal("equal binnings must hash identically")
	}
	c := MustNew(Dimension{Name: "energy", Edges: []float64{0, 1, 2.5}})
	hc := fingerprint.New()
	c.HashInto(hc)
	if ha.Sum() == hc.Sum() {
		t.Fatal("different edges must hash differently")
	}
}
