// Package binning defines the ordered multi-dimensional bin-edge
// specification shared by maps and transforms. A Binning is immutable after
// construction; stages compare binnings for exact equality when validating
// that adjacent pipeline stages are compatible.
package binning

import (
	"fmt"

	"pisa/pkg/fingerprint"
)

// Dimension is one axis of a binning: a name plus ascending bin edges.
type Dimension struct {
	Name  string
	Edges []float64
}

// NumBins returns the number of bins along the dimension.
func (d Dimension) NumBins() int {
	if len(d.Edges) < 2 {
		return 0
	}
	return len(d.Edges) - 1
}

// Binning is an ordered set of dimensions.
type Binning struct {
	dims []Dimension
}

// New validates and constructs a binning. Edges must be strictly ascending
// with at least two entries per dimension, and dimension names unique.
func New(dims ...Dimension) (Binning, error) {
	if len(dims) == 0 {
		return Binning{}, fmt.Errorf("binning requires at least one dimension")
	}
	seen := make(map[string]struct{}, len(dims))
	cloned := make([]Dimension, len(dims))
	for i, d := range dims {
		if d.Name == "" {
			return Binning{}, fmt.Errorf("binning dimension %d has empty name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return Binning{}, fmt.Errorf("duplicate binning dimension %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		if len(d.Edges) < 2 {
			return Binning{}, fmt.Errorf("dimension %q needs at least two edges", d.Name)
		}
		for j := 1; j < len(d.Edges); j++ {
			if d.Edges[j] <= d.Edges[j-1] {
				return Binning{}, fmt.Errorf("dimension %q edges not strictly ascending at index %d", d.Name, j)
			}
		}
		cloned[i] = Dimension{Name: d.Name, Edges: append([]float64(nil), d.Edges...)}
	}
	return Binning{dims: cloned}, nil
}

// MustNew is New for statically known specifications; it panics on error.
func MustNew(dims ...Dimension) Binning {
	b, err := New(dims...)
	if err != nil {
		panic(err)
	}
	return b
}

// IsZero reports whether the binning is the unspecified zero value.
func (b Binning) IsZero() bool { return len(b.dims) == 0 }

// NumDims returns the number of dimensions.
func (b Binning) NumDims() int { return len(b.dims) }

// Dims returns a copy of the dimensions.
func (b Binning) Dims() []Dimension {
	out := make([]Dimension, len(b.dims))
	for i, d := range b.dims {
		out[i] = Dimension{Name: d.Name, Edges: append([]float64(nil), d.Edges...)}
	}
	return out
}

// Shape returns the per-dimension bin counts in declaration order.
func (b Binning) Shape() []int {
	out := make([]int, len(b.dims))
	for i, d := range b.dims {
		out[i] = d.NumBins()
	}
	return out
}

// NumBins returns the total flattened bin count (product over dimensions).
func (b Binning) NumBins() int {
	if len(b.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range b.dims {
		n *= d.NumBins()
	}
	return n
}

// Equal reports exact equality of dimension order, names and edge values.
func (b Binning) Equal(other Binning) bool {
	if len(b.dims) != len(other.dims) {
		return false
	}
	for i, d := range b.dims {
		o := other.dims[i]
		if d.Name != o.Name || len(d.Edges) != len(o.Edges) {
			return false
		}
		for j, e := range d.Edges {
			if e != o.Edges[j] {
				return false
			}
		}
	}
	return true
}

// HashInto writes the binning's full specification to a fingerprint hasher.
func (b Binning) HashInto(h *fingerprint.Hasher) {
	h.Int64(int64(len(b.dims)))
	for _, d := range b.dims {
		h.String(d.Name)
		h.Float64s(d.Edges)
	}
}
