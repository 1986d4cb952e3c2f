package stageapi

import (
	"fmt"
	"math"

	"pisa/pkg/binning"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
)

// Transform is a cacheable operator built by a service. Applying it to an
// input MapSet (nil for source stages) yields output maps; the caller derives
// and attaches the result fingerprint.
type Transform interface {
	// Fingerprint identifies exactly the parameter subset and configuration
	// that produced the transform.
	Fingerprint() fingerprint.Fingerprint
	// InputNames lists required input maps; empty means a source transform.
	InputNames() []string
	// OutputNames lists the maps the transform produces.
	OutputNames() []string
	// OutputBinning is the binning of every output map.
	OutputBinning() binning.Binning
	// Apply computes output maps from the input MapSet.
	Apply(in *mapset.MapSet) ([]mapset.Map, error)
}

// TransformKind discriminates the binned transform variants.
type TransformKind string

const (
	// KindSource generates maps from stored values with no input.
	KindSource TransformKind = "source"
	// KindElementwise multiplies each input bin by a per-bin weight.
	KindElementwise TransformKind = "elementwise"
	// KindKernel redistributes each input bin across all output bins via a
	// per-input-bin kernel row (smearing).
	KindKernel TransformKind = "kernel"
)

// SourceMap holds the stored contents of one map produced by a source
// transform.
type SourceMap struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
	Errors []float64 `json:"errors,omitempty"`
}

// BinnedTransform is the concrete transform used by the built-in services:
// elementwise weighting, kernel smearing, or map generation for source
// stages. It is the only transform variant with a durable encoding.
type BinnedTransform struct {
	fp      fingerprint.Fingerprint
	kind    TransformKind
	inputs  []string
	outB    binning.Binning
	weights []float64
	kernel  [][]float64
	sources []SourceMap
}

// NewSource builds a source transform emitting the given maps.
func NewSource(fp fingerprint.Fingerprint, b binning.Binning, sources []SourceMap) (*BinnedTransform, error) {
	if fp.IsZero() {
		return nil, fmt.Errorf("source transform requires a fingerprint")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("source transform requires at least one map")
	}
	n := b.NumBins()
	cloned := make([]SourceMap, len(sources))
	for i, s := range sources {
		if len(s.Values) != n {
			return nil, fmt.Errorf("source map %q: %d values for %d bins", s.Name, len(s.Values), n)
		}
		if s.Errors != nil && len(s.Errors) != n {
			return nil, fmt.Errorf("source map %q: %d errors for %d bins", s.Name, len(s.Errors), n)
		}
		cloned[i] = SourceMap{
			Name:   s.Name,
			Values: append([]float64(nil), s.Values...),
			Errors: append([]float64(nil), s.Errors...),
		}
	}
	return &BinnedTransform{fp: fp, kind: KindSource, outB: b, sources: cloned}, nil
}

// NewElementwise builds a per-bin weighting transform over the named inputs.
func NewElementwise(fp fingerprint.Fingerprint, inputs []string, b binning.Binning, weights []float64) (*BinnedTransform, error) {
	if fp.IsZero() {
		return nil, fmt.Errorf("elementwise transform requires a fingerprint")
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("elementwise transform requires input names")
	}
	if len(weights) != b.NumBins() {
		return nil, fmt.Errorf("elementwise transform: %d weights for %d bins", len(weights), b.NumBins())
	}
	return &BinnedTransform{
		fp:      fp,
		kind:    KindElementwise,
		inputs:  append([]string(nil), inputs...),
		outB:    b,
		weights: append([]float64(nil), weights...),
	}, nil
}

// NewKernel builds a smearing transform. kernel[i][j] is the fraction of
// input bin i contributing to output bin j.
func NewKernel(fp fingerprint.Fingerprint, inputs []string, b binning.Binning, kernel [][]float64) (*BinnedTransform, error) {
	if fp.IsZero() {
		return nil, fmt.Errorf("kernel transform requires a fingerprint")
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("kernel transform requires input names")
	}
	n := b.NumBins()
	if len(kernel) != n {
		return nil, fmt.Errorf("kernel transform: %d rows for %d bins", len(kernel), n)
	}
	cloned := make([][]float64, n)
	for i, row := range kernel {
		if len(row) != n {
			return nil, fmt.Errorf("kernel transform: row %d has %d columns for %d bins", i, len(row), n)
		}
		cloned[i] = append([]float64(nil), row...)
	}
	return &BinnedTransform{
		fp:     fp,
		kind:   KindKernel,
		inputs: append([]string(nil), inputs...),
		outB:   b,
		kernel: cloned,
	}, nil
}

// Fingerprint implements Transform.
func (t *BinnedTransform) Fingerprint() fingerprint.Fingerprint { return t.fp }

// Kind returns the transform variant.
func (t *BinnedTransform) Kind() TransformKind { return t.kind }

// InputNames implements Transform.
func (t *BinnedTransform) InputNames() []string { return append([]string(nil), t.inputs...) }

// OutputNames implements Transform. Source transforms emit their stored map
// names; the other kinds preserve input names.
func (t *BinnedTransform) OutputNames() []string {
	if t.kind == KindSource {
		out := make([]string, len(t.sources))
		for i, s := range t.sources {
			out[i] = s.Name
		}
		return out
	}
	return append([]string(nil), t.inputs...)
}

// OutputBinning implements Transform.
func (t *BinnedTransform) OutputBinning() binning.Binning { return t.outB }

// Apply implements Transform.
func (t *BinnedTransform) Apply(in *mapset.MapSet) ([]mapset.Map, error) {
	switch t.kind {
	case KindSource:
		return t.applySource()
	case KindElementwise:
		return t.applyElementwise(in)
	case KindKernel:
		return t.applyKernel(in)
	default:
		return nil, fmt.Errorf("unknown transform kind %q", t.kind)
	}
}

func (t *BinnedTransform) applySource() ([]mapset.Map, error) {
	out := make([]mapset.Map, 0, len(t.sources))
	for _, s := range t.sources {
		errs := s.Errors
		if len(errs) == 0 {
			// Poisson errors on generated counts.
			errs = make([]float64, len(s.Values))
			for i, v := range s.Values {
				errs[i] = math.Sqrt(math.Max(v, 0))
			}
		}
		m, err := mapset.NewMap(s.Name, t.outB, s.Values, errs, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *BinnedTransform) requireInputs(in *mapset.MapSet) ([]mapset.Map, error) {
	if in == nil {
		return nil, fmt.Errorf("transform requires inputs %v, got none", t.inputs)
	}
	maps := make([]mapset.Map, len(t.inputs))
	for i, name := range t.inputs {
		m, ok := in.Get(name)
		if !ok {
			return nil, fmt.Errorf("input map %q missing from upstream set %v", name, in.Names())
		}
		if !m.Binning().Equal(t.outB) {
			return nil, fmt.Errorf("input map %q binning incompatible with transform", name)
		}
		maps[i] = m
	}
	return maps, nil
}

func (t *BinnedTransform) applyElementwise(in *mapset.MapSet) ([]mapset.Map, error) {
	maps, err := t.requireInputs(in)
	if err != nil {
		return nil, err
	}
	out := make([]mapset.Map, len(maps))
	for i, m := range maps {
		n := m.NumBins()
		values := make([]float64, n)
		errs := make([]float64, n)
		for b := 0; b < n; b++ {
			values[b] = m.Value(b) * t.weights[b]
			errs[b] = m.Error(b) * math.Abs(t.weights[b])
		}
		om, err := mapset.NewMap(m.Name(), t.outB, values, errs, m.Metadata())
		if err != nil {
			return nil, err
		}
		out[i] = om
	}
	return out, nil
}

func (t *BinnedTransform) applyKernel(in *mapset.MapSet) ([]mapset.Map, error) {
	maps, err := t.requireInputs(in)
	if err != nil {
		return nil, err
	}
	n := t.outB.NumBins()
	out := make([]mapset.Map, len(maps))
	for i, m := range maps {
		values := make([]float64, n)
		variances := make([]float64, n)
		for src := 0; src < n; src++ {
			v := m.Value(src)
			e := m.Error(src)
			row := t.kernel[src]
			for dst := 0; dst < n; dst++ {
				values[dst] += v * row[dst]
				variances[dst] += e * e * row[dst] * row[dst]
			}
		}
		errs := make([]float64, n)
		for b := 0; b < n; b++ {
			errs[b] = math.Sqrt(variances[b])
		}
		om, err := mapset.NewMap(m.Name(), t.outB, values, errs, m.Metadata())
		if err != nil {
			return nil, err
		}
		out[i] = om
	}
	return out, nil
}
