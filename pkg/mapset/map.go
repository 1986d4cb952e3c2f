// Package mapset holds the distributions flowing between pipeline stages: a
// Map is one named histogram (values, errors, binning, metadata) and a MapSet
// is an ordered collection of uniquely named Maps with an attached
// fingerprint. Both are immutable once constructed; the only way to attach a
// fingerprint is through the Build constructor, so a MapSet whose fingerprint
// disagrees with its contents is unrepresentable.
package mapset

import (
	"fmt"

	"pisa/pkg/binning"
)

// Map is a single labeled distribution over a binning.
type Map struct {
	name     string
	binning  binning.Binning
	values   []float64
	errors   []float64
	metadata map[string]string
}

// NewMap constructs an immutable map. Value and error lengths must match the
// binning's flattened bin count; errors may be nil (treated as all zero).
func NewMap(name string, b binning.Binning, values, errs []float64, metadata map[string]string) (Map, error) {
	if name == "" {
		return Map{}, fmt.Errorf("map requires a name")
	}
	if b.IsZero() {
		return Map{}, fmt.Errorf("map %q requires a binning", name)
	}
	n := b.NumBins()
	if len(values) != n {
		return Map{}, fmt.Errorf("map %q: %d values for %d bins", name, len(values), n)
	}
	if errs != nil && len(errs) != n {
		return Map{}, fmt.Errorf("map %q: %d errors for %d bins", name, len(errs), n)
	}
	m := Map{
		name:    name,
		binning: b,
		values:  append([]float64(nil), values...),
	}
	if errs != nil {
		m.errors = append([]float64(nil), errs...)
	} else {
		m.errors = make([]float64, n)
	}
	if len(metadata) > 0 {
		m.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			m.metadata[k] = v
		}
	}
	return m, nil
}

// Name returns the map's name.
func (m Map) Name() string { return m.name }

// Binning returns the map's binning specification.
func (m Map) Binning() binning.Binning { return m.binning }

// NumBins returns the flattened bin count.
func (m Map) NumBins() int { return len(m.values) }

// Values returns a copy of the bin values.
func (m Map) Values() []float64 { return append([]float64(nil), m.values...) }

// Errors returns a copy of the bin errors.
func (m Map) Errors() []float64 { return append([]float64(nil), m.errors...) }

// Value returns the value of bin i.
func (m Map) Value(i int) float64 { return m.values[i] }

// Error returns the error of bin i.
func (m Map) Error(i int) float64 { return m.errors[i] }

// Metadata returns a copy of the free-form metadata (units, display label).
func (m Map) Metadata() map[string]string {
	if m.metadata == nil {
		return nil
	}
	out := make(map[string]string, len(m.metadata))
	for k, v := range m.metadata {
		out[k] = v
	}
	return out
}
