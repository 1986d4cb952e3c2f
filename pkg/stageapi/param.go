// Package stageapi defines the contracts a pipeline stage implementation
// must satisfy: parameters with explicit dependency declaration, cacheable
// transforms, the Service evaluation contract and the factory registry that
// maps (stage role, service name) to an implementation.
package stageapi

import (
	"fmt"

	"pisa/pkg/fingerprint"
)

// Param is one named scalar parameter owned by a service.
type Param struct {
	Name       string
	Value      float64
	Nominal    float64 // no-effect baseline, used for nominal fingerprints
	Min, Max   float64
	HasBounds  bool
	Free       bool // varied by minimizer/scan
	Systematic bool // participates in the systematics adjustment phase
	Prior      string
}

// InBounds reports whether v satisfies the parameter's bounds, if any.
func (p Param) InBounds(v float64) bool {
	if !p.HasBounds {
		return true
	}
	return v >= p.Min && v <= p.Max
}

// ParamSet is an ordered, uniquely named set of parameters. Order is the
// declaration order and is significant for fingerprinting.
type ParamSet struct {
	params []Param
	index  map[string]int
}

// NewParamSet validates and constructs a parameter set.
func NewParamSet(params ...Param) (*ParamSet, error) {
	index := make(map[string]int, len(params))
	cloned := make([]Param, len(params))
	for i, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter %d has empty name", i)
		}
		if _, dup := index[p.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		if p.HasBounds && p.Min >= p.Max {
			return nil, fmt.Errorf("parameter %q has empty bounds [%v, %v]", p.Name, p.Min, p.Max)
		}
		if !p.InBounds(p.Value) {
			return nil, fmt.Errorf("parameter %q value %v outside bounds [%v, %v]", p.Name, p.Value, p.Min, p.Max)
		}
		index[p.Name] = i
		cloned[i] = p
	}
	return &ParamSet{params: cloned, index: index}, nil
}

// Len returns the number of parameters.
func (s *ParamSet) Len() int { return len(s.params) }

// Names returns parameter names in declaration order.
func (s *ParamSet) Names() []string {
	out := make([]string, len(s.params))
	for i, p := range s.params {
		out[i] = p.Name
	}
	return out
}

// Get returns the named parameter.
func (s *ParamSet) Get(name string) (Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return Param{}, false
	}
	return s.params[i], true
}

// Set updates the current value of a parameter, enforcing bounds.
func (s *ParamSet) Set(name string, value float64) error {
	i, ok := s.index[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	if !s.params[i].InBounds(value) {
		return fmt.Errorf("parameter %q value %v outside bounds [%v, %v]",
			name, value, s.params[i].Min, s.params[i].Max)
	}
	s.params[i].Value = value
	return nil
}

// Params returns a copy of all parameters in order.
func (s *ParamSet) Params() []Param {
	return append([]Param(nil), s.params...)
}

// Free returns the parameters whose free flag is set.
func (s *ParamSet) Free() []Param {
	var out []Param
	for _, p := range s.params {
		if p.Free {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns an independent copy of the set.
func (s *ParamSet) Clone() *ParamSet {
	cp, err := NewParamSet(s.params...)
	if err != nil {
		// The receiver was already validated; re-validation cannot fail.
		panic(err)
	}
	return cp
}

// HashSubset writes name/value pairs for the given parameter names, in the
// given order, into the hasher. It errors on names absent from the set so an
// incomplete or stale dependency declaration surfaces instead of silently
// hashing nothing.
func (s *ParamSet) HashSubset(h *fingerprint.Hasher, names []string) error {
	for _, name := range names {
		p, ok := s.Get(name)
		if !ok {
			return fmt.Errorf("declared dependency %q is not a parameter of this set", name)
		}
		h.String(p.Name)
		h.Float64(p.Value)
	}
	return nil
}

// HashNominalSubset is HashSubset restricted to non-systematic parameters,
// used for the nominal-transform fingerprint of two-phase services.
func (s *ParamSet) HashNominalSubset(h *fingerprint.Hasher, names []string) error {
	for _, name := range names {
		p, ok := s.Get(name)
		if !ok {
			return fmt.Errorf("declared dependency %q is not a parameter of this set", name)
		}
		if p.Systematic {
			continue
		}
		h.String(p.Name)
		h.Float64(p.Value)
	}
	return nil
}
