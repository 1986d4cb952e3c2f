package services

import (
	"context"
	"fmt"
	"math"

	"pisa/internal/core"
	"pisa/pkg/binning"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

const scaleVersion = "1"

// Scale normalizes its inputs: every map is multiplied by the shared
// "livetime" parameter and its own "<name>.gain" parameter.
//
// Options:
//
//	inputs: upstream map names to consume (required)
type Scale struct {
	*core.Base
	inputs []string
}

// NewScale is the factory for norm.scale.
func NewScale(cfg stageapi.Config) (stageapi.Service, error) {
	inputs, err := stringSliceOption(cfg.Options, "inputs")
	if err != nil {
		return nil, err
	}
	defaults := make([]stageapi.Param, 0, len(inputs)+1)
	defaults = append(defaults, stageapi.Param{Name: "livetime", Value: 1, Nominal: 1})
	for _, name := range inputs {
		defaults = append(defaults, stageapi.Param{Name: name + ".gain", Value: 1, Nominal: 1})
	}
	merged, err := core.MergeParams(defaults, cfg.Params)
	if err != nil {
		return nil, err
	}
	params, err := stageapi.NewParamSet(merged...)
	if err != nil {
		return nil, err
	}
	dependsOn := make([]string, len(defaults))
	for i, p := range defaults {
		dependsOn[i] = p.Name
	}
	base, err := core.NewBase(core.BaseConfig{
		Stage:     cfg.Stage,
		Service:   cfg.Service,
		Version:   scaleVersion,
		Params:    params,
		DependsOn: dependsOn,
		Inputs:    inputs,
		Outputs:   inputs,
		Binning:   cfg.Binning,
		ConfigHash: func(h *fingerprint.Hasher) {
			for _, name := range inputs {
				h.String(name)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Scale{Base: base, inputs: inputs}, nil
}

// Apply implements Service.
func (s *Scale) Apply(ctx context.Context, in *mapset.MapSet) (mapset.MapSet, error) {
	return s.Evaluate(ctx, in, s.build)
}

func (s *Scale) build(_ context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error) {
	livetime, _ := s.Params().Get("livetime")
	gains := make(map[string]float64, len(s.inputs))
	for _, name := range s.inputs {
		p, _ := s.Params().Get(name + ".gain")
		gains[name] = p.Value
	}
	return &gainTransform{
		fp:       fp,
		inputs:   append([]string(nil), s.inputs...),
		binning:  s.OutputBinning(),
		livetime: livetime.Value,
		gains:    gains,
	}, nil
}

// gainTransform scales each input map by livetime times its per-map gain.
// It exists only in memory; normalization is cheap enough that it is never
// snapshotted.
type gainTransform struct {
	fp       fingerprint.Fingerprint
	inputs   []string
	binning  binning.Binning
	livetime float64
	gains    map[string]float64
}

func (t *gainTransform) Fingerprint() fingerprint.Fingerprint { return t.fp }
func (t *gainTransform) InputNames() []string                 { return append([]string(nil), t.inputs...) }
func (t *gainTransform) OutputNames() []string                { return append([]string(nil), t.inputs...) }
func (t *gainTransform) OutputBinning() binning.Binning       { return t.binning }

func (t *gainTransform) Apply(in *mapset.MapSet) ([]mapset.Map, error) {
	if in == nil {
		return nil, fmt.Errorf("normalization requires inputs %v, got none", t.inputs)
	}
	out := make([]mapset.Map, len(t.inputs))
	for i, name := range t.inputs {
		m, ok := in.Get(name)
		if !ok {
			return nil, fmt.Errorf("input map %q missing from upstream set %v", name, in.Names())
		}
		if !m.Binning().Equal(t.binning) {
			return nil, fmt.Errorf("input map %q binning incompatible with normalization", name)
		}
		factor := t.livetime * t.gains[name]
		n := m.NumBins()
		values := make([]float64, n)
		errs := make([]float64, n)
		for b := 0; b < n; b++ {
			values[b] = m.Value(b) * factor
			errs[b] = m.Error(b) * math.Abs(factor)
		}
		om, err := mapset.NewMap(name, t.binning, values, errs, m.Metadata())
		if err != nil {
			return nil, err
		}
		out[i] = om
	}
	return out, nil
}
