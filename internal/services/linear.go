package services

import (
	"context"
	"fmt"

	"pisa/internal/core"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

const linearVersion = "1"

// Linear applies a multiplicative systematics adjustment: for each declared
// systematic parameter x with slope s, every bin is scaled by
// 1 + s*(x - nominal). At nominal values the stage is a pass-through. The
// pass-through is the nominal transform of the two-phase contract; the
// adjustment itself is recomputed cheaply whenever a systematic moves.
//
// Because the dependency set is all-systematic, the transform fingerprint
// always hashes the current systematic values while the nominal fingerprint
// hashes none of them, so the two never coincide. A restored nominal
// snapshot therefore only seeds the held-nominal slot; Apply rebuilds the
// folded per-bin weights, which costs one multiplication per bin.
//
// Options:
//
//	inputs: upstream map names to consume (required)
//	slopes: map of systematic parameter name to slope (required)
type Linear struct {
	*core.Base
	inputs   []string
	sysNames []string
	slopes   map[string]float64
}

var _ stageapi.NominalService = (*Linear)(nil)

// NewLinear is the factory for sys.linear.
func NewLinear(cfg stageapi.Config) (stageapi.Service, error) {
	inputs, err := stringSliceOption(cfg.Options, "inputs")
	if err != nil {
		return nil, err
	}
	sysNames, slopes, err := scalarMapOption(cfg.Options, "slopes")
	if err != nil {
		return nil, err
	}
	defaults := make([]stageapi.Param, 0, len(sysNames))
	for _, name := range sysNames {
		defaults = append(defaults, stageapi.Param{Name: name, Systematic: true})
	}
	merged, err := core.MergeParams(defaults, cfg.Params)
	if err != nil {
		return nil, err
	}
	for _, p := range merged {
		if !p.Systematic {
			return nil, fmt.Errorf("parameter %q must stay systematic for this stage", p.Name)
		}
	}
	params, err := stageapi.NewParamSet(merged...)
	if err != nil {
		return nil, err
	}
	base, err := core.NewBase(core.BaseConfig{
		Stage:     cfg.Stage,
		Service:   cfg.Service,
		Version:   linearVersion,
		Params:    params,
		DependsOn: sysNames,
		Inputs:    inputs,
		Outputs:   inputs,
		Binning:   cfg.Binning,
		ConfigHash: func(h *fingerprint.Hasher) {
			for _, name := range inputs {
				h.String(name)
			}
			for _, name := range sysNames {
				h.String(name)
				h.Float64(slopes[name])
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Linear{Base: base, inputs: inputs, sysNames: sysNames, slopes: slopes}, nil
}

// Apply implements Service.
func (s *Linear) Apply(ctx context.Context, in *mapset.MapSet) (mapset.MapSet, error) {
	return s.Evaluate(ctx, in, s.build)
}

func (s *Linear) factor() float64 {
	f := 1.0
	for _, name := range s.sysNames {
		p, _ := s.Params().Get(name)
		f *= 1 + s.slopes[name]*(p.Value-p.Nominal)
	}
	return f
}

func (s *Linear) build(_ context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error) {
	weights := make([]float64, s.OutputBinning().NumBins())
	f := s.factor()
	for i := range weights {
		weights[i] = f
	}
	return stageapi.NewElementwise(fp, s.inputs, s.OutputBinning(), weights)
}

// BuildNominal implements NominalService. The nominal transform ignores the
// systematic values entirely: it is the unit pass-through.
func (s *Linear) BuildNominal(_ context.Context) (stageapi.Transform, error) {
	want := s.NominalFingerprint()
	if t, ok := s.HeldNominal(); ok && t.Fingerprint() == want {
		return t, nil
	}
	if t, ok := s.CachedTransform(want); ok {
		s.AdoptNominal(t)
		return t, nil
	}
	weights := make([]float64, s.OutputBinning().NumBins())
	for i := range weights {
		weights[i] = 1
	}
	t, err := stageapi.NewElementwise(want, s.inputs, s.OutputBinning(), weights)
	if err != nil {
		return nil, err
	}
	s.CacheTransform(t)
	s.AdoptNominal(t)
	return t, nil
}

// RestoreNominal implements NominalService.
func (s *Linear) RestoreNominal(t stageapi.Transform) error {
	if !t.OutputBinning().Equal(s.OutputBinning()) {
		return fmt.Errorf("restored transform binning incompatible with %s.%s", s.Stage(), s.Name())
	}
	s.AdoptNominal(t)
	return nil
}

// NominalTransform implements NominalService.
func (s *Linear) NominalTransform() (stageapi.Transform, bool) {
	return s.HeldNominal()
}
