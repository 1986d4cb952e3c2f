package services

import (
	"context"
	"fmt"
	"math"

	"pisa/internal/core"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

const smearVersion = "1"

// Smear redistributes each input bin across its neighbors with a Gaussian
// kernel whose width in bins is "res.scale" times the configured base width.
// Building the kernel is the expensive part, so the service is two-phase:
// the kernel is the nominal transform and can be snapshotted and restored.
//
// Options:
//
//	inputs: upstream map names to consume (required)
//	width:  base resolution in bins per unit of res.scale (default 1)
type Smear struct {
	*core.Base
	width float64
}

var _ stageapi.NominalService = (*Smear)(nil)

// NewSmear is the factory for reco.smear.
func NewSmear(cfg stageapi.Config) (stageapi.Service, error) {
	inputs, err := stringSliceOption(cfg.Options, "inputs")
	if err != nil {
		return nil, err
	}
	width, err := floatOption(cfg.Options, "width", 1)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, fmt.Errorf("option \"width\" must be positive, got %v", width)
	}
	defaults := []stageapi.Param{{Name: "res.scale", Value: 1, Nominal: 1}}
	merged, err := core.MergeParams(defaults, cfg.Params)
	if err != nil {
		return nil, err
	}
	params, err := stageapi.NewParamSet(merged...)
	if err != nil {
		return nil, err
	}
	base, err := core.NewBase(core.BaseConfig{
		Stage:     cfg.Stage,
		Service:   cfg.Service,
		Version:   smearVersion,
		Params:    params,
		DependsOn: []string{"res.scale"},
		Inputs:    inputs,
		Outputs:   inputs,
		Binning:   cfg.Binning,
		ConfigHash: func(h *fingerprint.Hasher) {
			h.Float64(width)
			for _, name := range inputs {
				h.String(name)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Smear{Base: base, width: width}, nil
}

// Apply implements Service.
func (s *Smear) Apply(ctx context.Context, in *mapset.MapSet) (mapset.MapSet, error) {
	return s.Evaluate(ctx, in, s.buildKernel)
}

func (s *Smear) buildKernel(_ context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error) {
	p, _ := s.Params().Get("res.scale")
	sigma := p.Value * s.width
	n := s.OutputBinning().NumBins()
	kernel := make([][]float64, n)
	for i := range kernel {
		row := make([]float64, n)
		if sigma <= 0 {
			row[i] = 1
		} else {
			sum := 0.0
			for j := range row {
				d := float64(i - j)
				row[j] = math.Exp(-d * d / (2 * sigma * sigma))
				sum += row[j]
			}
			for j := range row {
				row[j] /= sum
			}
		}
		kernel[i] = row
	}
	return stageapi.NewKernel(fp, s.InputNames(), s.OutputBinning(), kernel)
}

// BuildNominal implements NominalService.
func (s *Smear) BuildNominal(ctx context.Context) (stageapi.Transform, error) {
	want := s.NominalFingerprint()
	if t, ok := s.HeldNominal(); ok && t.Fingerprint() == want {
		return t, nil
	}
	if t, ok := s.CachedTransform(want); ok {
		s.AdoptNominal(t)
		return t, nil
	}
	t, err := s.buildKernel(ctx, want)
	if err != nil {
		return nil, err
	}
	s.CacheTransform(t)
	s.AdoptNominal(t)
	return t, nil
}

// RestoreNominal implements NominalService.
func (s *Smear) RestoreNominal(t stageapi.Transform) error {
	if !t.OutputBinning().Equal(s.OutputBinning()) {
		return fmt.Errorf("restored transform binning incompatible with %s.%s", s.Stage(), s.Name())
	}
	s.AdoptNominal(t)
	return nil
}

// NominalTransform implements NominalService.
func (s *Smear) NominalTransform() (stageapi.Transform, bool) {
	return s.HeldNominal()
}
