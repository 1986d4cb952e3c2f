package services

import (
	"context"
	"fmt"

	"pisa/internal/core"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

const histogramVersion = "1"

// Histogram is the source stage: it emits the configured maps over the
// pipeline binning, each scaled by its own "<name>.scale" parameter.
//
// Options:
//
//	maps: map of output name to per-bin values (required)
type Histogram struct {
	*core.Base
	names  []string
	values map[string][]float64
}

// NewHistogram is the factory for source.histogram.
func NewHistogram(cfg stageapi.Config) (stageapi.Service, error) {
	names, values, err := floatMapOption(cfg.Options, "maps")
	if err != nil {
		return nil, err
	}
	n := cfg.Binning.NumBins()
	defaults := make([]stageapi.Param, 0, len(names))
	for _, name := range names {
		if len(values[name]) != n {
			return nil, fmt.Errorf("map %q: %d values for %d bins", name, len(values[name]), n)
		}
		defaults = append(defaults, stageapi.Param{Name: name + ".scale", Value: 1, Nominal: 1})
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
		Version:   histogramVersion,
		Params:    params,
		DependsOn: dependsOn,
		Outputs:   names,
		Binning:   cfg.Binning,
		ConfigHash: func(h *fingerprint.Hasher) {
			for _, name := range names {
				h.String(name)
				h.Float64s(values[name])
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Histogram{Base: base, names: names, values: values}, nil
}

// Apply implements Service.
func (s *Histogram) Apply(ctx context.Context, in *mapset.MapSet) (mapset.MapSet, error) {
	return s.Evaluate(ctx, in, s.build)
}

func (s *Histogram) build(_ context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error) {
	sources := make([]stageapi.SourceMap, len(s.names))
	for i, name := range s.names {
		p, _ := s.Params().Get(name + ".scale")
		base := s.values[name]
		scaled := make([]float64, len(base))
		for b, v := range base {
			scaled[b] = v * p.Value
		}
		sources[i] = stageapi.SourceMap{Name: name, Values: scaled}
	}
	return stageapi.NewSource(fp, s.OutputBinning(), sources)
}
