package core

import (
	"context"
	"fmt"

	"pisa/pkg/binning"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

// Pipeline is an ordered chain of instantiated services sharing one binning.
// Schema compatibility between adjacent stages is verified here, at
// construction, so evaluation never discovers a wiring mistake.
type Pipeline struct {
	name    string
	binning binning.Binning
	stages  []stageapi.Service
	index   map[string]int
}

// NewPipeline instantiates every stage of the settings through the registry
// and validates the resulting chain.
func NewPipeline(settings Settings, registry *stageapi.Registry) (*Pipeline, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	b, err := settings.BuildBinning()
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", settings.Name, err)
	}
	stages := make([]stageapi.Service, 0, len(settings.Stages))
	index := make(map[string]int, len(settings.Stages))
	for _, spec := range settings.Stages {
		svc, err := registry.New(stageapi.Config{
			Stage:   spec.Stage,
			Service: spec.Service,
			Binning: b,
			Params:  spec.paramOverrides(),
			Options: spec.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", settings.Name, err)
		}
		index[spec.Stage] = len(stages)
		stages = append(stages, svc)
	}
	p := &Pipeline{name: settings.Name, binning: b, stages: stages, index: index}
	if err := p.validateSchema(); err != nil {
		return nil, err
	}
	return p, nil
}

// validateSchema checks that the first stage is a source, that every later
// stage's inputs are produced by its upstream neighbor, and that every stage
// emits maps over the pipeline binning.
func (p *Pipeline) validateSchema() error {
	if len(p.stages) == 0 {
		return fmt.Errorf("%w: pipeline %q has no stages", ErrSchemaMismatch, p.name)
	}
	first := p.stages[0]
	if len(first.InputNames()) != 0 {
		return fmt.Errorf("%w: first stage %s.%s requires inputs %v but nothing precedes it",
			ErrSchemaMismatch, first.Stage(), first.Name(), first.InputNames())
	}
	for i, svc := range p.stages {
		if !svc.OutputBinning().Equal(p.binning) {
			return fmt.Errorf("%w: stage %s.%s output binning differs from the pipeline binning",
				ErrSchemaMismatch, svc.Stage(), svc.Name())
		}
		if i == 0 {
			continue
		}
		upstream := p.stages[i-1]
		produced := make(map[string]bool)
		for _, name := range upstream.OutputNames() {
			produced[name] = true
		}
		for _, name := range svc.InputNames() {
			if !produced[name] {
				return fmt.Errorf("%w: stage %s.%s requires input %q, upstream %s.%s produces %v",
					ErrSchemaMismatch, svc.Stage(), svc.Name(), name,
					upstream.Stage(), upstream.Name(), upstream.OutputNames())
			}
		}
	}
	return nil
}

// Name returns the pipeline name from the settings.
func (p *Pipeline) Name() string { return p.name }

// Binning returns the shared pipeline binning.
func (p *Pipeline) Binning() binning.Binning { return p.binning }

// Stages returns the services in evaluation order.
func (p *Pipeline) Stages() []stageapi.Service {
	return append([]stageapi.Service(nil), p.stages...)
}

// Stage returns the service filling the named stage role.
func (p *Pipeline) Stage(role string) (stageapi.Service, bool) {
	i, ok := p.index[role]
	if !ok {
		return nil, false
	}
	return p.stages[i], true
}

// Run walks the chain, feeding each stage's output MapSet to the next. The
// source stage receives nil.
func (p *Pipeline) Run(ctx context.Context) (mapset.MapSet, error) {
	var current *mapset.MapSet
	for _, svc := range p.stages {
		out, err := svc.Apply(ctx, current)
		if err != nil {
			return mapset.MapSet{}, fmt.Errorf("stage %s.%s: %w", svc.Stage(), svc.Name(), err)
		}
		next := out
		current = &next
	}
	return *current, nil
}
