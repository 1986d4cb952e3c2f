package stageapi

import (
	"errors"
	"fmt"
	"sort"

	"pisa/pkg/binning"
)

// Configuration errors surfaced by the registry.
var (
	ErrUnknownStage   = errors.New("unknown stage")
	ErrUnknownService = errors.New("unknown service")
)

// Config carries everything a factory needs to instantiate a service:
// identity, pipeline binning, declared parameters and service-specific
// options from the settings file.
type Config struct {
	Stage   string
	Service string
	Binning binning.Binning
	Params  []Param
	Options map[string]any
}

// Factory instantiates a service from its configuration.
type Factory func(cfg Config) (Service, error)

// Registry maps (stage role, service name) to a factory. It is the single
// place that knows about all service implementations for a stage, so
// optional implementations can be excluded without breaking others.
type Registry struct {
	factories map[string]map[string]Factory
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]map[string]Factory)}
}

// Register adds a factory for (stage, service). Duplicate registration is a
// programming error and is rejected.
func (r *Registry) Register(stage, service string, f Factory) error {
	if stage == "" || service == "" || f == nil {
		return fmt.Errorf("register requires stage, service and factory")
	}
	byService, ok := r.factories[stage]
	if !ok {
		byService = make(map[string]Factory)
		r.factories[stage] = byService
	}
	if _, dup := byService[service]; dup {
		return fmt.Errorf("service %s.%s already registered", stage, service)
	}
	byService[service] = f
	return nil
}

// New instantiates the service selected by cfg.Stage and cfg.Service.
func (r *Registry) New(cfg Config) (Service, error) {
	byService, ok := r.factories[cfg.Stage]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownStage, cfg.Stage, r.Stages())
	}
	factory, ok := byService[cfg.Service]
	if !ok {
		return nil, fmt.Errorf("%w: %q for stage %q (registered: %v)",
			ErrUnknownService, cfg.Service, cfg.Stage, r.Services(cfg.Stage))
	}
	return factory(cfg)
}

// Stages returns registered stage roles, sorted.
func (r *Registry) Stages() []string {
	out := make([]string, 0, len(r.factories))
	for stage := range r.factories {
		out = append(out, stage)
	}
	sort.Strings(out)
	return out
}

// Services returns registered service names for a stage, sorted.
func (r *Registry) Services(stage string) []string {
	byService := r.factories[stage]
	out := make([]string, 0, len(byService))
	for service := range byService {
		out = append(out, service)
	}
	sort.Strings(out)
	return out
}
