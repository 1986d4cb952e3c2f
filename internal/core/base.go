// Package core is the pipeline engine: the caching evaluation base embedded
// by every service, pipeline assembly with construction-time schema
// validation, and the TemplateMaker orchestrator.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"pisa/internal/cache"
	"pisa/pkg/binning"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

// BaseConfig describes the invariant identity and wiring of one service
// instance. Everything here is fixed at construction; only parameter values
// change afterwards.
type BaseConfig struct {
	Stage   string
	Service string
	Version string
	Params  *stageapi.ParamSet
	// DependsOn is the declared, ordered set of parameter names whose values
	// enter the transform fingerprint. It must be a subset of Params.
	DependsOn []string
	Inputs    []string
	Outputs   []string
	Binning   binning.Binning
	// ConfigHash mixes static service configuration (anything beyond
	// parameters that shapes the transform) into every fingerprint.
	ConfigHash func(h *fingerprint.Hasher)
	// Cache capacities; zero selects the default.
	TransformCapacity int
	ResultCapacity    int
}

// Base implements the caching evaluation contract shared by all services.
// Implementations embed it, forward the Service accessors to it, and route
// Apply through Evaluate with a build callback for the transform itself.
type Base struct {
	stage      string
	service    string
	version    string
	params     *stageapi.ParamSet
	dependsOn  []string
	inputs     []string
	outputs    []string
	binning    binning.Binning
	configHash func(h *fingerprint.Hasher)

	transforms *cache.Cache[stageapi.Transform]
	results    *cache.Cache[mapset.MapSet]
	builds     atomic.Uint64
	applies    atomic.Uint64

	mu      sync.Mutex
	nominal stageapi.Transform
}

// NewBase validates cfg and constructs the evaluation base with its two
// caches.
func NewBase(cfg BaseConfig) (*Base, error) {
	if cfg.Stage == "" || cfg.Service == "" {
		return nil, fmt.Errorf("service base requires stage and service names")
	}
	if cfg.Params == nil {
		return nil, fmt.Errorf("service %s.%s requires a parameter set", cfg.Stage, cfg.Service)
	}
	if cfg.Binning.IsZero() {
		return nil, fmt.Errorf("service %s.%s requires an output binning", cfg.Stage, cfg.Service)
	}
	if len(cfg.Outputs) == 0 {
		return nil, fmt.Errorf("service %s.%s declares no outputs", cfg.Stage, cfg.Service)
	}
	for _, name := range cfg.DependsOn {
		if _, ok := cfg.Params.Get(name); !ok {
			return nil, fmt.Errorf("service %s.%s declares dependency on undeclared parameter %q",
				cfg.Stage, cfg.Service, name)
		}
	}
	key := cfg.Stage + "." + cfg.Service
	transforms, err := cache.New[stageapi.Transform](key+".transforms", cfg.TransformCapacity)
	if err != nil {
		return nil, err
	}
	results, err := cache.New[mapset.MapSet](key+".results", cfg.ResultCapacity)
	if err != nil {
		return nil, err
	}
	return &Base{
		stage:      cfg.Stage,
		service:    cfg.Service,
		version:    cfg.Version,
		params:     cfg.Params,
		dependsOn:  append([]string(nil), cfg.DependsOn...),
		inputs:     append([]string(nil), cfg.Inputs...),
		outputs:    append([]string(nil), cfg.Outputs...),
		binning:    cfg.Binning,
		configHash: cfg.ConfigHash,
		transforms: transforms,
		results:    results,
	}, nil
}

// Name implements Service.
func (b *Base) Name() string { return b.service }

// Stage implements Service.
func (b *Base) Stage() string { return b.stage }

// Version implements Service.
func (b *Base) Version() string { return b.version }

// Params implements Service.
func (b *Base) Params() *stageapi.ParamSet { return b.params }

// FreeParams implements Service.
func (b *Base) FreeParams() []stageapi.Param { return b.params.Free() }

// DependsOn implements Service.
func (b *Base) DependsOn() []string { return append([]string(nil), b.dependsOn...) }

// InputNames implements Service.
func (b *Base) InputNames() []string { return append([]string(nil), b.inputs...) }

// OutputNames implements Service.
func (b *Base) OutputNames() []string { return append([]string(nil), b.outputs...) }

// OutputBinning implements Service.
func (b *Base) OutputBinning() binning.Binning { return b.binning }

// SetParams implements Service. Names and bounds are validated before any
// value is applied so a rejected batch leaves the state untouched.
func (b *Base) SetParams(values map[string]float64) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, ok := b.params.Get(name)
		if !ok {
			return fmt.Errorf("%w: %q for service %s.%s", ErrUnknownParam, name, b.stage, b.service)
		}
		if !p.InBounds(values[name]) {
			return fmt.Errorf("service %s.%s: parameter %q value %v outside bounds [%v, %v]",
				b.stage, b.service, name, values[name], p.Min, p.Max)
		}
	}
	for _, name := range names {
		if err := b.params.Set(name, values[name]); err != nil {
			return fmt.Errorf("service %s.%s: %w", b.stage, b.service, err)
		}
	}
	return nil
}

// CacheStats implements Service.
func (b *Base) CacheStats() stageapi.CacheStats {
	ts := b.transforms.Stats()
	rs := b.results.Stats()
	return stageapi.CacheStats{
		TransformHits:   ts.Hits,
		TransformMisses: ts.Misses,
		ResultHits:      rs.Hits,
		ResultMisses:    rs.Misses,
		Builds:          b.builds.Load(),
		Applies:         b.applies.Load(),
	}
}

// TransformFingerprint derives the transform cache key from service identity,
// binning, static configuration and the current values of the declared
// dependency set.
func (b *Base) TransformFingerprint() fingerprint.Fingerprint {
	h := fingerprint.New("transform", b.stage, b.service, b.version)
	b.binning.HashInto(h)
	if b.configHash != nil {
		b.configHash(h)
	}
	if err := b.params.HashSubset(h, b.dependsOn); err != nil {
		// DependsOn was validated against Params at construction.
		panic(fmt.Sprintf("service %s.%s: %v", b.stage, b.service, err))
	}
	return h.Sum()
}

// NominalFingerprint derives the snapshot key for two-phase services from the
// non-systematic subset of the dependency set. It shares the transform
// identity, so for a service with no systematic dependencies the nominal and
// transform fingerprints coincide and a restored snapshot is found by
// Evaluate without rebuilding.
func (b *Base) NominalFingerprint() fingerprint.Fingerprint {
	h := fingerprint.New("transform", b.stage, b.service, b.version)
	b.binning.HashInto(h)
	if b.configHash != nil {
		b.configHash(h)
	}
	if err := b.params.HashNominalSubset(h, b.dependsOn); err != nil {
		panic(fmt.Sprintf("service %s.%s: %v", b.stage, b.service, err))
	}
	return h.Sum()
}

// BuildFunc constructs a transform whose Fingerprint() must equal fp.
type BuildFunc func(ctx context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error)

// Evaluate is the shared Apply implementation: derive the transform
// fingerprint, reuse or build the transform, derive the result fingerprint
// from (input fingerprint, transform fingerprint), reuse or compute the
// output MapSet. A build returning a transform with the wrong fingerprint is
// an internal invariant violation and panics rather than poisoning caches.
func (b *Base) Evaluate(ctx context.Context, in *mapset.MapSet, build BuildFunc) (mapset.MapSet, error) {
	if err := ctx.Err(); err != nil {
		return mapset.MapSet{}, err
	}
	tfp := b.TransformFingerprint()
	t, ok := b.transforms.Get(tfp)
	if !ok {
		built, err := build(ctx, tfp)
		if err != nil {
			return mapset.MapSet{}, fmt.Errorf("build transform %s.%s: %w", b.stage, b.service, err)
		}
		if built.Fingerprint() != tfp {
			panic(fmt.Sprintf("service %s.%s built transform %s for key %s",
				b.stage, b.service, built.Fingerprint().Short(), tfp.Short()))
		}
		b.builds.Add(1)
		buildsTotal.WithLabelValues(b.stage, b.service).Inc()
		b.transforms.Put(tfp, built)
		t = built
	}

	var rfp fingerprint.Fingerprint
	if in != nil {
		rfp = fingerprint.Derive(in.Fingerprint(), tfp)
	} else {
		rfp = fingerprint.Derive(tfp)
	}
	if rs, ok := b.results.Get(rfp); ok {
		return rs, nil
	}
	maps, err := t.Apply(in)
	if err != nil {
		return mapset.MapSet{}, fmt.Errorf("apply %s.%s: %w", b.stage, b.service, err)
	}
	b.applies.Add(1)
	appliesTotal.WithLabelValues(b.stage, b.service).Inc()
	rs, err := mapset.Build(rfp, maps...)
	if err != nil {
		return mapset.MapSet{}, fmt.Errorf("assemble %s.%s output: %w", b.stage, b.service, err)
	}
	b.results.Put(rfp, rs)
	return rs, nil
}

// AdoptNominal installs t as the held nominal transform and seeds the
// transform cache under t's own fingerprint, so a subsequent Evaluate at
// matching parameters reuses it without a build.
func (b *Base) AdoptNominal(t stageapi.Transform) {
	b.mu.Lock()
	b.nominal = t
	b.mu.Unlock()
	b.transforms.Put(t.Fingerprint(), t)
}

// HeldNominal returns the currently held nominal transform, if any.
func (b *Base) HeldNominal() (stageapi.Transform, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nominal == nil {
		return nil, false
	}
	return b.nominal, true
}

// CachedTransform exposes the transform cache to two-phase services that key
// their nominal transform separately from the full transform fingerprint.
func (b *Base) CachedTransform(fp fingerprint.Fingerprint) (stageapi.Transform, bool) {
	return b.transforms.Get(fp)
}

// CacheTransform stores a transform built outside Evaluate, counting it as a
// build.
func (b *Base) CacheTransform(t stageapi.Transform) {
	b.builds.Add(1)
	buildsTotal.WithLabelValues(b.stage, b.service).Inc()
	b.transforms.Put(t.Fingerprint(), t)
}

// MergeParams overlays settings-provided declarations on a service's
// defaults. Every override must name a declared parameter.
func MergeParams(defaults []stageapi.Param, overrides []stageapi.Param) ([]stageapi.Param, error) {
	out := append([]stageapi.Param(nil), defaults...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.Name] = i
	}
	for _, o := range overrides {
		i, ok := index[o.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (declared: %v)", ErrUnknownParam, o.Name, names(defaults))
		}
		out[i] = o
	}
	return out, nil
}

func names(params []stageapi.Param) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Name
	}
	return out
}
