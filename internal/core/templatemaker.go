package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pisa/internal/snapshot"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

// TemplateMaker is the pipeline orchestrator: the single entry point for
// parameter updates, template generation, parameter scans and nominal
// snapshot management. Parameters are addressed by qualified name,
// "<stage>.<param>", split on the first dot (stage roles contain no dots,
// parameter names may).
type TemplateMaker struct {
	pipeline *Pipeline
	store    snapshot.Store
	recorder MetricsRecorder
	tracer   Tracer
}

// Option configures a TemplateMaker.
type Option func(*TemplateMaker)

// WithSnapshotStore enables durable nominal-transform persistence.
func WithSnapshotStore(store snapshot.Store) Option {
	return func(tm *TemplateMaker) { tm.store = store }
}

// WithMetricsRecorder attaches a process-local metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(tm *TemplateMaker) { tm.recorder = rec }
}

// WithTracer attaches an operation tracer.
func WithTracer(t Tracer) Option {
	return func(tm *TemplateMaker) { tm.tracer = t }
}

// NewTemplateMaker wraps a validated pipeline.
func NewTemplateMaker(p *Pipeline, opts ...Option) *TemplateMaker {
	tm := &TemplateMaker{pipeline: p}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Pipeline returns the wrapped pipeline.
func (tm *TemplateMaker) Pipeline() *Pipeline { return tm.pipeline }

func (tm *TemplateMaker) startSpan(ctx context.Context, op string) (context.Context, TraceSpan, time.Time) {
	started := time.Now()
	if tm.tracer == nil {
		return ctx, nil, started
	}
	ctx, span := tm.tracer.Start(ctx, op)
	return ctx, span, started
}

func (tm *TemplateMaker) endSpan(ctx context.Context, op string, span TraceSpan, started time.Time, err error) {
	if span != nil {
		span.End(err)
	}
	if tm.recorder != nil {
		tm.recorder.Observe(ctx, op, err == nil, time.Since(started))
	}
}

func splitQualified(name string) (stage, param string, err error) {
	stage, param, ok := strings.Cut(name, ".")
	if !ok || stage == "" || param == "" {
		return "", "", fmt.Errorf("parameter name %q is not of the form <stage>.<param>", name)
	}
	return stage, param, nil
}

// SetParams applies a batch of qualified parameter updates. The whole batch
// is validated before any value changes, so one bad name or out-of-bounds
// value leaves every service untouched.
func (tm *TemplateMaker) SetParams(values map[string]float64) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	perStage := make(map[string]map[string]float64)
	for _, name := range names {
		stage, param, err := splitQualified(name)
		if err != nil {
			return err
		}
		svc, ok := tm.pipeline.Stage(stage)
		if !ok {
			return fmt.Errorf("%w: %q in parameter %q", stageapi.ErrUnknownStage, stage, name)
		}
		p, ok := svc.Params().Get(param)
		if !ok {
			return fmt.Errorf("%w: %q for stage %q", ErrUnknownParam, param, stage)
		}
		if !p.InBounds(values[name]) {
			return fmt.Errorf("stage %q parameter %q value %v outside bounds [%v, %v]",
				stage, param, values[name], p.Min, p.Max)
		}
		if perStage[stage] == nil {
			perStage[stage] = make(map[string]float64)
		}
		perStage[stage][param] = values[name]
	}
	for stage, batch := range perStage {
		svc, _ := tm.pipeline.Stage(stage)
		if err := svc.SetParams(batch); err != nil {
			return err
		}
	}
	return nil
}

// Params returns all current parameter values under qualified names.
func (tm *TemplateMaker) Params() map[string]float64 {
	out := make(map[string]float64)
	for _, svc := range tm.pipeline.Stages() {
		for _, p := range svc.Params().Params() {
			out[svc.Stage()+"."+p.Name] = p.Value
		}
	}
	return out
}

// PipelineParam is a free parameter with its owning stage role.
type PipelineParam struct {
	Stage string
	Param stageapi.Param
}

// QualifiedName returns "<stage>.<param>".
func (pp PipelineParam) QualifiedName() string { return pp.Stage + "." + pp.Param.Name }

// FreeParams returns the scannable parameters of every stage, in pipeline
// order.
func (tm *TemplateMaker) FreeParams() []PipelineParam {
	var out []PipelineParam
	for _, svc := range tm.pipeline.Stages() {
		for _, p := range svc.FreeParams() {
			out = append(out, PipelineParam{Stage: svc.Stage(), Param: p})
		}
	}
	return out
}

// GenerateTemplate evaluates the full pipeline at the current parameter
// state. Repeated calls with unchanged parameters are served from the
// per-service caches.
func (tm *TemplateMaker) GenerateTemplate(ctx context.Context) (mapset.MapSet, error) {
	ctx, span, started := tm.startSpan(ctx, "generate_template")
	out, err := tm.pipeline.Run(ctx)
	tm.endSpan(ctx, "generate_template", span, started, err)
	if err != nil {
		return mapset.MapSet{}, err
	}
	templatesTotal.Inc()
	templateSeconds.Observe(time.Since(started).Seconds())
	return out, nil
}

// CacheStats reports every service's counters keyed by "<stage>.<service>".
func (tm *TemplateMaker) CacheStats() map[string]stageapi.CacheStats {
	out := make(map[string]stageapi.CacheStats)
	for _, svc := range tm.pipeline.Stages() {
		out[svc.Stage()+"."+svc.Name()] = svc.CacheStats()
	}
	return out
}

func (tm *TemplateMaker) nominalServices() []stageapi.NominalService {
	var out []stageapi.NominalService
	for _, svc := range tm.pipeline.Stages() {
		if ns, ok := svc.(stageapi.NominalService); ok {
			out = append(out, ns)
		}
	}
	return out
}

// WarmCaches restores persisted nominal transforms for every two-phase
// service whose stored fingerprint matches the current nominal parameter
// state. Loads run concurrently; staleness is a silent miss. Returns the
// number of services restored.
func (tm *TemplateMaker) WarmCaches(ctx context.Context) (int, error) {
	if tm.store == nil {
		return 0, nil
	}
	ctx, span, started := tm.startSpan(ctx, "warm_caches")
	services := tm.nominalServices()
	restored := make([]bool, len(services))
	g, gctx := errgroup.WithContext(ctx)
	for i, ns := range services {
		i, ns := i, ns
		g.Go(func() error {
			want := ns.NominalFingerprint()
			t, ok, err := snapshot.LoadTransform(gctx, tm.store, ns.Stage(), ns.Name(), want)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := ns.RestoreNominal(t); err != nil {
				return fmt.Errorf("restore nominal %s.%s: %w", ns.Stage(), ns.Name(), err)
			}
			restored[i] = true
			return nil
		})
	}
	err := g.Wait()
	tm.endSpan(ctx, "warm_caches", span, started, err)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ok := range restored {
		if ok {
			n++
		}
	}
	return n, nil
}

// SaveNominal builds (or reuses) and persists the nominal transform of every
// two-phase service. Returns the number of snapshots written.
func (tm *TemplateMaker) SaveNominal(ctx context.Context) (int, error) {
	if tm.store == nil {
		return 0, fmt.Errorf("no snapshot store configured")
	}
	ctx, span, started := tm.startSpan(ctx, "save_nominal")
	saved := 0
	var err error
	for _, ns := range tm.nominalServices() {
		var t stageapi.Transform
		t, err = ns.BuildNominal(ctx)
		if err != nil {
			err = fmt.Errorf("build nominal %s.%s: %w", ns.Stage(), ns.Name(), err)
			break
		}
		var rec snapshot.Record
		rec, err = snapshot.Encode(ns.Stage(), ns.Name(), t)
		if err != nil {
			break
		}
		if err = tm.store.Save(ctx, rec); err != nil {
			err = fmt.Errorf("save nominal %s.%s: %w", ns.Stage(), ns.Name(), err)
			break
		}
		saved++
	}
	tm.endSpan(ctx, "save_nominal", span, started, err)
	if err != nil {
		return saved, err
	}
	return saved, nil
}

// ParamGrid maps qualified free parameter names to the values to visit.
type ParamGrid map[string][]float64

// ScanPoint is one evaluated grid point.
type ScanPoint struct {
	Params              map[string]float64 `json:"params"`
	Chi2                float64            `json:"chi2"`
	TemplateFingerprint string             `json:"template_fingerprint"`
}

// ScanResult is the outcome of a grid scan against a data MapSet.
type ScanResult struct {
	RunID      string             `json:"run_id"`
	Pipeline   string             `json:"pipeline"`
	Points     []ScanPoint        `json:"points"`
	BestParams map[string]float64 `json:"best_params"`
	BestChi2   float64            `json:"best_chi2"`
}

func (tm *TemplateMaker) validateGrid(grid ParamGrid) ([]string, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("empty scan grid")
	}
	free := make(map[string]bool)
	for _, pp := range tm.FreeParams() {
		free[pp.QualifiedName()] = true
	}
	names := make([]string, 0, len(grid))
	for name, values := range grid {
		if !free[name] {
			return nil, fmt.Errorf("%w: %q is not a free parameter", ErrUnknownParam, name)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("scan grid for %q is empty", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Scan evaluates the template on the cartesian product of the grid and
// scores each point against data with a chi2 over all data maps. The
// parameter state is restored afterwards; repeated grid values hit the
// service caches instead of recomputing.
func (tm *TemplateMaker) Scan(ctx context.Context, data mapset.MapSet, grid ParamGrid) (*ScanResult, error) {
	names, err := tm.validateGrid(grid)
	if err != nil {
		return nil, err
	}
	ctx, span, started := tm.startSpan(ctx, "scan")
	result, err := tm.scan(ctx, data, grid, names)
	tm.endSpan(ctx, "scan", span, started, err)
	return result, err
}

func (tm *TemplateMaker) scan(ctx context.Context, data mapset.MapSet, grid ParamGrid, names []string) (*ScanResult, error) {
	before := tm.Params()
	defer func() {
		_ = tm.SetParams(before)
	}()

	result := &ScanResult{
		RunID:    uuid.NewString(),
		Pipeline: tm.pipeline.Name(),
		BestChi2: math.Inf(1),
	}
	indices := make([]int, len(names))
	for {
		point := make(map[string]float64, len(names))
		for i, name := range names {
			point[name] = grid[name][indices[i]]
		}
		if err := tm.SetParams(point); err != nil {
			return nil, err
		}
		template, err := tm.GenerateTemplate(ctx)
		if err != nil {
			return nil, err
		}
		chi2, err := Chi2(template, data)
		if err != nil {
			return nil, err
		}
		result.Points = append(result.Points, ScanPoint{
			Params:              point,
			Chi2:                chi2,
			TemplateFingerprint: template.Fingerprint().String(),
		})
		if chi2 < result.BestChi2 {
			result.BestChi2 = chi2
			result.BestParams = point
		}

		// Advance the mixed-radix counter over the grid.
		i := len(indices) - 1
		for i >= 0 {
			indices[i]++
			if indices[i] < len(grid[names[i]]) {
				break
			}
			indices[i] = 0
			i--
		}
		if i < 0 {
			return result, nil
		}
	}
}

// MatchToData scans the grid and leaves the pipeline at the best-fit
// parameter values.
func (tm *TemplateMaker) MatchToData(ctx context.Context, data mapset.MapSet, grid ParamGrid) (map[string]float64, float64, error) {
	result, err := tm.Scan(ctx, data, grid)
	if err != nil {
		return nil, 0, err
	}
	if err := tm.SetParams(result.BestParams); err != nil {
		return nil, 0, err
	}
	return result.BestParams, result.BestChi2, nil
}

// Chi2 scores a template against data, summing ((t-d)/sigma)^2 over every
// bin of every data map. Sigma is the data error, with zero treated as one.
func Chi2(template, data mapset.MapSet) (float64, error) {
	total := 0.0
	for _, name := range data.Names() {
		d, _ := data.Get(name)
		t, ok := template.Get(name)
		if !ok {
			return 0, fmt.Errorf("template has no map %q for data comparison (has %v)",
				name, template.Names())
		}
		if t.NumBins() != d.NumBins() {
			return 0, fmt.Errorf("map %q: template has %d bins, data %d", name, t.NumBins(), d.NumBins())
		}
		for i := 0; i < d.NumBins(); i++ {
			sigma := d.Error(i)
			if sigma == 0 {
				sigma = 1
			}
			diff := (t.Value(i) - d.Value(i)) / sigma
			total += diff * diff
		}
	}
	return total, nil
}

// ScanPipelines runs the same scan on several independently constructed
// pipelines concurrently. Each maker owns its caches; nothing is shared.
func ScanPipelines(ctx context.Context, makers []*TemplateMaker, data mapset.MapSet, grid ParamGrid) ([]*ScanResult, error) {
	results := make([]*ScanResult, len(makers))
	g, gctx := errgroup.WithContext(ctx)
	for i, tm := range makers {
		i, tm := i, tm
		g.Go(func() error {
			r, err := tm.Scan(gctx, data, grid)
			if err != nil {
				return fmt.Errorf("pipeline %q: %w", tm.pipeline.Name(), err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
