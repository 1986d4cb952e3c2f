package core

import (
	"context"
	"errors"
	"testing"

	"pisa/pkg/binning"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
	"pisa/pkg/stageapi"
)

func testBinning(t *testing.T) binning.Binning {
	t.Helper()
	b, err := binning.New(binning.Dimension{Name: "energy", Edges: []float64{0, 1, 2, 3}})
	if err != nil {
		t.Fatalf("binning: %v", err)
	}
	return b
}

func mustParams(t *testing.T, params ...stageapi.Param) *stageapi.ParamSet {
	t.Helper()
	ps, err := stageapi.NewParamSet(params...)
	if err != nil {
		t.Fatalf("param set: %v", err)
	}
	return ps
}

func newTestBase(t *testing.T, params *stageapi.ParamSet, dependsOn []string) *Base {
	t.Helper()
	base, err := NewBase(BaseConfig{
		Stage:     "flux",
		Service:   "histogram",
		Version:   "1",
		Params:    params,
		DependsOn: dependsOn,
		Outputs:   []string{"nue"},
		Binning:   testBinning(t),
	})
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	return base
}

func sourceBuild(t *testing.T, b binning.Binning, values []float64) BuildFunc {
	t.Helper()
	return func(_ context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error) {
		return stageapi.NewSource(fp, b, []stageapi.SourceMap{{Name: "nue", Values: values}})
	}
}

func TestNewBaseValidation(t *testing.T) {
	params := mustParams(t, stageapi.Param{Name: "scale", Value: 1})
	b := testBinning(t)
	cases := []struct {
		name string
		cfg  BaseConfig
	}{
		{"missing stage", BaseConfig{Service: "s", Params: params, Outputs: []string{"m"}, Binning: b}},
		{"missing params", BaseConfig{Stage: "flux", Service: "s", Outputs: []string{"m"}, Binning: b}},
		{"missing binning", BaseConfig{Stage: "flux", Service: "s", Params: params, Outputs: []string{"m"}}},
		{"missing outputs", BaseConfig{Stage: "flux", Service: "s", Params: params, Binning: b}},
		{"undeclared dependency", BaseConfig{Stage: "flux", Service: "s", Params: params,
			DependsOn: []string{"nope"}, Outputs: []string{"m"}, Binning: b}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewBase(tc.cfg); err == nil {
				t.Fatal("expected construction error")
			}
		})
	}
}

func TestEvaluateReusesTransformAndResult(t *testing.T) {
	ctx := context.Background()
	params := mustParams(t, stageapi.Param{Name: "scale", Value: 1, Nominal: 1})
	base := newTestBase(t, params, []string{"scale"})

	builds := 0
	build := func(ctx context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error) {
		builds++
		return stageapi.NewSource(fp, base.OutputBinning(), []stageapi.SourceMap{
			{Name: "nue", Values: []float64{1, 2, 3}},
		})
	}

	first, err := base.Evaluate(ctx, nil, build)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := base.Evaluate(ctx, nil, build)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if builds != 1 {
		t.Fatalf("builds = %d, want 1", builds)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatal("identical state produced different result fingerprints")
	}
	stats := base.CacheStats()
	if stats.Builds != 1 || stats.Applies != 1 {
		t.Fatalf("stats = %+v, want one build and one apply", stats)
	}
	if stats.TransformHits != 1 || stats.ResultHits != 1 {
		t.Fatalf("stats = %+v, want one hit on each cache", stats)
	}

	// A dependent parameter change invalidates both caches.
	if err := base.SetParams(map[string]float64{"scale": 2}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	third, err := base.Evaluate(ctx, nil, build)
	if err != nil {
		t.Fatalf("third evaluate: %v", err)
	}
	if builds != 2 {
		t.Fatalf("builds = %d after change, want 2", builds)
	}
	if third.Fingerprint() == first.Fingerprint() {
		t.Fatal("changed parameter reused the stale result")
	}

	// Reverting restores the original cached result without building.
	if err := base.SetParams(map[string]float64{"scale": 1}); err != nil {
		t.Fatalf("revert params: %v", err)
	}
	fourth, err := base.Evaluate(ctx, nil, build)
	if err != nil {
		t.Fatalf("fourth evaluate: %v", err)
	}
	if builds != 2 {
		t.Fatalf("builds = %d after revert, want 2", builds)
	}
	if fourth.Fingerprint() != first.Fingerprint() {
		t.Fatal("reverted parameter did not reuse the original result")
	}
}

func TestEvaluateDerivesResultFromInputAndTransform(t *testing.T) {
	ctx := context.Background()
	b := testBinning(t)
	params := mustParams(t, stageapi.Param{Name: "gain", Value: 2, Nominal: 1})
	base, err := NewBase(BaseConfig{
		Stage: "norm", Service: "scale", Version: "1",
		Params: params, DependsOn: []string{"gain"},
		Inputs: []string{"nue"}, Outputs: []string{"nue"}, Binning: b,
	})
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	build := func(_ context.Context, fp fingerprint.Fingerprint) (stageapi.Transform, error) {
		return stageapi.NewElementwise(fp, []string{"nue"}, b, []float64{2, 2, 2})
	}

	makeInput := func(seed string, values []float64) mapset.MapSet {
		m, err := mapset.NewMap("nue", b, values, nil, nil)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		ms, err := mapset.Build(fingerprint.New("input").String(seed).Sum(), m)
		if err != nil {
			t.Fatalf("mapset: %v", err)
		}
		return ms
	}

	in1 := makeInput("a", []float64{1, 2, 3})
	in2 := makeInput("b", []float64{1, 2, 3})

	out1, err := base.Evaluate(ctx, &in1, build)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	out2, err := base.Evaluate(ctx, &in2, build)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out1.Fingerprint() == out2.Fingerprint() {
		t.Fatal("different input fingerprints produced the same result fingerprint")
	}
	want := fingerprint.Derive(in1.Fingerprint(), base.TransformFingerprint())
	if out1.Fingerprint() != want {
		t.Fatalf("result fingerprint %s, want derivation %s", out1.Fingerprint().Short(), want.Short())
	}
	m, _ := out1.Get("nue")
	if m.Value(0) != 2 || m.Value(2) != 6 {
		t.Fatalf("unexpected output values %v", m.Values())
	}
}

func TestSetParamsRejectsUnknownWithoutSideEffects(t *testing.T) {
	params := mustParams(t,
		stageapi.Param{Name: "scale", Value: 1, Nominal: 1},
		stageapi.Param{Name: "shift", Value: 0, Nominal: 0},
	)
	base := newTestBase(t, params, []string{"scale"})

	err := base.SetParams(map[string]float64{"scale": 5, "bogus": 1})
	if !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("err = %v, want ErrUnknownParam", err)
	}
	p, _ := base.Params().Get("scale")
	if p.Value != 1 {
		t.Fatalf("rejected batch mutated scale to %v", p.Value)
	}
}

func TestSetParamsRejectsOutOfBoundsWithoutSideEffects(t *testing.T) {
	params := mustParams(t,
		stageapi.Param{Name: "scale", Value: 1, Nominal: 1},
		stageapi.Param{Name: "shift", Value: 0, Nominal: 0, Min: 0, Max: 2, HasBounds: true},
	)
	base := newTestBase(t, params, []string{"scale"})

	// The unbounded name sorts first; it must not be applied before the
	// bounds violation on the second is detected.
	if err := base.SetParams(map[string]float64{"scale": 9, "shift": 99}); err == nil {
		t.Fatal("expected bounds rejection")
	}
	p, _ := base.Params().Get("scale")
	if p.Value != 1 {
		t.Fatalf("rejected batch mutated scale to %v", p.Value)
	}
	p, _ = base.Params().Get("shift")
	if p.Value != 0 {
		t.Fatalf("rejected batch mutated shift to %v", p.Value)
	}
}

func TestFingerprintIgnoresUndeclaredParams(t *testing.T) {
	params := mustParams(t,
		stageapi.Param{Name: "scale", Value: 1, Nominal: 1},
		stageapi.Param{Name: "cosmetic", Value: 0, Nominal: 0},
	)
	base := newTestBase(t, params, []string{"scale"})

	before := base.TransformFingerprint()
	if err := base.SetParams(map[string]float64{"cosmetic": 7}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	if base.TransformFingerprint() != before {
		t.Fatal("undeclared parameter changed the transform fingerprint")
	}
	if err := base.SetParams(map[string]float64{"scale": 2}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	if base.TransformFingerprint() == before {
		t.Fatal("declared parameter did not change the transform fingerprint")
	}
}

func TestNominalFingerprintSkipsSystematics(t *testing.T) {
	params := mustParams(t,
		stageapi.Param{Name: "core", Value: 1, Nominal: 1},
		stageapi.Param{Name: "sys", Value: 0, Nominal: 0, Systematic: true},
	)
	base := newTestBase(t, params, []string{"core", "sys"})

	if base.NominalFingerprint() == base.TransformFingerprint() {
		t.Fatal("systematic parameter should split nominal and transform fingerprints")
	}
	nominal := base.NominalFingerprint()
	if err := base.SetParams(map[string]float64{"sys": 3}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	if base.NominalFingerprint() != nominal {
		t.Fatal("systematic value change moved the nominal fingerprint")
	}
	if err := base.SetParams(map[string]float64{"core": 2}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	if base.NominalFingerprint() == nominal {
		t.Fatal("non-systematic value change did not move the nominal fingerprint")
	}

	// Without systematics the two fingerprints coincide.
	plain := newTestBase(t, mustParams(t, stageapi.Param{Name: "core", Value: 1, Nominal: 1}), []string{"core"})
	if plain.NominalFingerprint() != plain.TransformFingerprint() {
		t.Fatal("systematics-free service should share nominal and transform fingerprints")
	}
}

func TestAdoptNominalSeedsTransformCache(t *testing.T) {
	ctx := context.Background()
	params := mustParams(t, stageapi.Param{Name: "scale", Value: 1, Nominal: 1})
	base := newTestBase(t, params, []string{"scale"})

	tfp := base.TransformFingerprint()
	restored, err := stageapi.NewSource(tfp, base.OutputBinning(), []stageapi.SourceMap{
		{Name: "nue", Values: []float64{9, 9, 9}},
	})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	base.AdoptNominal(restored)

	held, ok := base.HeldNominal()
	if !ok || held.Fingerprint() != tfp {
		t.Fatal("adopted nominal not held")
	}
	out, err := base.Evaluate(ctx, nil, func(context.Context, fingerprint.Fingerprint) (stageapi.Transform, error) {
		t.Fatal("build called despite seeded cache")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	m, _ := out.Get("nue")
	if m.Value(0) != 9 {
		t.Fatalf("seeded transform not used, got %v", m.Values())
	}
	if stats := base.CacheStats(); stats.Builds != 0 {
		t.Fatalf("stats = %+v, want zero builds", stats)
	}
}

func TestMergeParams(t *testing.T) {
	defaults := []stageapi.Param{
		{Name: "scale", Value: 1, Nominal: 1},
		{Name: "shift", Value: 0, Nominal: 0},
	}
	merged, err := MergeParams(defaults, []stageapi.Param{
		{Name: "scale", Value: 3, Nominal: 1, Free: true},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged[0].Value != 3 || !merged[0].Free {
		t.Fatalf("override not applied: %+v", merged[0])
	}
	if merged[1].Name != "shift" || merged[1].Value != 0 {
		t.Fatalf("untouched default changed: %+v", merged[1])
	}

	if _, err := MergeParams(defaults, []stageapi.Param{{Name: "bogus"}}); !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("err = %v, want ErrUnknownParam", err)
	}
}
