package core

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleSettings = `
name: minimal
binning:
  - name: energy
    edges: [0, 1, 2, 3]
stages:
  - stage: source
    service: histogram
    options:
      maps:
        nue: [1, 2, 3]
  - stage: norm
    service: scale
    options:
      inputs: [nue]
    params:
      livetime:
        value: 2.0
        nominal: 1.0
        min: 0.0
        max: 10.0
        free: true
      nue.gain:
        value: 1.0
        systematic: true
`

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(sampleSettings))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Name != "minimal" || len(s.Stages) != 2 {
		t.Fatalf("unexpected settings %+v", s)
	}
	b, err := s.BuildBinning()
	if err != nil {
		t.Fatalf("binning: %v", err)
	}
	if b.NumBins() != 3 {
		t.Fatalf("bins = %d, want 3", b.NumBins())
	}

	overrides := s.Stages[1].paramOverrides()
	if len(overrides) != 2 {
		t.Fatalf("overrides = %d, want 2", len(overrides))
	}
	// Sorted by name: livetime before nue.gain.
	lt := overrides[0]
	if lt.Name != "livetime" || lt.Value != 2 || lt.Nominal != 1 || !lt.Free {
		t.Fatalf("livetime override wrong: %+v", lt)
	}
	if !lt.HasBounds || lt.Min != 0 || lt.Max != 10 {
		t.Fatalf("livetime bounds wrong: %+v", lt)
	}
	gain := overrides[1]
	if gain.Name != "nue.gain" || !gain.Systematic {
		t.Fatalf("gain override wrong: %+v", gain)
	}
	// Nominal defaults to the value when unspecified.
	if gain.Nominal != 1 {
		t.Fatalf("gain nominal = %v, want the value", gain.Nominal)
	}
	// Bounds require both min and max.
	if gain.HasBounds {
		t.Fatalf("gain should be unbounded: %+v", gain)
	}
}

func TestParseSettingsValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no binning", "name: x\nstages: [{stage: a, service: b}]"},
		{"no stages", "name: x\nbinning: [{name: e, edges: [0, 1]}]"},
		{"unnamed stage", "binning: [{name: e, edges: [0, 1]}]\nstages: [{service: b}]"},
		{"duplicate role", `
binning: [{name: e, edges: [0, 1]}]
stages:
  - {stage: a, service: b}
  - {stage: a, service: c}
`},
		{"not yaml", "{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseSettings([]byte(tc.yaml)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(sampleSettings), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "minimal" {
		t.Fatalf("name = %q", s.Name)
	}
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
