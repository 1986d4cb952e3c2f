package core

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"pisa/pkg/binning"
	"pisa/pkg/stageapi"
)

// Settings is the YAML pipeline definition: a shared binning and an ordered
// stage list with the service selection and parameter declarations per stage.
type Settings struct {
	Name    string          `yaml:"name"`
	Binning []DimensionSpec `yaml:"binning"`
	Stages  []StageSpec     `yaml:"stages"`
}

// DimensionSpec is one binning dimension.
type DimensionSpec struct {
	Name  string    `yaml:"name"`
	Edges []float64 `yaml:"edges"`
}

// StageSpec selects a service for a stage role and overrides its parameter
// declarations.
type StageSpec struct {
	Stage   string               `yaml:"stage"`
	Service string               `yaml:"service"`
	Params  map[string]ParamSpec `yaml:"params"`
	Options map[string]any       `yaml:"options"`
}

// ParamSpec declares one parameter's value, bounds and role flags. Bounds
// apply only when both min and max are present; nominal defaults to the
// value.
type ParamSpec struct {
	Value      float64  `yaml:"value"`
	Nominal    *float64 `yaml:"nominal"`
	Min        *float64 `yaml:"min"`
	Max        *float64 `yaml:"max"`
	Free       bool     `yaml:"free"`
	Systematic bool     `yaml:"systematic"`
	Prior      string   `yaml:"prior"`
}

// ParseSettings decodes and validates YAML settings.
func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads and parses a settings file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data)
}

func (s Settings) validate() error {
	if len(s.Binning) == 0 {
		return fmt.Errorf("settings declare no binning")
	}
	if len(s.Stages) == 0 {
		return fmt.Errorf("settings declare no stages")
	}
	seen := make(map[string]bool, len(s.Stages))
	for i, st := range s.Stages {
		if st.Stage == "" || st.Service == "" {
			return fmt.Errorf("stage %d requires stage and service names", i)
		}
		if seen[st.Stage] {
			return fmt.Errorf("stage role %q declared twice", st.Stage)
		}
		seen[st.Stage] = true
	}
	return nil
}

// BuildBinning constructs the pipeline binning from the settings dimensions.
func (s Settings) BuildBinning() (binning.Binning, error) {
	dims := make([]binning.Dimension, len(s.Binning))
	for i, d := range s.Binning {
		dims[i] = binning.Dimension{Name: d.Name, Edges: d.Edges}
	}
	return binning.New(dims...)
}

// paramOverrides converts a stage's ParamSpec declarations to stageapi
// parameters, in sorted name order for determinism.
func (st StageSpec) paramOverrides() []stageapi.Param {
	if len(st.Params) == 0 {
		return nil
	}
	names := make([]string, 0, len(st.Params))
	for name := range st.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]stageapi.Param, 0, len(names))
	for _, name := range names {
		spec := st.Params[name]
		p := stageapi.Param{
			Name:       name,
			Value:      spec.Value,
			Nominal:    spec.Value,
			Free:       spec.Free,
			Systematic: spec.Systematic,
			Prior:      spec.Prior,
		}
		if spec.Nominal != nil {
			p.Nominal = *spec.Nominal
		}
		if spec.Min != nil && spec.Max != nil {
			p.Min, p.Max, p.HasBounds = *spec.Min, *spec.Max, true
		}
		out = append(out, p)
	}
	return out
}
