package stageapi

import (
	"encoding/json"
	"fmt"

	"pisa/pkg/binning"
	"pisa/pkg/fingerprint"
)

// The durable snapshot layer persists nominal transforms as JSON. Only
// BinnedTransform has an encoding; services with bespoke transform types
// cannot participate in snapshotting.

type dimensionJSON struct {
	Name  string    `json:"name"`
	Edges []float64 `json:"edges"`
}

type transformJSON struct {
	Kind        TransformKind   `json:"kind"`
	Fingerprint string          `json:"fingerprint"`
	Inputs      []string        `json:"inputs,omitempty"`
	Binning     []dimensionJSON `json:"binning"`
	Weights     []float64       `json:"weights,omitempty"`
	Kernel      [][]float64     `json:"kernel,omitempty"`
	Sources     []SourceMap     `json:"sources,omitempty"`
}

// EncodeTransform serializes a BinnedTransform for durable storage.
func EncodeTransform(t Transform) ([]byte, error) {
	bt, ok := t.(*BinnedTransform)
	if !ok {
		return nil, fmt.Errorf("transform type %T has no durable encoding", t)
	}
	dims := bt.outB.Dims()
	enc := transformJSON{
		Kind:        bt.kind,
		Fingerprint: bt.fp.String(),
		Inputs:      bt.inputs,
		Binning:     make([]dimensionJSON, len(dims)),
		Weights:     bt.weights,
		Kernel:      bt.kernel,
		Sources:     bt.sources,
	}
	for i, d := range dims {
		enc.Binning[i] = dimensionJSON{Name: d.Name, Edges: d.Edges}
	}
	return json.Marshal(enc)
}

// DecodeTransform reverses EncodeTransform, re-validating all structural
// invariants on the way in.
func DecodeTransform(data []byte) (Transform, error) {
	var enc transformJSON
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decode transform: %w", err)
	}
	fp, err := fingerprint.Parse(enc.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("decode transform: %w", err)
	}
	dims := make([]binning.Dimension, len(enc.Binning))
	for i, d := range enc.Binning {
		dims[i] = binning.Dimension{Name: d.Name, Edges: d.Edges}
	}
	b, err := binning.New(dims...)
	if err != nil {
		return nil, fmt.Errorf("decode transform: %w", err)
	}
	switch enc.Kind {
	case KindSource:
		return NewSource(fp, b, enc.Sources)
	case KindElementwise:
		return NewElementwise(fp, enc.Inputs, b, enc.Weights)
	case KindKernel:
		return NewKernel(fp, enc.Inputs, b, enc.Kernel)
	default:
		return nil, fmt.Errorf("decode transform: unknown kind %q", enc.Kind)
	}
}
