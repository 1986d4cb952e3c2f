package stageapi

import (
	"context"

	"pisa/pkg/binning"
	"pisa/pkg/fingerprint"
	"pisa/pkg/mapset"
)

// Service is one concrete, swappable implementation of a pipeline stage. A
// service owns its parameters, builds and caches transforms, and computes its
// own fingerprints from its declared dependency set.
type Service interface {
	// Name is the service implementation name, e.g. "histogram".
	Name() string
	// Stage is the stage role the service fills, e.g. "flux".
	Stage() string
	// Version participates in fingerprints so that algorithm changes
	// invalidate stale caches and snapshots.
	Version() string

	// Params returns the live parameter set.
	Params() *ParamSet
	// SetParams applies a batch of value updates by parameter name.
	SetParams(values map[string]float64) error
	// FreeParams returns the parameters the minimizer may vary.
	FreeParams() []Param

	// DependsOn enumerates, in stable order, every parameter capable of
	// changing the service's transform. Fingerprints cover exactly this set;
	// an omission here is a silent-corruption bug, which is why the set is an
	// explicit declaration rather than discovered.
	DependsOn() []string

	// InputNames lists required upstream map names; empty marks a source
	// stage whose Apply receives nil.
	InputNames() []string
	// OutputNames lists the maps the service produces.
	OutputNames() []string
	// OutputBinning is the binning of every produced map.
	OutputBinning() binning.Binning

	// Apply evaluates the stage: derive the transform fingerprint from the
	// full current parameter state, reuse or build the transform, derive the
	// result fingerprint from (input fingerprint, transform fingerprint),
	// reuse or compute the output MapSet.
	Apply(ctx context.Context, in *mapset.MapSet) (mapset.MapSet, error)

	// CacheStats exposes instrumentation counters for the service's caches
	// and build/apply work, so callers can verify reuse end to end.
	CacheStats() CacheStats
}

// NominalService is the optional two-phase capability: an expensive nominal
// transform depending only on non-systematic parameters, plus a cheap
// systematics adjustment inside Apply. The orchestrator uses this interface
// solely to persist and restore nominal transforms; evaluation always goes
// through Apply.
type NominalService interface {
	Service

	// NominalFingerprint is derived from the non-systematic subset of the
	// declared dependencies plus service identity.
	NominalFingerprint() fingerprint.Fingerprint
	// BuildNominal computes the nominal transform (or returns the cached
	// one) without applying it.
	BuildNominal(ctx context.Context) (Transform, error)
	// RestoreNominal installs a transform recovered from durable storage.
	// The caller has already verified its fingerprint.
	RestoreNominal(t Transform) error
	// NominalTransform returns the currently held nominal transform, if any.
	NominalTransform() (Transform, bool)
}

// CacheStats aggregates a service's cache and work counters.
type CacheStats struct {
	TransformHits   uint64
	TransformMisses uint64
	ResultHits      uint64
	ResultMisses    uint64
	Builds          uint64 // transforms actually constructed
	Applies         uint64 // transforms actually applied to inputs
}
