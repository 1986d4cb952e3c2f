// Package snapshot persists nominal transforms so a freshly started process
// can skip recomputing the expensive, parameter-independent baseline of a
// two-phase service. Entries are keyed by (stage, service) and guarded by the
// stored fingerprint: a mismatch against the freshly computed expected
// fingerprint is a cache miss, never an error surfaced to the user.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pisa/pkg/fingerprint"
	"pisa/pkg/stageapi"
)

// Driver identifies a concrete snapshot storage backend implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"       // one JSON file per entry (default, dev)
	DriverMemory     Driver = "memory"   // in-memory (tests / ephemeral)
	DriverSQLite     Driver = "sqlite"   // embedded sqlite file
	DriverPostgres   Driver = "postgres" // PostgreSQL server
	DriverS3         Driver = "s3"       // S3 / MinIO compatible
)

// Record is one persisted nominal transform.
type Record struct {
	Stage       string          `json:"stage"`
	Service     string          `json:"service"`
	Fingerprint string          `json:"fingerprint"`
	SavedAt     time.Time       `json:"saved_at"`
	Transform   json.RawMessage `json:"transform"`
}

func (r Record) validate() error {
	if r.Stage == "" || r.Service == "" {
		return fmt.Errorf("snapshot record requires stage and service")
	}
	if r.Fingerprint == "" {
		return fmt.Errorf("snapshot record requires a fingerprint")
	}
	if len(r.Transform) == 0 {
		return fmt.Errorf("snapshot record requires a transform payload")
	}
	return nil
}

// Store is the durable snapshot backend contract. Save overwrites any
// existing entry for the same (stage, service); concurrent access is
// serialized by the implementations since the store is off the hot path.
type Store interface {
	Save(ctx context.Context, rec Record) error
	// Load returns the stored record; ok is false when no entry exists.
	Load(ctx context.Context, stage, service string) (rec Record, ok bool, err error)
	Delete(ctx context.Context, stage, service string) (bool, error)
	Driver() Driver
}

// Encode builds a record from a transform owned by (stage, service).
func Encode(stage, service string, t stageapi.Transform) (Record, error) {
	payload, err := stageapi.EncodeTransform(t)
	if err != nil {
		return Record{}, fmt.Errorf("encode snapshot %s.%s: %w", stage, service, err)
	}
	rec := Record{
		Stage:       stage,
		Service:     service,
		Fingerprint: t.Fingerprint().String(),
		SavedAt:     time.Now().UTC(),
		Transform:   payload,
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// LoadTransform fetches and decodes the snapshot for (stage, service) and
// compares it against the expected fingerprint. Any form of staleness
// (absent entry, fingerprint mismatch, undecodable payload) is reported as a
// miss with ok == false. Only backend I/O failures return an error.
func LoadTransform(ctx context.Context, store Store, stage, service string, want fingerprint.Fingerprint) (stageapi.Transform, bool, error) {
	rec, ok, err := store.Load(ctx, stage, service)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s.%s: %w", stage, service, err)
	}
	if !ok {
		return nil, false, nil
	}
	stored, err := fingerprint.Parse(rec.Fingerprint)
	if err != nil || stored != want {
		return nil, false, nil
	}
	t, err := stageapi.DecodeTransform(rec.Transform)
	if err != nil {
		// Stale or corrupt format: treated as a miss, recomputed upstream.
		return nil, false, nil
	}
	if t.Fingerprint() != want {
		return nil, false, nil
	}
	return t, true, nil
}

func validateKey(stage, service string) error {
	if stage == "" || service == "" {
		return fmt.Errorf("snapshot key requires stage and service")
	}
	return nil
}
