package snapshot

import (
	"context"
	"sync"
)

// Memory is an in-process snapshot store for tests and ephemeral runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Driver implements Store.
func (m *Memory) Driver() Driver { return DriverMemory }

func memKey(stage, service string) string { return stage + "/" + service }

// Save implements Store.
func (m *Memory) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	cp.Transform = append([]byte(nil), rec.Transform...)
	m.records[memKey(rec.Stage, rec.Service)] = cp
	return nil
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context, stage, service string) (Record, bool, error) {
	if err := validateKey(stage, service); err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memKey(stage, service)]
	if !ok {
		return Record{}, false, nil
	}
	cp := rec
	cp.Transform = append([]byte(nil), rec.Transform...)
	return cp, true, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, stage, service string) (bool, error) {
	if err := validateKey(stage, service); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(stage, service)
	_, ok := m.records[key]
	delete(m.records, key)
	return ok, nil
}
