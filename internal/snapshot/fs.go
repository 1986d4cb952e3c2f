package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem stores one JSON file per (stage, service) under a root
// directory. Writes stream to a temp file and move into place atomically so
// a crashed save never leaves a half-written snapshot.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem snapshot store rooted at path, creating
// it if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./snapshots"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

// Driver implements Store.
func (f *Filesystem) Driver() Driver { return DriverFilesystem }

func sanitizeComponent(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("empty snapshot key component")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid snapshot key component %q", name)
	}
	return name, nil
}

func (f *Filesystem) pathFor(stage, service string) (string, error) {
	if err := validateKey(stage, service); err != nil {
		return "", err
	}
	st, err := sanitizeComponent(stage)
	if err != nil {
		return "", err
	}
	sv, err := sanitizeComponent(service)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, st, sv+".json"), nil
}

// Save implements Store.
func (f *Filesystem) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	path, err := f.pathFor(rec.Stage, rec.Service)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load implements Store. A file that exists but cannot be parsed is reported
// as absent: stale formats are recomputed, not surfaced.
func (f *Filesystem) Load(ctx context.Context, stage, service string) (Record, bool, error) {
	path, err := f.pathFor(stage, service)
	if err != nil {
		return Record{}, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete implements Store.
func (f *Filesystem) Delete(ctx context.Context, stage, service string) (bool, error) {
	path, err := f.pathFor(stage, service)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
