package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite persists snapshots in a single embedded database table, one row per
// (stage, service) holding the JSON-encoded record.
type SQLite struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLite opens (creating if needed) a sqlite-backed snapshot store at
// path. An empty path defaults to ./pisa-snapshots.db.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "pisa-snapshots.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS nominal_snapshots (
		stage TEXT NOT NULL,
		service TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (stage, service)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Driver implements Store.
func (s *SQLite) Driver() Driver { return DriverSQLite }

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO nominal_snapshots (stage, service, payload)
		VALUES (?, ?, ?)
		ON CONFLICT (stage, service) DO UPDATE SET payload = excluded.payload`,
		rec.Stage, rec.Service, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLite) Load(ctx context.Context, stage, service string) (Record, bool, error) {
	if err := validateKey(stage, service); err != nil {
		return Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM nominal_snapshots WHERE stage = ? AND service = ?`,
		stage, service).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("select snapshot: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		// Stale row format: miss, not error.
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, stage, service string) (bool, error) {
	if err := validateKey(stage, service); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM nominal_snapshots WHERE stage = ? AND service = ?`, stage, service)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
