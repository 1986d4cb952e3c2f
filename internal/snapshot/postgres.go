package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	postgresDriverName = "pgx"
	defaultPostgresDSN = "postgres://localhost/pisa?sslmode=disable"
)

// Compile-time contract assertion.
var _ Store = (*Postgres)(nil)

// Postgres persists snapshots in a PostgreSQL table with the same single-row
// per (stage, service) layout as the sqlite store, for deployments sharing a
// durable nominal store across hosts. Access is serialized; the store is
// read once per process start per fingerprint and is not a hot path.
type Postgres struct {
	db *sql.DB
	mu sync.Mutex
}

// NewPostgres opens a postgres-backed snapshot store using the provided DSN
// (falls back to a localhost default) and ensures the snapshot table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open(postgresDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS nominal_snapshots (
		stage TEXT NOT NULL,
		service TEXT NOT NULL,
		payload BYTEA NOT NULL,
		PRIMARY KEY (stage, service)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Driver implements Store.
func (p *Postgres) Driver() Driver { return DriverPostgres }

// Close releases the database handle.
func (p *Postgres) Close() error { return p.db.Close() }

// Save implements Store.
func (p *Postgres) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.db.ExecContext(ctx, `INSERT INTO nominal_snapshots (stage, service, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (stage, service) DO UPDATE SET payload = excluded.payload`,
		rec.Stage, rec.Service, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load implements Store.
func (p *Postgres) Load(ctx context.Context, stage, service string) (Record, bool, error) {
	if err := validateKey(stage, service); err != nil {
		return Record{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM nominal_snapshots WHERE stage = $1 AND service = $2`,
		stage, service).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("select snapshot: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, stage, service string) (bool, error) {
	if err := validateKey(stage, service); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM nominal_snapshots WHERE stage = $1 AND service = $2`, stage, service)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
