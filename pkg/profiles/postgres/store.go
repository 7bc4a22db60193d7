// Package postgres persists the voice-profile registry in PostgreSQL with a
// pgvector column for the 128-element signature. It is the optional
// alternative to the default JSON-file store for listeners who already run
// Postgres.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/earshot/pkg/profiles"
)

var _ profiles.Store = (*Store)(nil)

// Store is a PostgreSQL-backed profiles.Store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the database at dsn,
// registers pgvector types on every connection, and ensures the schema
// exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres profiles: parse dsn: %w", err)
	}

	// Register pgvector types so signature columns scan into pgvector.Vector.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres profiles: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres profiles: ping: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres profiles: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// migrate creates the extension and tables if they do not exist.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS voice_profiles (
			id           text PRIMARY KEY,
			name         text NOT NULL DEFAULT '',
			signature    vector(%d) NOT NULL,
			created_at   timestamptz NOT NULL,
			last_used_at timestamptz NOT NULL,
			match_count  integer NOT NULL DEFAULT 0
		)`, profiles.SignatureSize),
		`CREATE TABLE IF NOT EXISTS filter_settings (
			singleton   boolean PRIMARY KEY DEFAULT true CHECK (singleton),
			sensitivity double precision NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load implements profiles.Store.
func (s *Store) Load(ctx context.Context) (profiles.Snapshot, error) {
	var snap profiles.Snapshot

	err := s.pool.QueryRow(ctx,
		`SELECT sensitivity FROM filter_settings WHERE singleton`).Scan(&snap.Sensitivity)
	if err != nil && err != pgx.ErrNoRows {
		return profiles.Snapshot{}, fmt.Errorf("postgres profiles: load settings: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, signature, created_at, last_used_at, match_count
		 FROM voice_profiles ORDER BY created_at`)
	if err != nil {
		return profiles.Snapshot{}, fmt.Errorf("postgres profiles: query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p   profiles.Profile
			sig pgvector.Vector
		)
		if err := rows.Scan(&p.ID, &p.Name, &sig, &p.CreatedAt, &p.LastUsedAt, &p.MatchCount); err != nil {
			return profiles.Snapshot{}, fmt.Errorf("postgres profiles: scan profile: %w", err)
		}
		p.Signature = sig.Slice()
		snap.Profiles = append(snap.Profiles, p)
	}
	if err := rows.Err(); err != nil {
		return profiles.Snapshot{}, fmt.Errorf("postgres profiles: iterate profiles: %w", err)
	}
	return snap, nil
}

// Save implements profiles.Store. The snapshot replaces all persisted state
// in a single transaction.
func (s *Store) Save(ctx context.Context, snap profiles.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres profiles: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO filter_settings (singleton, sensitivity) VALUES (true, $1)
		 ON CONFLICT (singleton) DO UPDATE SET sensitivity = EXCLUDED.sensitivity`,
		snap.Sensitivity); err != nil {
		return fmt.Errorf("postgres profiles: save settings: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM voice_profiles`); err != nil {
		return fmt.Errorf("postgres profiles: clear profiles: %w", err)
	}

	for _, p := range snap.Profiles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO voice_profiles (id, name, signature, created_at, last_used_at, match_count)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.Name, pgvector.NewVector(p.Signature), p.CreatedAt, p.LastUsedAt, p.MatchCount); err != nil {
			return fmt.Errorf("postgres profiles: insert profile %q: %w", p.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres profiles: commit: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
