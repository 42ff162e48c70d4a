package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	pgSchema = `CREATE TABLE IF NOT EXISTS funnel_blobs (
	key        TEXT PRIMARY KEY,
	body       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	pgGet = `SELECT body FROM funnel_blobs WHERE key = $1`
	pgPut = `INSERT INTO funnel_blobs (key, body, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`
)

// PostgresStore keeps objects as rows of the funnel_blobs table.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgres connects with lib/pq and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("blobstore: connect postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the blob table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("blobstore: ensure schema: %w", err)
	}
	return nil
}

// Get selects the object body.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.db.GetContext(ctx, &body, pgGet, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: postgres get %q: %w", key, err)
	}
	return body, nil
}

// Put upserts the object body.
func (s *PostgresStore) Put(ctx context.Context, key string, body []byte) error {
	if _, err := s.db.ExecContext(ctx, pgPut, key, body); err != nil {
		return fmt.Errorf("blobstore: postgres put %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
