package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS vault_entries (
	scope_id    TEXT        NOT NULL,
	token       TEXT        NOT NULL,
	original    TEXT        NOT NULL,
	entity_type TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ,
	PRIMARY KEY (scope_id, token)
)`

// PostgresStore persists vault entries in PostgreSQL, for deployments
// where unmasking may land on a different replica or after a restart.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection, verifies it, and ensures
// the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Put(ctx context.Context, scopeID string, entry Entry) error {
	var expires sql.NullTime
	if !entry.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: entry.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_entries (scope_id, token, original, entity_type, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope_id, token)
		DO UPDATE SET original = EXCLUDED.original, entity_type = EXCLUDED.entity_type, expires_at = EXCLUDED.expires_at`,
		scopeID, entry.Token, entry.Original, entry.EntityType, entry.CreatedAt, expires)
	if err != nil {
		return fmt.Errorf("postgres: put: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, scopeID, token string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT original, entity_type, created_at, expires_at
		FROM vault_entries
		WHERE scope_id = $1 AND token = $2
		  AND (expires_at IS NULL OR expires_at > now())`,
		scopeID, token)

	var entry Entry
	var expires sql.NullTime
	err := row.Scan(&entry.Original, &entry.EntityType, &entry.CreatedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("postgres: get: %w", err)
	}
	entry.ScopeID = scopeID
	entry.Token = token
	if expires.Valid {
		entry.ExpiresAt = expires.Time
	}
	return entry, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, scopeID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_entries WHERE scope_id = $1`, scopeID); err != nil {
		return fmt.Errorf("postgres: delete scope: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
