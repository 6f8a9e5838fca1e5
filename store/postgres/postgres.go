// Package postgres provides a PostgreSQL-backed store.Backend using pgx,
// the one relational reference backend named by the design this module
// implements. Table layout follows the design's durable record layout:
// id VARCHAR(128) PRIMARY KEY, expires BIGINT NULL, session TEXT NOT NULL,
// with a btree index on expires.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swfrench/gosession/store"
)

// Store is a PostgreSQL-based store.Backend.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a new Store using the provided connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Initiate creates the table (and its expires index) if absent. Idempotent.
func (s *Store) Initiate(ctx context.Context, table string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id      VARCHAR(128) NOT NULL PRIMARY KEY,
			expires BIGINT NULL,
			session TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_expires_idx ON %[1]s (expires);
	`, table))
	if err != nil {
		return fmt.Errorf("postgres: failed to initiate schema: %w", err)
	}
	return nil
}

// Count returns the number of non-expired rows.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE expires IS NULL OR expires > $1`, table,
	), time.Now().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count sessions: %w", err)
	}
	return count, nil
}

// Store upserts the serialized row under id.
func (s *Store) Store(ctx context.Context, id string, serialized string, expiresUnix int64, table string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (id, session, expires) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			session = EXCLUDED.session,
			expires = EXCLUDED.expires
	`, table), id, serialized, expiresUnix)
	if err != nil {
		return fmt.Errorf("postgres: failed to store session: %w", err)
	}
	return nil
}

// Load returns the serialized row for id, or (nil, nil) on a miss - never
// ("", nil).
func (s *Store) Load(ctx context.Context, id string, table string) (*string, error) {
	var session string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT session FROM %s WHERE id = $1 AND (expires IS NULL OR expires > $2)`, table,
	), id, time.Now().Unix()).Scan(&session)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load session: %w", err)
	}
	return &session, nil
}

// Exists reports whether id maps to a non-expired row.
func (s *Store) Exists(ctx context.Context, id string, table string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1 AND (expires IS NULL OR expires > $2))`, table,
	), id, time.Now().Unix()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to check existence: %w", err)
	}
	return exists, nil
}

// DeleteOneByID deletes exactly the row matching id (an equality match -
// the design this backend is grounded on once used a "<" comparator for
// this operation in one language binding, which was a bug).
func (s *Store) DeleteOneByID(ctx context.Context, id string, table string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// DeleteByExpiry deletes all expired rows and returns their ids.
func (s *Store) DeleteByExpiry(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE expires IS NOT NULL AND expires < $1 RETURNING id`, table,
	), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to delete expired sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan expired session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to delete expired sessions: %w", err)
	}
	return ids, nil
}

// DeleteAll truncates table.
func (s *Store) DeleteAll(ctx context.Context, table string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, table))
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate sessions table: %w", err)
	}
	return nil
}

// GetIDs returns the ids of all non-expired rows.
func (s *Store) GetIDs(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE expires IS NULL OR expires > $1`, table,
	), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list session ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to list session ids: %w", err)
	}
	return ids, nil
}

// AutoHandlesExpiry always reports false: PostgreSQL has no native TTL, so
// expiry is reconciled only by the periodic DeleteByExpiry sweep.
func (s *Store) AutoHandlesExpiry() bool {
	return false
}
