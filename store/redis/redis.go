// Package redis provides a Redis-backed store.Backend with native TTL
// expiry, generalized from the prior Redis-backed SessionStore.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/swfrench/gosession/store"
)

// Store is a Redis-based store.Backend. Keys are namespaced as
// "{table}:{id}" - uniformly, resolving the design's ambiguity between a
// "{table}:0:*" and a "{table}:*" scan pattern by always using the latter.
type Store struct {
	rc *goredis.Client
}

// New returns a new Store using the provided Redis client.
func New(rc *goredis.Client) *Store {
	return &Store{rc: rc}
}

func key(table, id string) string {
	return fmt.Sprintf("%s:%s", table, id)
}

// Initiate is a no-op: Redis requires no schema setup.
func (s *Store) Initiate(ctx context.Context, table string) error {
	return nil
}

// Count returns the number of non-expired keys under table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	ids, err := s.GetIDs(ctx, table)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// Store upserts the serialized row under id, with Redis's native TTL set
// from expiresUnix.
func (s *Store) Store(ctx context.Context, id string, serialized string, expiresUnix int64, table string) error {
	ttl := time.Until(time.Unix(expiresUnix, 0))
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.rc.Set(ctx, key(table, id), serialized, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to store session: %w", err)
	}
	return nil
}

// Load returns the serialized row for id, or (nil, nil) on a miss.
func (s *Store) Load(ctx context.Context, id string, table string) (*string, error) {
	val, err := s.rc.Get(ctx, key(table, id)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to load session: %w", err)
	}
	return &val, nil
}

// Exists reports whether id maps to a non-expired key.
func (s *Store) Exists(ctx context.Context, id string, table string) (bool, error) {
	n, err := s.rc.Exists(ctx, key(table, id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to check existence: %w", err)
	}
	return n > 0, nil
}

// DeleteOneByID deletes exactly the key matching id (an equality match - the
// design this backend is grounded on once used a "<" comparator in one
// language binding, which was a bug; this backend always matches by exact
// key).
func (s *Store) DeleteOneByID(ctx context.Context, id string, table string) error {
	n, err := s.rc.Del(ctx, key(table, id)).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to delete session: %w", err)
	}
	if n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// DeleteByExpiry is a safe no-op: Redis's own TTL expiry already evicts
// expired keys, which is why AutoHandlesExpiry reports true.
func (s *Store) DeleteByExpiry(ctx context.Context, table string) ([]string, error) {
	return nil, nil
}

// DeleteAll deletes every key under table.
func (s *Store) DeleteAll(ctx context.Context, table string) error {
	ids, err := s.GetIDs(ctx, table)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(table, id)
	}
	if err := s.rc.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete all sessions: %w", err)
	}
	return nil
}

// GetIDs returns the ids of all keys under table, via SCAN (never KEYS, to
// avoid blocking the server on large keyspaces).
func (s *Store) GetIDs(ctx context.Context, table string) ([]string, error) {
	prefix := table + ":"
	var ids []string
	iter := s.rc.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to scan keys: %w", err)
	}
	return ids, nil
}

// AutoHandlesExpiry always reports true: Redis's native TTL self-evicts.
func (s *Store) AutoHandlesExpiry() bool {
	return true
}
