// Package memory provides the in-memory reference store.Backend, used for
// tests or pure in-memory Store operation (no durable backend configured).
//
// Unlike a "null" backend, this one does retain rows across the process
// lifetime (bounded by TTL), which makes it a useful stand-in for a real
// database in examples and integration tests.
//
// The table argument of every method is ignored: all tables share a single
// keyspace, so Count, GetIDs, and DeleteAll cover rows stored under any
// table name.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/swfrench/gosession/store"
)

type row struct {
	serialized  string
	expiresUnix int64
}

// Store is an in-memory store.Backend. Expired rows are garbage collected
// lazily, on entry to any method, via a binary-heap eviction queue (kept
// from the prior per-request-session memory store this backend descends
// from).
type Store struct {
	// Clock can be overridden in tests (e.g., to test eviction logic).
	Clock func() time.Time

	mu        sync.Mutex
	rows      map[string]row
	evictions *evictionQueue
}

// New returns a new Store instance.
func New() *Store {
	return &Store{
		Clock:     func() time.Time { return time.Now() },
		rows:      make(map[string]row),
		evictions: newEvictionQueue(),
	}
}

func (s *Store) evict(t time.Time) {
	for s.evictions.Len() > 0 && s.evictions.Peek().expires.Before(t) {
		key := s.evictions.Pop().key
		// A row re-stored with a later expiry leaves a stale queue entry
		// behind; only delete the row if it has itself expired.
		if r, ok := s.rows[key]; ok && time.Unix(r.expiresUnix, 0).Before(t) {
			delete(s.rows, key)
		}
	}
}

// Initiate is a no-op for the in-memory backend.
func (s *Store) Initiate(ctx context.Context, table string) error {
	return nil
}

// Count returns the number of non-expired rows.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.Clock())
	return int64(len(s.rows)), nil
}

// Store upserts the serialized row under id.
func (s *Store) Store(ctx context.Context, id string, serialized string, expiresUnix int64, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.Clock()
	s.evict(t)
	s.rows[id] = row{serialized: serialized, expiresUnix: expiresUnix}
	s.evictions.Push(id, time.Unix(expiresUnix, 0))
	return nil
}

// Load returns the serialized row for id, or (nil, nil) on a miss - never
// ("", nil).
func (s *Store) Load(ctx context.Context, id string, table string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.Clock())
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	v := r.serialized
	return &v, nil
}

// Exists reports whether id maps to a non-expired row.
func (s *Store) Exists(ctx context.Context, id string, table string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.Clock())
	_, ok := s.rows[id]
	return ok, nil
}

// DeleteOneByID deletes exactly the row matching id.
func (s *Store) DeleteOneByID(ctx context.Context, id string, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.Clock())
	if _, ok := s.rows[id]; !ok {
		return store.ErrSessionNotFound
	}
	// The stale evictions-queue entry is cleaned up lazily by evict.
	delete(s.rows, id)
	return nil
}

// DeleteByExpiry is a no-op: eviction already happens lazily on every call,
// and AutoHandlesExpiry reports true, so callers never rely on this to
// reconcile the membership filter.
func (s *Store) DeleteByExpiry(ctx context.Context, table string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.Clock())
	return nil, nil
}

// DeleteAll removes every row.
func (s *Store) DeleteAll(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]row)
	s.evictions = newEvictionQueue()
	return nil
}

// GetIDs returns the ids of all non-expired rows.
func (s *Store) GetIDs(ctx context.Context, table string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.Clock())
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

// AutoHandlesExpiry always reports true: the eviction queue self-evicts.
func (s *Store) AutoHandlesExpiry() bool {
	return true
}
