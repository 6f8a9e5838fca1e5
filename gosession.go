// Package gosession implements server-side HTTP session management: a
// request-scoped key/value store backed by a pluggable durable backend,
// with cookie or header credentials that are cleartext when no key is
// configured and both authenticated and encrypted when one is (there is no
// sign-only mode). See config.Config for the full policy surface and Middleware
// for the request-handling pipeline.
package gosession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/swfrench/gosession/config"
	"github.com/swfrench/gosession/internal/codec"
	"github.com/swfrench/gosession/internal/retry"
	"github.com/swfrench/gosession/sessionkey"
	"github.com/swfrench/gosession/store"
)

// ErrManualModeViolation indicates that a handler invoked an operation that
// requires a record the current SessionMode does not create implicitly.
var ErrManualModeViolation = errors.New("gosession: session mode does not permit this operation")

// ErrIDGenerationExhausted indicates that no collision-free session ID could
// be minted within the retry budget - a fatal, non-retryable condition.
var ErrIDGenerationExhausted = errors.New("gosession: exhausted session id generation attempts")

// entry pairs one live SessionRecord with the lock that serializes mutation
// of it. Per the design, a mutation holds this lock only across the single
// in-memory update and never across a backend call.
type entry struct {
	mu  sync.Mutex
	rec *Record
}

// keyEntry is the per-session-mode analogue of entry, guarding one
// sessionkey.Key.
type keyEntry struct {
	mu  sync.Mutex
	key *sessionkey.Key
}

// Store is the central coordinator: configuration, the live session-record
// set, the optional per-session key set, the optional membership filter, the
// backend reference, and the sweep timers. Construct with NewStore.
type Store struct {
	// Clock can be overridden in tests.
	Clock func() time.Time

	cfg     *config.Config
	backend store.Backend
	codec   *codec.Codec

	mapsMu  sync.RWMutex
	records map[string]*entry
	keys    map[string]*keyEntry

	filter *membershipFilter

	timersMu         sync.Mutex
	lastMemorySweep  time.Time
	lastDurableSweep time.Time
}

// NewStore returns a Store using cfg (nil selects config.Default()) and
// backend (nil selects an in-memory-only, backend-less configuration - the
// design's "memoryless" Optional<StorageBackend> == None case is instead
// modeled here as "no durable write-back", since the live set is always
// in-memory).
func NewStore(cfg *config.Config, backend store.Backend) *Store {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Store{
		Clock:   time.Now,
		cfg:     cfg,
		backend: backend,
		codec:   codec.New(cfg),
		records: make(map[string]*entry),
	}
	if cfg.SecurityMode == config.PerSession {
		s.keys = make(map[string]*keyEntry)
	}
	if cfg.Memory.UseBloomFilters {
		s.filter = newMembershipFilter(cfg.Memory.FilterExpectedElements, cfg.Memory.FilterFalsePositiveProbability)
	}
	now := s.Clock()
	s.lastMemorySweep = now
	s.lastDurableSweep = now
	return s
}

// Config returns the Store's configuration. Callers must not mutate it.
func (s *Store) Config() *config.Config { return s.cfg }

func (s *Store) entryFor(id string, create bool) (*entry, bool) {
	s.mapsMu.RLock()
	e, ok := s.records[id]
	s.mapsMu.RUnlock()
	if ok || !create {
		return e, ok
	}
	s.mapsMu.Lock()
	defer s.mapsMu.Unlock()
	if e, ok := s.records[id]; ok {
		return e, true
	}
	e = &entry{}
	s.records[id] = e
	return e, false
}

func (s *Store) withRecord(id string, fn func(rec *Record) error) error {
	e, ok := s.entryFor(id, false)
	if !ok {
		return fmt.Errorf("%w: no live record for id %q", store.ErrSessionNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return fmt.Errorf("%w: no live record for id %q", store.ErrSessionNotFound, id)
	}
	return fn(e.rec)
}

// Get returns the value stored under key in the session named id, and
// whether it was present.
func (s *Store) Get(id, key string) (string, bool) {
	var value string
	var ok bool
	_ = s.withRecord(id, func(rec *Record) error {
		value, ok = rec.Data[key]
		return nil
	})
	return value, ok
}

// Set stores value under key in the session named id, marking it dirty for
// write-back.
func (s *Store) Set(id, key, value string) error {
	return s.withRecord(id, func(rec *Record) error {
		rec.Data[key] = value
		rec.Update = true
		return nil
	})
}

// Remove deletes key from the session named id, marking it dirty.
func (s *Store) Remove(id, key string) error {
	return s.withRecord(id, func(rec *Record) error {
		delete(rec.Data, key)
		rec.Update = true
		return nil
	})
}

// ClearData empties the data map of the session named id, marking it dirty.
func (s *Store) ClearData(id string) error {
	return s.withRecord(id, func(rec *Record) error {
		rec.Data = make(map[string]string)
		rec.Update = true
		return nil
	})
}

// Renew flags the session named id for ID rotation. The actual rotation
// (generating a new ID, migrating the live-set entry, and deleting the old
// backend row) happens during middleware post-processing, since it requires
// backend access and whole-map coordination that a handle must not perform
// directly.
func (s *Store) Renew(id string) error {
	return s.withRecord(id, func(rec *Record) error {
		rec.Renew = true
		rec.Update = true
		return nil
	})
}

// Destroy flags the session named id for destruction on write-back.
func (s *Store) Destroy(id string) error {
	return s.withRecord(id, func(rec *Record) error {
		rec.Destroy = true
		rec.Update = true
		return nil
	})
}

// SetLongterm toggles whether the session named id uses MaxLifespan (true)
// or Lifespan (false) as its durable expiry on the next write-back.
func (s *Store) SetLongterm(id string, longterm bool) error {
	return s.withRecord(id, func(rec *Record) error {
		rec.Longterm = longterm
		rec.Update = true
		return nil
	})
}

// SetStore toggles whether an OptIn-mode session is eligible for
// write-back.
func (s *Store) SetStore(id string, storable bool) error {
	return s.withRecord(id, func(rec *Record) error {
		rec.Storable = storable
		rec.Update = true
		return nil
	})
}

// CreateData mints the session record named id. In Manual mode no record is
// implicitly created for a fresh ID (see ensureRecord's skipRecord path in
// Middleware), so a handler must call this before Get/Set/etc. will do
// anything; it also marks the record storable, mirroring create_data's
// "this will also set the store to true" contract. Invoking it outside
// Manual mode is a usage error, since every other mode already guarantees
// a record exists.
func (s *Store) CreateData(id string) error {
	if !s.cfg.SessionMode.IsManual() {
		return ErrManualModeViolation
	}
	now := s.Clock()
	e, _ := s.entryFor(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		e.rec = newRecord(id, true, now, s.cfg.Memory.MemoryLifespan)
	}
	return nil
}

// IncRequests increments the parallel-request refcount for id.
func (s *Store) IncRequests(id string) error {
	return s.withRecord(id, func(rec *Record) error {
		rec.Requests++
		return nil
	})
}

// DecRequests decrements the parallel-request refcount for id, floored at
// zero.
func (s *Store) DecRequests(id string) error {
	return s.withRecord(id, func(rec *Record) error {
		if rec.Requests > 0 {
			rec.Requests--
		}
		return nil
	})
}

// Count returns the number of non-expired sessions: the backend's count if
// a backend is configured (the durable view is authoritative), else the
// live-set size.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s.backend != nil {
		return s.backend.Count(ctx, s.cfg.Database.TableName)
	}
	s.mapsMu.RLock()
	defer s.mapsMu.RUnlock()
	return int64(len(s.records)), nil
}

// candidateKnown reports whether id is already known to either the live set
// or the membership filter, the two checks that are free of backend I/O.
func (s *Store) candidateKnown(id string) bool {
	if _, ok := s.entryFor(id, false); ok {
		return true
	}
	if s.filter != nil && s.filter.contains(id) {
		return true
	}
	return false
}

// generateUniqueID mints a fresh session ID, rejecting candidates known to
// the live set, the membership filter, or (if a backend is present) the
// backend's existence check. Exhaustion of the retry budget is fatal, per
// the design.
func (s *Store) generateUniqueID(ctx context.Context) (string, error) {
	var id string
	fn := func(rctx *retry.RetryContext) {
		candidate := s.cfg.IDGenerator()
		if s.candidateKnown(candidate) {
			return
		}
		if s.backend != nil {
			exists, err := s.backend.Exists(ctx, candidate, s.cfg.Database.TableName)
			if err != nil {
				slog.Error("gosession: backend existence check failed during id generation", "error", err)
				return
			}
			if exists {
				return
			}
		}
		id = candidate
		rctx.Done()
	}
	policy := retry.Backoff{Base: 10 * time.Millisecond, Growth: 2.0, Jitter: 0.2}
	if err := policy.Do(fn, 8); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIDGenerationExhausted, err)
	}
	if s.filter != nil {
		s.filter.add(id)
	}
	return id, nil
}
