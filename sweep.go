package gosession

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// dueMemorySweep reports whether the in-memory live-set sweep is due at now,
// advancing the timer if so. Piggy-backed on request handling per the
// design: there is no dedicated background sweep task.
func (s *Store) dueMemorySweep(now time.Time) bool {
	if s.cfg.Memory.MemoryLifespan <= 0 {
		return false
	}
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if s.lastMemorySweep.After(now) {
		return false
	}
	s.lastMemorySweep = now.Add(s.cfg.Memory.PurgeUpdate)
	return true
}

// dueDurableSweep reports whether the durable-expiry sweep is due at now,
// advancing the timer if so.
func (s *Store) dueDurableSweep(now time.Time) bool {
	if s.backend == nil {
		return false
	}
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if s.lastDurableSweep.After(now) {
		return false
	}
	s.lastDurableSweep = now.Add(s.cfg.Database.PurgeDatabaseUpdate)
	return true
}

// sweepMemory evicts live records whose autoremove has passed and which
// have no in-flight requests. Per the membership-filter reconciliation
// rule, an evicted ID is removed from the filter only when there is no
// backend, or the backend self-expires (otherwise the durable sweep is
// responsible for reconciling the filter).
func (s *Store) sweepMemory(now time.Time) {
	s.mapsMu.Lock()
	var dead []string
	for id, e := range s.records {
		e.mu.Lock()
		evictable := e.rec == nil || (e.rec.Autoremove.Before(now) && e.rec.Requests == 0)
		e.mu.Unlock()
		if evictable {
			dead = append(dead, id)
			delete(s.records, id)
		}
	}
	s.mapsMu.Unlock()

	if s.filter == nil {
		return
	}
	if s.backend == nil || s.backend.AutoHandlesExpiry() {
		for _, id := range dead {
			s.filter.remove(id)
		}
	}
}

// sweepDurable asks the backend to delete its expired rows and reconciles
// the membership filter for backends that do not self-expire.
func (s *Store) sweepDurable(ctx context.Context) {
	if s.backend == nil {
		return
	}
	ids, err := s.backend.DeleteByExpiry(ctx, s.cfg.Database.TableName)
	if err != nil {
		slog.Error("gosession: durable expiry sweep failed", "error", err)
		return
	}
	if s.filter == nil || s.backend.AutoHandlesExpiry() {
		return
	}
	for _, id := range ids {
		s.filter.remove(id)
	}
}

// maybeSweep runs the periodic sweeps if due, per Middleware Service step 6.
func (s *Store) maybeSweep(ctx context.Context, now time.Time) {
	if s.dueMemorySweep(now) {
		s.sweepMemory(now)
	}
	if s.dueDurableSweep(now) {
		s.sweepDurable(ctx)
	}
}
