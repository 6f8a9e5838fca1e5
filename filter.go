package gosession

import (
	"sync"

	boom "github.com/tylertreat/BoomFilters"
)

// membershipFilter wraps a counting Bloom filter sized from
// config.Memory.{FilterExpectedElements, FilterFalsePositiveProbability},
// guarded by a single RWMutex per the design's "one lock per filter, write
// holders touch it only briefly, and it is always dropped before any
// backend call" rule.
type membershipFilter struct {
	mu sync.RWMutex
	f  *boom.CountingBloomFilter
}

func newMembershipFilter(expectedElements uint, falsePositiveProbability float64) *membershipFilter {
	return &membershipFilter{
		f: boom.NewCountingBloomFilter(expectedElements, 4, falsePositiveProbability),
	}
}

// contains reports whether id may have been generated before. False
// positives are possible by construction; false negatives are not.
func (m *membershipFilter) contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.f.Test([]byte(id))
}

// add records id as known.
func (m *membershipFilter) add(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.f.Add([]byte(id))
}

// remove un-records id, per the reconciliation rule in the design: called
// on live-set eviction only when the backend is absent or auto-expires,
// and otherwise only from the durable sweep that returns expired ids.
func (m *membershipFilter) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.f.TestAndRemove([]byte(id))
}
