package meter

import (
	"sort"
	"sync"
)

// Publisher receives every new snapshot of a meter.
type Publisher interface {
	Publish(meterID string, snap Snapshot)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(meterID string, snap Snapshot)

// Publish calls f(meterID, snap).
func (f PublisherFunc) Publish(meterID string, snap Snapshot) {
	f(meterID, snap)
}

// Fanout publishes each snapshot to all publishers in order.
type Fanout []Publisher

// Publish forwards snap to every publisher.
func (fo Fanout) Publish(meterID string, snap Snapshot) {
	for _, p := range fo {
		p.Publish(meterID, snap)
	}
}

// Store keeps the latest snapshot per meter. It is safe for concurrent use
// by any number of pipelines and readers.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	published map[string]uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[string]Snapshot),
		published: make(map[string]uint64),
	}
}

// Publish replaces the snapshot of meterID as a whole. The stored value is
// a private copy, so later changes to snap are not visible to readers.
func (s *Store) Publish(meterID string, snap Snapshot) {
	stored := snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[meterID] = stored
	s.published[meterID]++
}

// Current returns the latest snapshot of meterID. The returned maps must be
// treated as read-only.
func (s *Store) Current(meterID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[meterID]
	return snap, ok
}

// Count returns how many snapshots were published for meterID.
func (s *Store) Count(meterID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published[meterID]
}

// Meters returns the IDs of all meters with a snapshot, sorted.
func (s *Store) Meters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
