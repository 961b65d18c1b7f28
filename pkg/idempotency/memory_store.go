package idempotency

import (
	"context"
	"sync"
)

// MemoryStore is an in-process MarkerStore for tests and single-node use.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[markerKey]Marker
}

type markerKey struct {
	subscriber string
	traceID    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[markerKey]Marker)}
}

// Insert implements MarkerStore.
func (s *MemoryStore) Insert(ctx context.Context, m Marker) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := markerKey{m.SubscriberName, m.TraceID}
	if _, exists := s.markers[key]; exists {
		return false, nil
	}
	s.markers[key] = m
	return true, nil
}

// Delete implements MarkerStore.
func (s *MemoryStore) Delete(ctx context.Context, subscriberName, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, markerKey{subscriberName, traceID})
	return nil
}

// Has reports whether a marker exists. Test helper.
func (s *MemoryStore) Has(subscriberName, traceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[markerKey{subscriberName, traceID}]
	return ok
}
