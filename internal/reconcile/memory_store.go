package reconcile

import (
	"context"
	"sync"
	"time"
)

type processedEvent struct {
	eventType   string
	processedAt time.Time
}

// MemoryEventStore is an in-memory EventStore for development and tests.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]processedEvent
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]processedEvent)}
}

func (s *MemoryEventStore) Exists(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *MemoryEventStore) MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = processedEvent{eventType: eventType, processedAt: at}
	return nil
}

func (s *MemoryEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, ev := range s.events {
		if ev.processedAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}
