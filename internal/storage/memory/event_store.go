package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// EventStore keeps the append-only run event log in memory.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]ingest.RunEvent
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string][]ingest.RunEvent),
	}
}

// AppendEvent appends one event to a run's log.
func (s *EventStore) AppendEvent(_ context.Context, event ingest.RunEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(event.CustomerID, event.RunID)
	s.events[key] = append(s.events[key], event)
	return nil
}

// ListEvents returns a run's events in append order.
func (s *EventStore) ListEvents(_ context.Context, customerID, runID string) ([]ingest.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[runKey(customerID, runID)]
	out := make([]ingest.RunEvent, len(events))
	copy(out, events)
	return out, nil
}
