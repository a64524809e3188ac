package saga

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventStore provides append-only persistence for saga events. Appends
// assign per-saga sequence numbers atomically: gapless, strictly
// increasing from 1. Stored events are never mutated or deleted.
type EventStore interface {
	Append(ctx context.Context, input AppendInput) (Event, error)
	Events(ctx context.Context, sagaID string) ([]Event, error)
	EventsByType(ctx context.Context, eventType EventType) ([]Event, error)
	EventsAfter(ctx context.Context, sagaID string, after time.Time) ([]Event, error)
	LatestSequence(ctx context.Context, sagaID string) (uint64, error)
}

// MemoryEventStore is an in-memory EventStore for tests and local runs.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]Event
	now    func() time.Time
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[string][]Event),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append appends one event, assigning the next per-saga sequence.
func (s *MemoryEventStore) Append(ctx context.Context, input AppendInput) (Event, error) {
	if err := input.validate(); err != nil {
		return Event{}, err
	}
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event := Event{
		ID:        uuid.NewString(),
		SagaID:    input.SagaID,
		Sequence:  uint64(len(s.events[input.SagaID])) + 1,
		Type:      input.Type,
		StepIndex: input.StepIndex,
		StepName:  input.StepName,
		Payload:   copyDataMap(input.Payload),
		Reason:    input.Reason,
		Timestamp: s.now(),
	}
	s.events[input.SagaID] = append(s.events[input.SagaID], event)
	return event, nil
}

// Events returns all events for a saga in sequence order.
func (s *MemoryEventStore) Events(ctx context.Context, sagaID string) ([]Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.events[sagaID]))
	copy(events, s.events[sagaID])
	return events, nil
}

// EventsByType returns all stored events of one type across sagas.
func (s *MemoryEventStore) EventsByType(ctx context.Context, eventType EventType) ([]Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]Event, 0)
	for _, events := range s.events {
		for _, event := range events {
			if event.Type == eventType {
				matched = append(matched, event)
			}
		}
	}
	return matched, nil
}

// EventsAfter returns a saga's events with timestamp strictly after the
// given instant, in sequence order.
func (s *MemoryEventStore) EventsAfter(ctx context.Context, sagaID string, after time.Time) ([]Event, error) {
	events, err := s.Events(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	filtered := events[:0:0]
	for _, event := range events {
		if event.Timestamp.After(after) {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

// LatestSequence returns the highest assigned sequence, 0 when empty.
func (s *MemoryEventStore) LatestSequence(ctx context.Context, sagaID string) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events[sagaID])), nil
}
