package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSagaNotFound is returned when a saga state cannot be located.
var ErrSagaNotFound = errors.New("saga state not found")

// ErrSagaExists is returned when creating a saga id that already exists.
var ErrSagaExists = errors.New("saga state already exists")

// ErrVersionConflict is returned when a Save carries a stale version.
var ErrVersionConflict = errors.New("saga state version conflict")

// StateStore persists saga state snapshots with optimistic concurrency.
// Save succeeds only when expectedVersion matches the stored version,
// and increments the version on success.
type StateStore interface {
	Create(ctx context.Context, state *SagaState) error
	Get(ctx context.Context, sagaID string) (*SagaState, error)
	Save(ctx context.Context, state *SagaState, expectedVersion uint64) error
	FindByStatus(ctx context.Context, statuses ...SagaStatus) ([]*SagaState, error)
}

// MemoryStateStore is an in-memory StateStore for tests and local runs.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*SagaState
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*SagaState)}
}

// Create stores the initial snapshot at version 1.
func (s *MemoryStateStore) Create(ctx context.Context, state *SagaState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("saga state id cannot be empty")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[state.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSagaExists, state.ID)
	}
	state.Version = 1
	s.states[state.ID] = cloneState(state)
	return nil
}

// Get loads one saga state by id.
func (s *MemoryStateStore) Get(ctx context.Context, sagaID string) (*SagaState, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sagaID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
	}
	return cloneState(state), nil
}

// Save replaces the snapshot when expectedVersion matches.
func (s *MemoryStateStore) Save(ctx context.Context, state *SagaState, expectedVersion uint64) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("saga state id cannot be empty")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[state.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSagaNotFound, state.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: saga %s expected version %d, have %d",
			ErrVersionConflict, state.ID, expectedVersion, current.Version)
	}
	state.Version = expectedVersion + 1
	state.UpdatedAt = time.Now().UTC()
	s.states[state.ID] = cloneState(state)
	return nil
}

// FindByStatus returns all snapshots whose status matches any of the
// given statuses.
func (s *MemoryStateStore) FindByStatus(ctx context.Context, statuses ...SagaStatus) ([]*SagaState, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	wanted := make(map[SagaStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*SagaState, 0)
	for _, state := range s.states {
		if _, ok := wanted[state.Status]; ok {
			matched = append(matched, cloneState(state))
		}
	}
	return matched, nil
}
