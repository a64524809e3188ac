package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	stateKeyPrefix         = "saga:state:"
	stateIndexStatusPrefix = "saga:index:status:"
)

// BadgerStateStore implements StateStore on top of Badger. The version
// check, snapshot write and status index maintenance happen in one
// transaction.
type BadgerStateStore struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadgerStateStore opens a dedicated Badger DB for state storage.
func OpenBadgerStateStore(path string) (*BadgerStateStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger state store: %w", err)
	}
	store, err := NewBadgerStateStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewBadgerStateStore creates a state store over an existing Badger DB.
func NewBadgerStateStore(db *badger.DB) (*BadgerStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerStateStore{db: db}, nil
}

// Create stores the initial snapshot at version 1.
func (s *BadgerStateStore) Create(ctx context.Context, state *SagaState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("saga state id cannot be empty")
	}

	key := []byte(stateKey(state.ID))
	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", ErrSagaExists, state.ID)
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		state.Version = 1
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(statusIndexKey(state.Status, state.ID)), []byte{})
	})
}

// Get loads one saga state by id.
func (s *BadgerStateStore) Get(ctx context.Context, sagaID string) (*SagaState, error) {
	var state SagaState
	err := s.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get([]byte(stateKey(sagaID)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &state) })
	})
	if err != nil {
		return nil, err
	}
	return cloneState(&state), nil
}

// Save replaces the snapshot when expectedVersion matches the stored
// version, bumping version and the status index.
func (s *BadgerStateStore) Save(ctx context.Context, state *SagaState, expectedVersion uint64) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("saga state id cannot be empty")
	}

	key := []byte(stateKey(state.ID))
	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", ErrSagaNotFound, state.ID)
			}
			return err
		}

		var stored SagaState
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &stored) }); err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return fmt.Errorf("%w: saga %s expected version %d, have %d",
				ErrVersionConflict, state.ID, expectedVersion, stored.Version)
		}

		state.Version = expectedVersion + 1
		state.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set([]byte(statusIndexKey(state.Status, state.ID)), []byte{}); err != nil {
			return err
		}
		if stored.Status != state.Status {
			_ = txn.Delete([]byte(statusIndexKey(stored.Status, state.ID)))
		}
		return nil
	})
}

// FindByStatus returns all snapshots whose status matches any of the
// given statuses, via the status index.
func (s *BadgerStateStore) FindByStatus(ctx context.Context, statuses ...SagaStatus) ([]*SagaState, error) {
	matched := make([]*SagaState, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		for _, status := range statuses {
			prefix := []byte(statusIndexPrefix(status))
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)

			for it.Rewind(); it.Valid(); it.Next() {
				select {
				case <-ctx.Done():
					it.Close()
					return ctx.Err()
				default:
				}

				sagaID := strings.TrimPrefix(string(it.Item().Key()), statusIndexPrefix(status))
				state, err := s.getInTxn(txn, sagaID)
				if err != nil {
					continue
				}
				matched = append(matched, state)
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// Close closes the underlying db when owned.
func (s *BadgerStateStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerStateStore) getInTxn(txn *badger.Txn, sagaID string) (*SagaState, error) {
	item, err := txn.Get([]byte(stateKey(sagaID)))
	if err != nil {
		return nil, err
	}
	var state SagaState
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &state) }); err != nil {
		return nil, err
	}
	return &state, nil
}

func stateKey(sagaID string) string {
	return stateKeyPrefix + sagaID
}

func statusIndexPrefix(status SagaStatus) string {
	return stateIndexStatusPrefix + string(status) + ":"
}

func statusIndexKey(status SagaStatus, sagaID string) string {
	return statusIndexPrefix(status) + sagaID
}
