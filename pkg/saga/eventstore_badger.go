package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	eventKeyPrefix      = "saga:events:"
	eventSequencePrefix = "saga:eventseq:"
	eventTypeIdxPrefix  = "saga:eventidx:type:"
)

// BadgerEventStore implements EventStore on top of Badger. The per-saga
// sequence counter and the event record are written in one transaction,
// so assigned sequences are gapless even across restarts.
type BadgerEventStore struct {
	db     *badger.DB
	ownsDB bool
	now    func() time.Time
}

// OpenBadgerEventStore opens a dedicated Badger DB for event storage.
func OpenBadgerEventStore(path string) (*BadgerEventStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger event store: %w", err)
	}
	store, err := NewBadgerEventStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewBadgerEventStore creates an event store over an existing Badger DB.
func NewBadgerEventStore(db *badger.DB) (*BadgerEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerEventStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Append appends one event, assigning the next per-saga sequence.
func (s *BadgerEventStore) Append(ctx context.Context, input AppendInput) (Event, error) {
	if err := input.validate(); err != nil {
		return Event{}, err
	}

	event := Event{
		ID:        uuid.NewString(),
		SagaID:    input.SagaID,
		Type:      input.Type,
		StepIndex: input.StepIndex,
		StepName:  input.StepName,
		Payload:   copyDataMap(input.Payload),
		Reason:    input.Reason,
		Timestamp: s.now(),
	}

	seqKey := []byte(eventSequenceKey(input.SagaID))
	err := s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := uint64(0)
		item, err := txn.Get(seqKey)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error {
				parsed, parseErr := strconv.ParseUint(string(v), 10, 64)
				if parseErr != nil {
					return parseErr
				}
				current = parsed
				return nil
			}); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
			current = 0
		default:
			return err
		}

		event.Sequence = current + 1
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		if err := txn.Set(seqKey, []byte(strconv.FormatUint(event.Sequence, 10))); err != nil {
			return err
		}
		if err := txn.Set([]byte(eventKey(event.SagaID, event.Sequence)), data); err != nil {
			return err
		}
		return txn.Set([]byte(eventTypeIdxKey(event.Type, event.SagaID, event.Sequence)), []byte{})
	})
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

// Events returns all events for a saga in sequence order.
func (s *BadgerEventStore) Events(ctx context.Context, sagaID string) ([]Event, error) {
	prefix := []byte(eventPrefixForSaga(sagaID))
	events := make([]Event, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var event Event
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &event)
			}); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// EventsByType returns all stored events of one type across sagas.
func (s *BadgerEventStore) EventsByType(ctx context.Context, eventType EventType) ([]Event, error) {
	prefix := []byte(eventTypeIdxPrefix + string(eventType) + ":")
	events := make([]Event, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			sagaID, sequence, err := parseEventTypeIdxKey(string(it.Item().Key()), eventType)
			if err != nil {
				continue
			}
			item, err := txn.Get([]byte(eventKey(sagaID, sequence)))
			if err != nil {
				continue
			}
			var event Event
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &event)
			}); err != nil {
				continue
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// EventsAfter returns a saga's events with timestamp strictly after the
// given instant, in sequence order.
func (s *BadgerEventStore) EventsAfter(ctx context.Context, sagaID string, after time.Time) ([]Event, error) {
	events, err := s.Events(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	filtered := make([]Event, 0, len(events))
	for _, event := range events {
		if event.Timestamp.After(after) {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

// LatestSequence returns the highest assigned sequence, 0 when empty.
func (s *BadgerEventStore) LatestSequence(ctx context.Context, sagaID string) (uint64, error) {
	var latest uint64
	err := s.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get([]byte(eventSequenceKey(sagaID)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			parsed, parseErr := strconv.ParseUint(string(v), 10, 64)
			if parseErr != nil {
				return parseErr
			}
			latest = parsed
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return latest, nil
}

// Close closes the underlying db when owned.
func (s *BadgerEventStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func eventPrefixForSaga(sagaID string) string {
	return eventKeyPrefix + sagaID + ":"
}

func eventSequenceKey(sagaID string) string {
	return eventSequencePrefix + sagaID
}

func eventKey(sagaID string, sequence uint64) string {
	return fmt.Sprintf("%s%s:%020d", eventKeyPrefix, sagaID, sequence)
}

func eventTypeIdxKey(eventType EventType, sagaID string, sequence uint64) string {
	return fmt.Sprintf("%s%s:%s:%020d", eventTypeIdxPrefix, eventType, sagaID, sequence)
}

func parseEventTypeIdxKey(key string, eventType EventType) (string, uint64, error) {
	rest := strings.TrimPrefix(key, eventTypeIdxPrefix+string(eventType)+":")
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", 0, fmt.Errorf("invalid event type index key: %s", key)
	}
	sequence, err := strconv.ParseUint(rest[idx+1:], 10, 64)
	if err != nil {
		return "", 0, err
	}
	return rest[:idx], sequence, nil
}
