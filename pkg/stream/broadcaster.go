package stream

import "sync"

const defaultSubscriberBuffer = 16

type subscriber struct {
	sagaID string // "" receives every saga
	ch     chan Event
}

// Broadcaster fans saga progress events out to in-process subscribers.
// Slow subscribers lose events instead of blocking the publisher.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber for one saga id, or all sagas when
// sagaID is empty. The returned channel is closed on Unsubscribe.
func (b *Broadcaster) Subscribe(sagaID string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscriber{sagaID: sagaID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subscribers[sub] = struct{}{}
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if sub.ch == ch {
			delete(b.subscribers, sub)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers an event to all matching subscribers, dropping on
// overflow to keep the publisher non-blocking.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		if sub.sagaID == "" || sub.sagaID == event.SagaID {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}
