package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "saga:events:"

// RedisBus bridges saga progress events across nodes via Redis
// pub/sub: one channel per saga id.
type RedisBus struct {
	client        redis.UniversalClient
	channelPrefix string
	bufferSize    int

	mu          sync.Mutex
	subscribers map[*busSubscription]struct{}
	closed      bool
}

type busSubscription struct {
	pubsub *redis.PubSub
	ch     chan Event
	cancel context.CancelFunc
}

// NewRedisBus creates a Redis-backed stream bus.
func NewRedisBus(client redis.UniversalClient, channelPrefix string, bufferSize int) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = defaultChannelPrefix
	}
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &RedisBus{
		client:        client,
		channelPrefix: channelPrefix,
		bufferSize:    bufferSize,
		subscribers:   make(map[*busSubscription]struct{}),
	}
}

// Publish sends one stream event to the saga's channel.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	if event.SagaID == "" {
		return fmt.Errorf("stream event saga_id cannot be empty")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("stream bus is closed")
	}
	b.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	return b.client.Publish(ctx, b.channelPrefix+event.SagaID, data).Err()
}

// Subscribe opens a channel receiving stream events for one saga from
// any node. The returned cancel function closes the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, sagaID string) (<-chan Event, func(), error) {
	if sagaID == "" {
		return nil, nil, fmt.Errorf("saga_id cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, fmt.Errorf("stream bus is closed")
	}

	pubsub := b.client.Subscribe(ctx, b.channelPrefix+sagaID)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &busSubscription{
		pubsub: pubsub,
		ch:     make(chan Event, b.bufferSize),
		cancel: cancel,
	}
	b.subscribers[sub] = struct{}{}

	go b.forwardMessages(subCtx, sub)

	release := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(sub)
	}
	return sub.ch, release, nil
}

func (b *RedisBus) forwardMessages(ctx context.Context, sub *busSubscription) {
	defer func() { _ = sub.pubsub.Close() }()

	redisCh := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case sub.ch <- event:
			default:
				// Drop oldest, then retry once so laggards see fresh events.
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- event:
				default:
				}
			}
		}
	}
}

// remove must be called with b.mu held.
func (b *RedisBus) remove(sub *busSubscription) {
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	sub.cancel()
	close(sub.ch)
	delete(b.subscribers, sub)
}

// Close shuts down all subscriptions and the bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		b.remove(sub)
	}
	return nil
}

// Healthy checks whether the Redis connection is alive.
func (b *RedisBus) Healthy() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()
	return b.client.Ping(context.Background()).Err() == nil
}
