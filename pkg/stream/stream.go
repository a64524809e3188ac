// Package stream provides best-effort fan-out of saga progress events
// to observers: an in-process broadcaster feeding SSE/websocket
// clients on this node, and a Redis pub/sub bridge so clients attached
// to other nodes see the same stream. Delivery is fire-and-forget and
// never blocks orchestration.
package stream

import (
	"context"
	"time"

	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

// Event is the observer-facing saga progress payload.
type Event struct {
	SagaID    string          `json:"saga_id"`
	SagaType  string          `json:"saga_type"`
	Status    saga.SagaStatus `json:"status"`
	EventType saga.EventType  `json:"event_type"`
	Sequence  uint64          `json:"sequence"`
	StepIndex int             `json:"step_index"`
	StepName  string          `json:"step_name,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FromSaga builds a stream event from a committed transition.
func FromSaga(state *saga.SagaState, event saga.Event) Event {
	return Event{
		SagaID:    state.ID,
		SagaType:  state.SagaType,
		Status:    state.Status,
		EventType: event.Type,
		Sequence:  event.Sequence,
		StepIndex: event.StepIndex,
		StepName:  event.StepName,
		Reason:    event.Reason,
		Timestamp: event.Timestamp,
	}
}

const notifierQueueSize = 256

// Notifier implements saga.Notifier: it pushes every committed
// transition to the local broadcaster and, when configured, to the
// Redis bus. A full queue drops events rather than stalling the
// orchestrator.
type Notifier struct {
	broadcaster *Broadcaster
	bus         *RedisBus
	log         logger.Logger
	queue       chan Event
	done        chan struct{}
}

// NewNotifier creates a notifier over the broadcaster and optional bus.
func NewNotifier(broadcaster *Broadcaster, bus *RedisBus, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.Global()
	}
	n := &Notifier{
		broadcaster: broadcaster,
		bus:         bus,
		log:         log,
		queue:       make(chan Event, notifierQueueSize),
		done:        make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify enqueues one saga transition for fan-out. Never blocks.
func (n *Notifier) Notify(ctx context.Context, state *saga.SagaState, event saga.Event) {
	streamEvent := FromSaga(state, event)
	select {
	case n.queue <- streamEvent:
	default:
		n.log.Warn("stream notifier queue full, dropping event",
			"saga_id", streamEvent.SagaID, "event_type", streamEvent.EventType)
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for event := range n.queue {
		if n.broadcaster != nil {
			n.broadcaster.Publish(event)
		}
		if n.bus != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := n.bus.Publish(ctx, event); err != nil {
				n.log.Warn("redis stream publish failed",
					"saga_id", event.SagaID, "event_type", event.EventType, "error", err)
			}
			cancel()
		}
	}
}

// Close drains the queue and stops the worker.
func (n *Notifier) Close() {
	close(n.queue)
	<-n.done
}
