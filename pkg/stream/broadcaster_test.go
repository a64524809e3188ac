package stream

import (
	"context"
	"testing"
	"time"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

func TestBroadcasterFiltersBySagaID(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	all := b.Subscribe("", 4)
	only1 := b.Subscribe("saga-1", 4)

	b.Publish(Event{SagaID: "saga-1", EventType: saga.EventSagaStarted})
	b.Publish(Event{SagaID: "saga-2", EventType: saga.EventSagaStarted})

	if got := len(all); got != 2 {
		t.Fatalf("wildcard subscriber received %d events, want 2", got)
	}
	if got := len(only1); got != 1 {
		t.Fatalf("filtered subscriber received %d events, want 1", got)
	}
	event := <-only1
	if event.SagaID != "saga-1" {
		t.Fatalf("filtered subscriber saw saga %s", event.SagaID)
	}
}

func TestBroadcasterDropsOnOverflow(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch := b.Subscribe("saga-1", 2)
	for i := 0; i < 5; i++ {
		b.Publish(Event{SagaID: "saga-1", Sequence: uint64(i + 1)})
	}

	if got := len(ch); got != 2 {
		t.Fatalf("buffered %d events, want 2 (rest dropped)", got)
	}
	first := <-ch
	if first.Sequence != 1 {
		t.Fatalf("first buffered sequence = %d, want 1", first.Sequence)
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch := b.Subscribe("saga-1", 1)
	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d", b.SubscriberCount())
	}

	b.Unsubscribe(ch)
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() after unsubscribe = %d", b.SubscriberCount())
	}
	if _, open := <-ch; open {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{SagaID: "saga-1"})
}

func TestNotifierForwardsToBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()
	n := NewNotifier(b, nil, nil)
	defer n.Close()

	ch := b.Subscribe("saga-1", 4)
	state := saga.NewSagaState("saga-1", "ORDER_CREATE", nil)
	n.Notify(context.Background(), state, saga.Event{
		SagaID:   "saga-1",
		Type:     saga.EventSagaStarted,
		Sequence: 1,
	})

	select {
	case event := <-ch:
		if event.SagaType != "ORDER_CREATE" || event.EventType != saga.EventSagaStarted {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Status != saga.StatusStarted {
			t.Fatalf("status = %s", event.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("notifier did not forward event")
	}
}
