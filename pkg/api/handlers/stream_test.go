package handlers

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagaflow/sagaflow/pkg/saga"
	"github.com/sagaflow/sagaflow/pkg/stream"
)

type streamTestHarness struct {
	saga        *sagaTestHarness
	broadcaster *stream.Broadcaster
	router      chi.Router
}

func newStreamTestHarness(t *testing.T) *streamTestHarness {
	t.Helper()

	base := newSagaTestHarness(t)
	broadcaster := stream.NewBroadcaster()
	handler := NewStreamHandler(base.handler.states, base.handler.events, broadcaster, nil, testWSLogger())

	router := chi.NewRouter()
	router.Get("/api/v1/sagas/{id}/stream", handler.StreamSaga)

	return &streamTestHarness{
		saga:        base,
		broadcaster: broadcaster,
		router:      router,
	}
}

func TestStreamSagaNotFound(t *testing.T) {
	h := newStreamTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/missing/stream", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStreamSagaReplaysTerminalHistory(t *testing.T) {
	h := newStreamTestHarness(t)

	sagaID := h.saga.start(t)
	h.saga.respond(t, sagaID, 0, "reserve-stock", true)
	h.saga.respond(t, sagaID, 1, "charge-payment", true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/"+sagaID+"/stream", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"event: SAGA_STARTED",
		"event: SAGA_STEP_COMPLETED",
		"event: SAGA_COMPLETED",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("replay missing %q in body:\n%s", want, body)
		}
	}

	// Terminal saga: the handler returned after replay, so the
	// broadcaster holds no leftover subscription.
	if count := h.broadcaster.SubscriberCount(); count != 0 {
		t.Fatalf("subscriber count after replay = %d, want 0", count)
	}
}

func TestStreamSagaForwardsLiveEvents(t *testing.T) {
	h := newStreamTestHarness(t)

	sagaID := h.saga.start(t)

	server := httptest.NewServer(h.router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/sagas/" + sagaID + "/stream")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// Wait until the handler has subscribed before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for h.broadcaster.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.broadcaster.Publish(stream.Event{
		SagaID:    sagaID,
		SagaType:  "ORDER_CREATE",
		Status:    saga.StatusCompleted,
		EventType: saga.EventSagaCompleted,
		Sequence:  10,
		Timestamp: time.Now().UTC(),
	})

	// The terminal event closes the stream, so reading to EOF is safe.
	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	body := strings.Join(lines, "\n")
	if !strings.Contains(body, "event: SAGA_STARTED") {
		t.Fatalf("expected replayed history in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: SAGA_COMPLETED") {
		t.Fatalf("expected live terminal event in stream:\n%s", body)
	}
}
