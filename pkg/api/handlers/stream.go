package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
	"github.com/sagaflow/sagaflow/pkg/stream"
)

const (
	streamBufferSize  = 64
	heartbeatInterval = 15 * time.Second
)

// StreamHandler serves per-saga progress streams over SSE. History is
// replayed from the event store first, then live events follow until
// the saga reaches a terminal status or the client disconnects.
type StreamHandler struct {
	states      saga.StateStore
	events      saga.EventStore
	broadcaster *stream.Broadcaster
	bus         *stream.RedisBus
	logger      logger.Logger
}

// NewStreamHandler creates a stream handler. The Redis bus is optional
// and adds events originating on other nodes.
func NewStreamHandler(
	states saga.StateStore,
	events saga.EventStore,
	broadcaster *stream.Broadcaster,
	bus *stream.RedisBus,
	log logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		states:      states,
		events:      events,
		broadcaster: broadcaster,
		bus:         bus,
		logger:      log,
	}
}

// StreamSaga handles GET /api/v1/sagas/{id}/stream.
func (h *StreamHandler) StreamSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "saga id is required", getRequestID(r.Context()))
		return
	}

	state, err := h.states.Get(r.Context(), sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "saga not found", getRequestID(r.Context()))
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), getRequestID(r.Context()))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "streaming unsupported", getRequestID(r.Context()))
		return
	}

	// Subscribe before replaying so no transition is lost in between.
	live := h.broadcaster.Subscribe(sagaID, streamBufferSize)
	defer h.broadcaster.Unsubscribe(live)

	var busCh <-chan stream.Event
	if h.bus != nil {
		ch, release, err := h.bus.Subscribe(r.Context(), sagaID)
		if err != nil {
			h.logger.Warn("redis stream subscribe failed", "saga_id", sagaID, "error", err)
		} else {
			busCh = ch
			defer release()
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	history, err := h.events.Events(r.Context(), sagaID)
	if err != nil {
		h.logger.Warn("saga history replay failed", "saga_id", sagaID, "error", err)
		return
	}

	var lastSeq uint64
	for _, event := range history {
		h.writeEvent(w, flusher, stream.Event{
			SagaID:    event.SagaID,
			SagaType:  state.SagaType,
			Status:    state.Status,
			EventType: event.Type,
			Sequence:  event.Sequence,
			StepIndex: event.StepIndex,
			StepName:  event.StepName,
			Reason:    event.Reason,
			Timestamp: event.Timestamp,
		})
		lastSeq = event.Sequence
	}

	if state.Status.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-live:
			if !open {
				return
			}
			if h.forward(w, flusher, event, &lastSeq) {
				return
			}
		case event, open := <-busCh:
			if !open {
				busCh = nil
				continue
			}
			if h.forward(w, flusher, event, &lastSeq) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// forward writes one live event, skipping duplicates already replayed.
// Returns true when the stream should close.
func (h *StreamHandler) forward(w http.ResponseWriter, flusher http.Flusher, event stream.Event, lastSeq *uint64) bool {
	if event.Sequence <= *lastSeq {
		return false
	}
	*lastSeq = event.Sequence
	h.writeEvent(w, flusher, event)
	return event.Status.IsTerminal()
}

func (h *StreamHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, event stream.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
