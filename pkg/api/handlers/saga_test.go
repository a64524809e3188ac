package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagaflow/sagaflow/pkg/api/models"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

type stubDispatcher struct {
	mu       sync.Mutex
	commands []saga.Command
}

func (d *stubDispatcher) Dispatch(ctx context.Context, topic string, command saga.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, command)
	return nil
}

type sagaTestHarness struct {
	handler      *SagaHandler
	orchestrator *saga.Orchestrator
	router       chi.Router
}

func newSagaTestHarness(t *testing.T) *sagaTestHarness {
	t.Helper()

	def, err := saga.NewDefinition("ORDER_CREATE").
		Step("reserve-stock", "stock.commands").
		Step("charge-payment", "payment.commands").
		ResponseTopic("saga.responses").
		Build()
	if err != nil {
		t.Fatalf("build definition: %v", err)
	}
	registry, err := saga.NewRegistry(def)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	events := saga.NewMemoryEventStore()
	states := saga.NewMemoryStateStore()
	orchestrator, err := saga.NewOrchestrator(registry, events, states, &stubDispatcher{})
	if err != nil {
		t.Fatalf("build orchestrator: %v", err)
	}

	handler := NewSagaHandler(orchestrator, states, events, registry, testWSLogger())

	router := chi.NewRouter()
	router.Post("/api/v1/sagas", handler.StartSaga)
	router.Get("/api/v1/sagas", handler.ListSagas)
	router.Get("/api/v1/sagas/{id}", handler.GetSaga)
	router.Get("/api/v1/sagas/{id}/events", handler.GetSagaEvents)
	router.Get("/api/v1/saga-types", handler.ListSagaTypes)

	return &sagaTestHarness{
		handler:      handler,
		orchestrator: orchestrator,
		router:       router,
	}
}

func (h *sagaTestHarness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *sagaTestHarness) start(t *testing.T) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/sagas", models.SagaStartRequest{
		SagaType: "ORDER_CREATE",
		Payload:  map[string]any{"orderId": "order-1"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.SagaStartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if resp.SagaID == "" {
		t.Fatal("expected non-empty saga id")
	}
	return resp.SagaID
}

func (h *sagaTestHarness) respond(t *testing.T, sagaID string, stepIndex int, stepName string, success bool) {
	t.Helper()
	err := h.orchestrator.HandleResponse(context.Background(), saga.ResponseEvent{
		SagaID:    sagaID,
		StepIndex: stepIndex,
		StepName:  stepName,
		Success:   success,
	})
	if err != nil {
		t.Fatalf("HandleResponse(%s, %d) error = %v", sagaID, stepIndex, err)
	}
}

func TestStartSagaAccepted(t *testing.T) {
	h := newSagaTestHarness(t)

	sagaID := h.start(t)

	rec := h.do(t, http.MethodGet, "/api/v1/sagas/"+sagaID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var status models.SagaStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != string(saga.StatusInProgress) {
		t.Fatalf("status = %s, want IN_PROGRESS", status.Status)
	}
	if status.CurrentStepName != "reserve-stock" {
		t.Fatalf("current step = %s, want reserve-stock", status.CurrentStepName)
	}
}

func TestStartSagaUnknownType(t *testing.T) {
	h := newSagaTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/sagas", models.SagaStartRequest{
		SagaType: "UNKNOWN_TYPE",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStartSagaInvalidBody(t *testing.T) {
	h := newSagaTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sagas", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/sagas", models.SagaStartRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing saga_type", rec.Code)
	}
}

func TestGetSagaNotFound(t *testing.T) {
	h := newSagaTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/sagas/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListSagasFiltersByStatus(t *testing.T) {
	h := newSagaTestHarness(t)

	completed := h.start(t)
	h.start(t)

	h.respond(t, completed, 0, "reserve-stock", true)
	h.respond(t, completed, 1, "charge-payment", true)

	rec := h.do(t, http.MethodGet, "/api/v1/sagas?status=COMPLETED", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list models.SagaListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("total = %d, items = %d, want 1 completed saga", list.Total, len(list.Items))
	}
	if list.Items[0].SagaID != completed {
		t.Fatalf("listed saga = %s, want %s", list.Items[0].SagaID, completed)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sagas", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 2 {
		t.Fatalf("unfiltered total = %d, want 2", list.Total)
	}
}

func TestListSagasRejectsUnknownStatus(t *testing.T) {
	h := newSagaTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/sagas?status=BOGUS", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListSagasPagination(t *testing.T) {
	h := newSagaTestHarness(t)

	for i := 0; i < 3; i++ {
		h.start(t)
	}

	rec := h.do(t, http.MethodGet, "/api/v1/sagas?limit=2", nil)
	var list models.SagaListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 3 || len(list.Items) != 2 {
		t.Fatalf("total = %d, items = %d, want 3/2", list.Total, len(list.Items))
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sagas?limit=2&offset=2", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("second page items = %d, want 1", len(list.Items))
	}
}

func TestGetSagaEvents(t *testing.T) {
	h := newSagaTestHarness(t)

	sagaID := h.start(t)
	h.respond(t, sagaID, 0, "reserve-stock", true)

	rec := h.do(t, http.MethodGet, "/api/v1/sagas/"+sagaID+"/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var resp models.SagaEventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if resp.Total < 3 {
		t.Fatalf("expected at least 3 events, got %d", resp.Total)
	}
	for i, event := range resp.Events {
		if event.Sequence != uint64(i+1) {
			t.Fatalf("event %d sequence = %d, want %d", i, event.Sequence, i+1)
		}
	}

	// after filter drops everything at or before the given timestamp
	last := resp.Events[len(resp.Events)-1].Timestamp
	rec = h.do(t, http.MethodGet, "/api/v1/sagas/"+sagaID+"/events?after="+url.QueryEscape(last.Format(time.RFC3339Nano)), nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(resp.Events) != 0 {
		t.Fatalf("expected no events after last timestamp, got %d", len(resp.Events))
	}

	early := url.QueryEscape(time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano))
	rec = h.do(t, http.MethodGet, "/api/v1/sagas/"+sagaID+"/events?after="+early, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if resp.Total < 3 {
		t.Fatalf("expected full history after early timestamp, got %d", resp.Total)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sagas/"+sagaID+"/events?after=notatime", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad after filter status = %d, want 400", rec.Code)
	}

	// type filter narrows to one event type
	rec = h.do(t, http.MethodGet, "/api/v1/sagas/"+sagaID+"/events?type=SAGA_STEP_COMPLETED", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	for _, event := range resp.Events {
		if event.Type != "SAGA_STEP_COMPLETED" {
			t.Fatalf("filtered event type = %s", event.Type)
		}
	}
	if len(resp.Events) != 1 {
		t.Fatalf("filtered events = %d, want 1", len(resp.Events))
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sagas/"+sagaID+"/events?type=BOGUS", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus type filter status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sagas/missing/events", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing saga events status = %d, want 404", rec.Code)
	}
}

func TestListSagaTypes(t *testing.T) {
	h := newSagaTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/saga-types", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp models.SagaTypesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode types: %v", err)
	}
	if len(resp.Types) != 1 {
		t.Fatalf("types = %d, want 1", len(resp.Types))
	}
	got := resp.Types[0]
	if got.SagaType != "ORDER_CREATE" || got.ResponseTopic != "saga.responses" {
		t.Fatalf("unexpected type view: %+v", got)
	}
	if len(got.Steps) != 2 || got.Steps[1].Name != "charge-payment" {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
}
