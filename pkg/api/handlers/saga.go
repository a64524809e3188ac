package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sagaflow/sagaflow/pkg/api/models"
	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// SagaHandler handles saga API endpoints.
type SagaHandler struct {
	orchestrator *saga.Orchestrator
	states       saga.StateStore
	events       saga.EventStore
	registry     *saga.Registry
	logger       logger.Logger
	validator    *validator.Validate
}

// NewSagaHandler creates a saga handler.
func NewSagaHandler(
	orchestrator *saga.Orchestrator,
	states saga.StateStore,
	events saga.EventStore,
	registry *saga.Registry,
	log logger.Logger,
) *SagaHandler {
	return &SagaHandler{
		orchestrator: orchestrator,
		states:       states,
		events:       events,
		registry:     registry,
		logger:       log,
		validator:    validator.New(),
	}
}

// StartSaga handles POST /api/v1/sagas.
func (h *SagaHandler) StartSaga(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator == nil {
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "saga orchestrator unavailable", getRequestID(r.Context()))
		return
	}

	var req models.SagaStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", getRequestID(r.Context()))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(r.Context()))
		return
	}

	state, err := h.orchestrator.Start(r.Context(), req.SagaType, req.Payload)
	if err != nil {
		if errors.Is(err, saga.ErrUnknownSagaType) {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(r.Context()))
			return
		}
		h.logger.Warn("saga start failed", "saga_type", req.SagaType, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), getRequestID(r.Context()))
		return
	}

	response.JSON(w, http.StatusAccepted, models.SagaStartResponse{
		SagaID:    state.ID,
		SagaType:  state.SagaType,
		Status:    string(state.Status),
		CreatedAt: state.CreatedAt,
	})
}

// GetSaga handles GET /api/v1/sagas/{id}.
func (h *SagaHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
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

	response.JSON(w, http.StatusOK, sagaStatusResponse(state))
}

// ListSagas handles GET /api/v1/sagas.
func (h *SagaHandler) ListSagas(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	statuses, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(r.Context()))
		return
	}

	states, err := h.states.FindByStatus(r.Context(), statuses...)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), getRequestID(r.Context()))
		return
	}

	// Newest first
	sort.Slice(states, func(i, j int) bool {
		return states[i].CreatedAt.After(states[j].CreatedAt)
	})

	total := len(states)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	items := make([]models.SagaSummary, 0, end-offset)
	for _, state := range states[offset:end] {
		items = append(items, models.SagaSummary{
			SagaID:      state.ID,
			SagaType:    state.SagaType,
			Status:      string(state.Status),
			CreatedAt:   state.CreatedAt,
			UpdatedAt:   state.UpdatedAt,
			CompletedAt: state.CompletedAt,
		})
	}

	response.JSON(w, http.StatusOK, models.SagaListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetSagaEvents handles GET /api/v1/sagas/{id}/events.
func (h *SagaHandler) GetSagaEvents(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "saga id is required", getRequestID(r.Context()))
		return
	}

	if _, err := h.states.Get(r.Context(), sagaID); err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "saga not found", getRequestID(r.Context()))
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), getRequestID(r.Context()))
		return
	}

	var events []saga.Event
	var err error
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, parseErr := time.Parse(time.RFC3339Nano, raw)
		if parseErr != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "after must be an RFC 3339 timestamp", getRequestID(r.Context()))
			return
		}
		events, err = h.events.EventsAfter(r.Context(), sagaID, after)
	} else {
		events, err = h.events.Events(r.Context(), sagaID)
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), getRequestID(r.Context()))
		return
	}

	if typeFilter := strings.TrimSpace(r.URL.Query().Get("type")); typeFilter != "" {
		eventType := saga.EventType(typeFilter)
		if !eventType.Valid() {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "unknown event type: "+typeFilter, getRequestID(r.Context()))
			return
		}
		filtered := events[:0]
		for _, event := range events {
			if event.Type == eventType {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}

	views := make([]models.SagaEventView, 0, len(events))
	for _, event := range events {
		views = append(views, models.SagaEventView{
			ID:        event.ID,
			Sequence:  event.Sequence,
			Type:      string(event.Type),
			StepIndex: event.StepIndex,
			StepName:  event.StepName,
			Payload:   event.Payload,
			Reason:    event.Reason,
			Timestamp: event.Timestamp,
		})
	}

	response.JSON(w, http.StatusOK, models.SagaEventsResponse{
		SagaID: sagaID,
		Events: views,
		Total:  len(views),
	})
}

// ListSagaTypes handles GET /api/v1/saga-types.
func (h *SagaHandler) ListSagaTypes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.Types()
	views := make([]models.SagaTypeView, 0, len(types))
	for _, sagaType := range types {
		def, err := h.registry.Get(sagaType)
		if err != nil {
			continue
		}
		steps := make([]models.SagaTypeStepView, 0, def.TotalSteps())
		for _, step := range def.Steps() {
			steps = append(steps, models.SagaTypeStepView{
				Name:              step.Name,
				Index:             step.Index,
				CommandTopic:      step.CommandTopic,
				HasCompensation:   step.HasCompensation,
				CompensationTopic: step.CompensationTopic,
				TimeoutMS:         step.Timeout.Milliseconds(),
			})
		}
		views = append(views, models.SagaTypeView{
			SagaType:      def.SagaType,
			ResponseTopic: def.ResponseTopic,
			Steps:         steps,
		})
	}
	response.JSON(w, http.StatusOK, models.SagaTypesResponse{Types: views})
}

func sagaStatusResponse(state *saga.SagaState) models.SagaStatusResponse {
	resp := models.SagaStatusResponse{
		SagaID:               state.ID,
		SagaType:             state.SagaType,
		Status:               string(state.Status),
		CurrentStepIndex:     state.CurrentStepIndex,
		CurrentStepName:      state.CurrentStepName,
		SagaData:             state.SagaData,
		FailureReason:        state.FailureReason,
		CompensationAttempts: state.CompensationAttempts,
		Version:              state.Version,
		CreatedAt:            state.CreatedAt,
		UpdatedAt:            state.UpdatedAt,
		CompletedAt:          state.CompletedAt,
	}
	if state.FailedStepIndex >= 0 {
		failed := state.FailedStepIndex
		resp.FailedStepIndex = &failed
	}
	return resp
}

func parseStatusFilter(raw string) ([]saga.SagaStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return saga.AllStatuses(), nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]saga.SagaStatus, 0, len(parts))
	for _, part := range parts {
		status := saga.SagaStatus(strings.ToUpper(strings.TrimSpace(part)))
		if !status.Valid() {
			return nil, errors.New("unknown saga status: " + string(status))
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
