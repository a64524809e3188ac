package saga

import (
	"fmt"
	"time"
)

// SagaState is the current-state snapshot for one saga execution.
// Version supports optimistic concurrency: every successful Save
// increments it, and a Save against a stale version is rejected.
type SagaState struct {
	ID                   string         `json:"id"`
	SagaType             string         `json:"saga_type"`
	Status               SagaStatus     `json:"status"`
	CurrentStepIndex     int            `json:"current_step_index"`
	CurrentStepName      string         `json:"current_step_name"`
	SagaData             map[string]any `json:"saga_data"`
	FailedStepIndex      int            `json:"failed_step_index"`
	FailureReason        string         `json:"failure_reason,omitempty"`
	CompensationAttempts int            `json:"compensation_attempts"`
	Version              uint64         `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// NewSagaState creates the initial snapshot for a new saga execution.
func NewSagaState(sagaID, sagaType string, data map[string]any) *SagaState {
	now := time.Now().UTC()
	if data == nil {
		data = make(map[string]any)
	}
	return &SagaState{
		ID:              sagaID,
		SagaType:        sagaType,
		Status:          StatusStarted,
		SagaData:        data,
		FailedStepIndex: -1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TransitionTo applies a status transition.
func (s *SagaState) TransitionTo(next SagaStatus, at time.Time) error {
	if s == nil {
		return fmt.Errorf("saga state cannot be nil")
	}
	if err := ValidateTransition(s.Status, next); err != nil {
		return err
	}
	s.Status = next
	s.UpdatedAt = at
	if next.IsTerminal() {
		done := at
		s.CompletedAt = &done
	}
	return nil
}

// MergeData merges a step response payload into the accumulated saga
// data. Later steps see the outputs of earlier ones.
func (s *SagaState) MergeData(payload map[string]any) {
	if s == nil || len(payload) == 0 {
		return
	}
	if s.SagaData == nil {
		s.SagaData = make(map[string]any, len(payload))
	}
	for key, value := range payload {
		s.SagaData[key] = value
	}
}

// SetFailure records the failed step and reason.
func (s *SagaState) SetFailure(stepIndex int, reason string) {
	if s == nil {
		return
	}
	s.FailedStepIndex = stepIndex
	s.FailureReason = reason
}

func cloneState(state *SagaState) *SagaState {
	if state == nil {
		return nil
	}
	clone := *state
	clone.SagaData = copyDataMap(state.SagaData)
	if state.CompletedAt != nil {
		done := *state.CompletedAt
		clone.CompletedAt = &done
	}
	return &clone
}

func copyDataMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	return out
}
