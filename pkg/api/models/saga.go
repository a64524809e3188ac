// Package models defines API request and response payloads.
package models

import "time"

// SagaStartRequest describes a saga start submission payload.
type SagaStartRequest struct {
	SagaType string         `json:"saga_type" validate:"required,min=1,max=100"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// SagaStartResponse is returned when a saga is accepted.
type SagaStartResponse struct {
	SagaID    string    `json:"saga_id"`
	SagaType  string    `json:"saga_type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SagaStatusResponse returns the current snapshot of one saga.
type SagaStatusResponse struct {
	SagaID               string         `json:"saga_id"`
	SagaType             string         `json:"saga_type"`
	Status               string         `json:"status"`
	CurrentStepIndex     int            `json:"current_step_index"`
	CurrentStepName      string         `json:"current_step_name,omitempty"`
	SagaData             map[string]any `json:"saga_data,omitempty"`
	FailedStepIndex      *int           `json:"failed_step_index,omitempty"`
	FailureReason        string         `json:"failure_reason,omitempty"`
	CompensationAttempts int            `json:"compensation_attempts,omitempty"`
	Version              uint64         `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// SagaSummary is one row in the list response.
type SagaSummary struct {
	SagaID      string     `json:"saga_id"`
	SagaType    string     `json:"saga_type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SagaListResponse is a paginated list of saga summaries.
type SagaListResponse struct {
	Items  []SagaSummary `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// SagaEventView is one event in a saga's history.
type SagaEventView struct {
	ID        string         `json:"id"`
	Sequence  uint64         `json:"sequence"`
	Type      string         `json:"type"`
	StepIndex int            `json:"step_index"`
	StepName  string         `json:"step_name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SagaEventsResponse lists the event history for one saga.
type SagaEventsResponse struct {
	SagaID string          `json:"saga_id"`
	Events []SagaEventView `json:"events"`
	Total  int             `json:"total"`
}

// SagaTypesResponse lists the registered saga definitions.
type SagaTypesResponse struct {
	Types []SagaTypeView `json:"types"`
}

// SagaTypeView describes one registered saga definition.
type SagaTypeView struct {
	SagaType      string             `json:"saga_type"`
	ResponseTopic string             `json:"response_topic"`
	Steps         []SagaTypeStepView `json:"steps"`
}

// SagaTypeStepView describes one step of a registered definition.
type SagaTypeStepView struct {
	Name              string `json:"name"`
	Index             int    `json:"index"`
	CommandTopic      string `json:"command_topic"`
	HasCompensation   bool   `json:"has_compensation"`
	CompensationTopic string `json:"compensation_topic,omitempty"`
	TimeoutMS         int64  `json:"timeout_ms"`
}
