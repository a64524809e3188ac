package saga

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType identifies one saga state-change event.
type EventType string

const (
	EventSagaStarted           EventType = "SAGA_STARTED"
	EventStepStarted           EventType = "SAGA_STEP_STARTED"
	EventStepCompleted         EventType = "SAGA_STEP_COMPLETED"
	EventStepFailed            EventType = "SAGA_STEP_FAILED"
	EventStepCompensated       EventType = "SAGA_STEP_COMPENSATED"
	EventCompensating          EventType = "SAGA_COMPENSATING"
	EventCompensationCompleted EventType = "SAGA_COMPENSATION_COMPLETED"
	EventCompensationFailed    EventType = "SAGA_COMPENSATION_FAILED"
	EventSagaCompleted         EventType = "SAGA_COMPLETED"
	EventSagaFailed            EventType = "SAGA_FAILED"
	EventTimeoutRetry          EventType = "SAGA_TIMEOUT_RETRY"
)

// Valid reports whether t is a defined event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSagaStarted, EventStepStarted, EventStepCompleted,
		EventStepFailed, EventStepCompensated, EventCompensating,
		EventCompensationCompleted, EventCompensationFailed,
		EventSagaCompleted, EventSagaFailed, EventTimeoutRetry:
		return true
	default:
		return false
	}
}

// Event is one immutable record in the append-only event store.
// Sequence numbers are per saga, gapless, starting at 1.
type Event struct {
	ID        string         `json:"id"`
	SagaID    string         `json:"saga_id"`
	Sequence  uint64         `json:"sequence"`
	Type      EventType      `json:"type"`
	StepIndex int            `json:"step_index"`
	StepName  string         `json:"step_name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AppendInput describes an event to append; the store assigns ID,
// sequence and timestamp.
type AppendInput struct {
	SagaID    string
	Type      EventType
	StepIndex int
	StepName  string
	Payload   map[string]any
	Reason    string
}

func (in AppendInput) validate() error {
	if in.SagaID == "" {
		return fmt.Errorf("event saga_id cannot be empty")
	}
	if !in.Type.Valid() {
		return fmt.Errorf("unknown event type: %q", in.Type)
	}
	return nil
}

// ResponseEvent is one step response consumed from the shared response
// topic: a participant reporting the outcome of a command or a
// compensation command.
type ResponseEvent struct {
	SagaID       string
	StepIndex    int
	StepName     string
	Success      bool
	Compensation bool
	Reason       string
	Payload      map[string]any
	Timestamp    time.Time
}

type wireResponse struct {
	SagaID       string         `json:"sagaId"`
	StepIndex    *int           `json:"stepIndex"`
	StepName     string         `json:"stepName"`
	Success      *bool          `json:"success"`
	Compensation bool           `json:"compensation"`
	Reason       string         `json:"reason,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// DecodeResponse decodes one wire response, failing closed: sagaId,
// stepIndex, stepName and success are all mandatory. A message that
// does not identify its saga, step and outcome is dropped by the
// caller rather than guessed at.
func DecodeResponse(data []byte) (ResponseEvent, error) {
	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return ResponseEvent{}, fmt.Errorf("decode response: %w", err)
	}

	if strings.TrimSpace(wire.SagaID) == "" {
		return ResponseEvent{}, fmt.Errorf("decode response: missing sagaId")
	}
	if wire.StepIndex == nil {
		return ResponseEvent{}, fmt.Errorf("decode response: missing stepIndex")
	}
	if *wire.StepIndex < 0 {
		return ResponseEvent{}, fmt.Errorf("decode response: negative stepIndex %d", *wire.StepIndex)
	}
	if strings.TrimSpace(wire.StepName) == "" {
		return ResponseEvent{}, fmt.Errorf("decode response: missing stepName")
	}
	if wire.Success == nil {
		return ResponseEvent{}, fmt.Errorf("decode response: missing success")
	}

	return ResponseEvent{
		SagaID:       wire.SagaID,
		StepIndex:    *wire.StepIndex,
		StepName:     wire.StepName,
		Success:      *wire.Success,
		Compensation: wire.Compensation,
		Reason:       wire.Reason,
		Payload:      wire.Payload,
		Timestamp:    wire.Timestamp,
	}, nil
}

// Command is one outbound message to a step command topic or a
// compensation topic. Participants reply on ResponseTopic.
type Command struct {
	SagaID        string         `json:"sagaId"`
	SagaType      string         `json:"sagaType"`
	StepIndex     int            `json:"stepIndex"`
	StepName      string         `json:"stepName"`
	Compensation  bool           `json:"compensation"`
	ResponseTopic string         `json:"responseTopic"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Encode serializes the command for the wire.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return data, nil
}
